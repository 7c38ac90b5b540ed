package eventspace

import (
	"fmt"
	"sort"

	"github.com/iamwavecut/warden/internal/db"
	"github.com/iamwavecut/warden/internal/platform"
)

// Step is one pending platform operation. Key disambiguates resources of the
// same kind: the channel name, or "<channel>/<index>" for overwrites.
type Step struct {
	Kind platform.ResourceKind
	Key  string
}

func (s Step) String() string {
	if s.Key == "" {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s:%s", s.Kind, s.Key)
}

func overwriteKey(ow db.OverwriteSpec, idx int) string {
	return fmt.Sprintf("%s/%d", ow.Channel, idx)
}

// provisionSteps diffs desired against confirmed refs and returns the create
// operations still owed, in dependency order: category before channels before
// role before overwrites. Overwrites need both their channel and the role.
func provisionSteps(desired db.DesiredResources, refs db.ResourceRefs) []Step {
	var steps []Step
	if refs.CategoryID == "" {
		steps = append(steps, Step{Kind: platform.ResourceCategory})
	}
	for _, name := range desired.Channels {
		if _, ok := refs.ChannelID(name); !ok {
			steps = append(steps, Step{Kind: platform.ResourceChannel, Key: name})
		}
	}
	if desired.Role != "" && refs.RoleID == "" {
		steps = append(steps, Step{Kind: platform.ResourceRole})
	}
	for i, ow := range desired.Overwrites {
		key := overwriteKey(ow, i)
		if _, ok := refs.OverwriteID(key); !ok {
			steps = append(steps, Step{Kind: platform.ResourceOverwrite, Key: key})
		}
	}
	return steps
}

// teardownSteps is the reverse of creation order: overwrites, role, channels,
// category. Map iteration is randomized, so keys are sorted for a
// deterministic teardown sequence.
func teardownSteps(refs db.ResourceRefs) []Step {
	var steps []Step
	for _, key := range sortedKeys(refs.OverwriteIDs) {
		steps = append(steps, Step{Kind: platform.ResourceOverwrite, Key: key})
	}
	if refs.RoleID != "" {
		steps = append(steps, Step{Kind: platform.ResourceRole})
	}
	for _, name := range sortedKeys(refs.ChannelIDs) {
		steps = append(steps, Step{Kind: platform.ResourceChannel, Key: name})
	}
	if refs.CategoryID != "" {
		steps = append(steps, Step{Kind: platform.ResourceCategory})
	}
	return steps
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultDesired is the stock layout for a competition space, mirroring what
// moderators expect: a category with rules, announcements, general and
// support channels, plus a participant role that can read everything and
// write everywhere except rules and announcements.
func DefaultDesired(name string) db.DesiredResources {
	return db.DesiredResources{
		Category: name,
		Channels: []string{"rules", "announcements", "general", "support"},
		Role:     name + "-participant",
		Overwrites: []db.OverwriteSpec{
			{Channel: "rules", Allow: []string{"read"}, Deny: []string{"write"}},
			{Channel: "announcements", Allow: []string{"read"}, Deny: []string{"write"}},
			{Channel: "general", Allow: []string{"read", "write"}},
			{Channel: "support", Allow: []string{"read", "write"}},
		},
	}
}
