package eventspace

import (
	"reflect"
	"testing"

	"github.com/iamwavecut/warden/internal/db"
	"github.com/iamwavecut/warden/internal/platform"
)

func TestProvisionStepsOrder(t *testing.T) {
	t.Parallel()
	desired := DefaultDesired("ctf")
	steps := provisionSteps(desired, db.ResourceRefs{})
	want := []Step{
		{Kind: platform.ResourceCategory},
		{Kind: platform.ResourceChannel, Key: "rules"},
		{Kind: platform.ResourceChannel, Key: "announcements"},
		{Kind: platform.ResourceChannel, Key: "general"},
		{Kind: platform.ResourceChannel, Key: "support"},
		{Kind: platform.ResourceRole},
		{Kind: platform.ResourceOverwrite, Key: "rules/0"},
		{Kind: platform.ResourceOverwrite, Key: "announcements/1"},
		{Kind: platform.ResourceOverwrite, Key: "general/2"},
		{Kind: platform.ResourceOverwrite, Key: "support/3"},
	}
	if !reflect.DeepEqual(steps, want) {
		t.Errorf("want %v, got %v", want, steps)
	}
}

func TestProvisionStepsSkipConfirmed(t *testing.T) {
	t.Parallel()
	desired := DefaultDesired("ctf")
	refs := db.ResourceRefs{CategoryID: "c1"}
	refs.SetChannelID("rules", "ch1")
	refs.SetChannelID("announcements", "ch2")

	steps := provisionSteps(desired, refs)
	if len(steps) != 7 {
		t.Fatalf("want 7 remaining steps, got %d: %v", len(steps), steps)
	}
	if steps[0].Kind != platform.ResourceChannel || steps[0].Key != "general" {
		t.Errorf("resume must start at the first missing resource, got %v", steps[0])
	}
}

func TestTeardownStepsReverseOrder(t *testing.T) {
	t.Parallel()
	refs := db.ResourceRefs{CategoryID: "c1", RoleID: "r1"}
	refs.SetChannelID("rules", "ch1")
	refs.SetChannelID("general", "ch2")
	refs.SetOverwriteID("rules/0", "ow1")

	steps := teardownSteps(refs)
	want := []Step{
		{Kind: platform.ResourceOverwrite, Key: "rules/0"},
		{Kind: platform.ResourceRole},
		{Kind: platform.ResourceChannel, Key: "general"},
		{Kind: platform.ResourceChannel, Key: "rules"},
		{Kind: platform.ResourceCategory},
	}
	if !reflect.DeepEqual(steps, want) {
		t.Errorf("want %v, got %v", want, steps)
	}
}

func TestTeardownStepsEmptyRefs(t *testing.T) {
	t.Parallel()
	if steps := teardownSteps(db.ResourceRefs{}); len(steps) != 0 {
		t.Errorf("nothing to tear down, got %v", steps)
	}
}
