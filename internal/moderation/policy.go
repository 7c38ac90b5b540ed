package moderation

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/iamwavecut/warden/internal/db"
)

// Rule maps a summary weight threshold to a sanction. Duration only applies
// to temporary sanctions (mute, timed ban).
type Rule struct {
	Threshold int
	Action    db.InfractionKind
	Duration  time.Duration
}

// Policy is an ordered rule list with strictly increasing thresholds. Loaded
// once at startup, read-only afterwards.
type Policy struct {
	rules []Rule
}

type policyFile struct {
	Rules []struct {
		Threshold int    `yaml:"threshold"`
		Action    string `yaml:"action"`
		Duration  string `yaml:"duration"`
	} `yaml:"rules"`
}

// ParsePolicy parses the inline form "5:mute:1h;10:kick;20:ban".
func ParsePolicy(s string) (*Policy, error) {
	var rules []Rule
	for _, chunk := range strings.Split(s, ";") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		parts := strings.Split(chunk, ":")
		if len(parts) != 2 && len(parts) != 3 {
			return nil, fmt.Errorf("malformed policy rule %q", chunk)
		}
		threshold, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("malformed threshold in rule %q: %w", chunk, err)
		}
		rule := Rule{
			Threshold: threshold,
			Action:    db.InfractionKind(strings.TrimSpace(parts[1])),
		}
		if len(parts) == 3 {
			d, err := time.ParseDuration(strings.TrimSpace(parts[2]))
			if err != nil {
				return nil, fmt.Errorf("malformed duration in rule %q: %w", chunk, err)
			}
			rule.Duration = d
		}
		rules = append(rules, rule)
	}
	return NewPolicy(rules)
}

// LoadPolicyFile reads a YAML policy document:
//
//	rules:
//	  - threshold: 5
//	    action: mute
//	    duration: 1h
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	rules := make([]Rule, 0, len(doc.Rules))
	for _, raw := range doc.Rules {
		rule := Rule{
			Threshold: raw.Threshold,
			Action:    db.InfractionKind(raw.Action),
		}
		if raw.Duration != "" {
			d, err := time.ParseDuration(raw.Duration)
			if err != nil {
				return nil, fmt.Errorf("malformed duration %q in policy file: %w", raw.Duration, err)
			}
			rule.Duration = d
		}
		rules = append(rules, rule)
	}
	return NewPolicy(rules)
}

func NewPolicy(rules []Rule) (*Policy, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("policy needs at least one rule")
	}
	prev := 0
	for i, rule := range rules {
		if rule.Threshold <= 0 {
			return nil, fmt.Errorf("rule %d: threshold must be positive", i)
		}
		if i > 0 && rule.Threshold <= prev {
			return nil, fmt.Errorf("rule %d: thresholds must be strictly increasing", i)
		}
		prev = rule.Threshold
		switch rule.Action {
		case db.KindWarn, db.KindMute, db.KindKick, db.KindBan:
		default:
			return nil, fmt.Errorf("rule %d: unknown action %q", i, rule.Action)
		}
	}
	return &Policy{rules: rules}, nil
}

// Match returns the highest-threshold rule whose threshold does not exceed
// weight. ok is false when no rule matches; the report stays informational.
func (p *Policy) Match(weight int) (Rule, bool) {
	var matched Rule
	var ok bool
	for _, rule := range p.rules {
		if rule.Threshold > weight {
			break
		}
		matched = rule
		ok = true
	}
	return matched, ok
}

func (p *Policy) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}
