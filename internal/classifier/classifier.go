// Package classifier wraps an external content classifier behind a small
// interface. The bot treats the verdict as authoritative; no local filtering
// heuristics live here.
package classifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/config"
)

// Verdict is the classifier's decision for one message.
type Verdict struct {
	Flagged bool
	Reason  string
	Weight  int
}

type Classifier interface {
	Classify(ctx context.Context, messageText string) (Verdict, error)
}

// Prompt shared by the LLM backends. The model must answer either CLEAN or
// FLAGGED|<weight 1-10>|<short reason>.
const Prompt = `You are a content moderation assistant for a security community chat.
Classify the user message. Respond with exactly one line:
"CLEAN" if the message is acceptable, or
"FLAGGED|<severity>|<reason>" where <severity> is an integer 1-10 and <reason> is a short explanation.
Flag spam, scams, flag/solution sharing, harassment and doxxing. Do not flag profanity alone.`

// ParseVerdict turns a raw model reply into a Verdict. Unparseable replies
// degrade to clean so a misbehaving model never sanctions anyone.
func ParseVerdict(raw string) (Verdict, error) {
	reply := strings.TrimSpace(raw)
	if strings.EqualFold(reply, "CLEAN") {
		return Verdict{}, nil
	}
	parts := strings.SplitN(reply, "|", 3)
	if len(parts) != 3 || !strings.EqualFold(strings.TrimSpace(parts[0]), "FLAGGED") {
		return Verdict{}, fmt.Errorf("unexpected classifier reply %q", reply)
	}
	weight, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || weight < 1 || weight > 10 {
		return Verdict{}, fmt.Errorf("bad severity in classifier reply %q", reply)
	}
	return Verdict{
		Flagged: true,
		Weight:  weight,
		Reason:  strings.TrimSpace(parts[2]),
	}, nil
}

// New selects a backend by config type.
func New(cfg config.LLM, logger *log.Entry) (Classifier, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAI(cfg, logger), nil
	case "gemini":
		return NewGemini(cfg, logger)
	}
	return nil, fmt.Errorf("unknown classifier type %q", cfg.Type)
}
