package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/iamwavecut/warden/internal/config"
)

type geminiClassifier struct {
	client *genai.Client
	model  *genai.GenerativeModel
	logger *log.Entry
}

const defaultGeminiModel = "gemini-2.5-flash-lite"

func NewGemini(cfg config.LLM, logger *log.Entry) (Classifier, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.02)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(Prompt)},
	}
	return &geminiClassifier{
		client: client,
		model:  model,
		logger: logger,
	}, nil
}

func (c *geminiClassifier) Classify(ctx context.Context, messageText string) (Verdict, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(messageText))
	if err != nil {
		return Verdict{}, errors.Wrap(err, "failed to classify message with Gemini")
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	if sb.Len() == 0 {
		return Verdict{}, errors.New("empty classifier response")
	}

	verdict, err := ParseVerdict(sb.String())
	if err != nil {
		c.logger.WithError(err).Warn("unparseable classifier reply, treating as clean")
		return Verdict{}, nil
	}
	return verdict, nil
}
