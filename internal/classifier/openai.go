package classifier

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/config"
)

type openAIClassifier struct {
	client *openai.Client
	model  string
	logger *log.Entry
}

const defaultOpenAIModel = "gpt-4o-mini"

func NewOpenAI(cfg config.LLM, logger *log.Entry) Classifier {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openAIClassifier{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		logger: logger,
	}
}

func (c *openAIClassifier) Classify(ctx context.Context, messageText string) (Verdict, error) {
	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       c.model,
			Temperature: 0.02,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: Prompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: messageText,
				},
			},
		},
	)
	if err != nil {
		return Verdict{}, errors.Wrap(err, "failed to classify message with OpenAI")
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, errors.New("empty classifier response")
	}

	verdict, err := ParseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.WithError(err).Warn("unparseable classifier reply, treating as clean")
		return Verdict{}, nil
	}
	return verdict, nil
}
