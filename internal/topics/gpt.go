package topics

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const maxPromptMessages = 300

// GPTExtractor summarizes chat through the OpenAI chat completion API and
// falls back to SimpleExtractor on any failure.
type GPTExtractor struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	fallback    *SimpleExtractor
	logger      *zap.Logger
}

func NewGPTExtractor(apiKey, model string, maxTokens int, temperature float64, maxKeywords int, logger *zap.Logger) *GPTExtractor {
	return newGPTExtractor(openai.NewClient(apiKey), model, maxTokens, temperature, maxKeywords, logger)
}

func newGPTExtractor(client *openai.Client, model string, maxTokens int, temperature float64, maxKeywords int, logger *zap.Logger) *GPTExtractor {
	return &GPTExtractor{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		fallback:    NewSimpleExtractor(maxKeywords),
		logger:      logger,
	}
}

type gptResponse struct {
	Keywords []string `json:"keywords"`
	Summary  string   `json:"summary"`
}

func (e *GPTExtractor) Extract(ctx context.Context, contents []string) Result {
	base := e.fallback.Extract(ctx, contents)
	if len(contents) == 0 {
		return base
	}

	sample := contents
	if len(sample) > maxPromptMessages {
		sample = sample[len(sample)-maxPromptMessages:]
	}

	prompt := fmt.Sprintf(`Below are chat messages from a cryptocurrency exchange chatroom, one per line.
Identify the main topics (coins, events, sentiment) and write a short summary in Indonesian.

Return the response as a JSON object with this structure:
{
    "keywords": ["keyword1", "keyword2", ...],
    "summary": "ringkasan singkat"
}

Messages:
%s`, strings.Join(sample, "\n"))

	resp, err := e.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: e.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   e.maxTokens,
			Temperature: float32(e.temperature),
		},
	)
	if err != nil {
		e.logger.Error("Failed to get GPT response", zap.Error(err))
		return base
	}
	if len(resp.Choices) == 0 {
		e.logger.Error("GPT response has no choices")
		return base
	}

	var parsed gptResponse
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "```json"), "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		e.logger.Error("Failed to parse GPT response",
			zap.Error(err),
			zap.String("response", raw))
		return base
	}

	counts := make(map[string]int, len(base.Keywords))
	for _, k := range base.Keywords {
		counts[k.Word] = k.Count
	}
	keywords := make([]Keyword, 0, len(parsed.Keywords))
	for _, word := range parsed.Keywords {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" {
			continue
		}
		keywords = append(keywords, Keyword{Word: word, Count: counts[word]})
	}
	if len(keywords) == 0 {
		keywords = base.Keywords
	}

	return Result{Keywords: keywords, Summary: parsed.Summary}
}
