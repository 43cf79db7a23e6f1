package main

import (
	"context"
	"errors"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/samber/oops"
)

// Summarizer abstracts the LLM chat-completion call so the composer can be
// tested against scripted responses.
type Summarizer interface {
	Complete(ctx context.Context, prompt string, structuredJSON bool) (string, error)
}

// MistralSummarizer talks to the Mistral chat API through the OpenAI-compatible
// SDK. Every call runs under an explicit deadline; exceeding it surfaces as
// ErrSummarizerTimeout so the composer can count it against the retry budget.
type MistralSummarizer struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

var _ Summarizer = (*MistralSummarizer)(nil)

func NewMistralSummarizer(cfg *Config) *MistralSummarizer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.MistralAPIKey)}
	if cfg.MistralBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.MistralBaseURL))
	}
	return &MistralSummarizer{
		client:  openai.NewClient(opts...),
		model:   cfg.MistralModel,
		timeout: time.Duration(cfg.SummarizerTimeout) * time.Second,
	}
}

func (m *MistralSummarizer) Complete(ctx context.Context, prompt string, structuredJSON bool) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(m.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if structuredJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := m.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return "", ErrSummarizerTimeout
		}
		return "", oops.With("model", m.model).Wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", oops.Errorf("mistral returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
