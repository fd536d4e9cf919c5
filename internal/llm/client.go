// Package llm wraps the OpenAI moderation and chat completion endpoints used
// by the email generation pipeline.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/digkill/leadmail/internal/config"
)

// SystemInstruction constrains the model to the JSON shape the output
// validator accepts.
const SystemInstruction = `You are a helpful email assistant that writes cold sales emails.
Respond with ONLY a JSON object of the form {"subject": "...", "body": "..."}.
"subject" must be a single line of at most 200 characters. "body" is the plain-text email body.
Do not wrap the JSON in markdown and do not add any other text.`

var (
	ErrModerationUnavailable = errors.New("moderation unavailable")
	ErrTimeout               = errors.New("completion timed out")
	ErrProvider              = errors.New("completion provider error")
)

type Client struct {
	api             *openai.Client
	model           string
	moderationModel string
	timeout         time.Duration
	log             *slog.Logger
}

type Request struct {
	Prompt      string
	System      string
	Model       string
	MaxTokens   int
	Temperature float32
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.CompletionTimeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}

	apiCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	apiCfg.BaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	// Background calls abandoned by the deadline still end eventually.
	apiCfg.HTTPClient = &http.Client{Timeout: 4 * timeout}

	return &Client{
		api:             openai.NewClientWithConfig(apiCfg),
		model:           cfg.OpenAIModel,
		moderationModel: cfg.ModerationModel,
		timeout:         timeout,
		log:             log,
	}
}

func (c *Client) Model() string {
	return c.model
}

// Moderate reports whether text was flagged. Any failure to obtain a verdict
// is returned as ErrModerationUnavailable.
func (c *Client) Moderate(ctx context.Context, text string) (bool, error) {
	resp, err := c.api.Moderations(ctx, openai.ModerationRequest{
		Model: c.moderationModel,
		Input: text,
	})
	if err != nil {
		if c.log != nil {
			c.log.Warn("moderation request failed", "err", err)
		}
		return false, fmt.Errorf("%w: %v", ErrModerationUnavailable, err)
	}
	if len(resp.Results) == 0 {
		return false, fmt.Errorf("%w: empty results", ErrModerationUnavailable)
	}
	for _, r := range resp.Results {
		if r.Flagged {
			return true, nil
		}
	}
	return false, nil
}

type completion struct {
	text string
	err  error
}

// Complete runs a chat completion and waits at most the configured timeout.
// The upstream call is not cancelled when the deadline passes; its result is
// dropped.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	system := req.System
	if system == "" {
		system = SystemInstruction
	}

	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	// buffered so the sender never blocks once nobody is listening
	done := make(chan completion, 1)
	bg := context.WithoutCancel(ctx)
	go func() {
		resp, err := c.api.CreateChatCompletion(bg, chatReq)
		if err != nil {
			done <- completion{err: err}
			return
		}
		if len(resp.Choices) == 0 {
			done <- completion{err: errors.New("no choices in response")}
			return
		}
		done <- completion{text: strings.TrimSpace(resp.Choices[0].Message.Content)}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			if c.log != nil {
				c.log.Error("completion request failed", "model", model, "err", res.err)
			}
			return "", fmt.Errorf("%w: %v", ErrProvider, res.err)
		}
		return res.text, nil
	case <-timer.C:
		if c.log != nil {
			c.log.Warn("completion deadline exceeded", "model", model, "timeout", c.timeout)
		}
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
