// Package llm talks to chat-completion providers and wraps them with a uniform
// retry policy.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/joescharf/courseforge/internal/retry"
)

// Role tags a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral chat completion request.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	TopP        *float64
}

// Chat is a chat-completion provider. Implementations return the text of the first choice.
type Chat interface {
	Chat(ctx context.Context, req Request) (string, error)
}

// ErrNoClient is returned without retrying when no provider is configured.
var ErrNoClient = errors.New("llm client not initialized")

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("no text content in API response")

// Options are the per-request generation knobs.
type Options struct {
	MaxTokens   int
	Temperature *float64
	TopP        *float64
}

// Completer sends prompts with history through a Chat provider under a retry policy.
type Completer struct {
	chat   Chat
	opts   Options
	policy retry.Policy

	// Logf receives progress lines (message counts, retry notices). Optional.
	Logf func(format string, a ...any)
}

// NewCompleter creates a Completer. A nil chat is allowed; every call then fails with ErrNoClient.
func NewCompleter(chat Chat, opts Options, policy retry.Policy) *Completer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	return &Completer{chat: chat, opts: opts, policy: policy}
}

// Ready reports whether a provider is configured.
func (c *Completer) Ready() bool {
	return c != nil && c.chat != nil
}

// Complete sends history followed by a new user turn and returns the reply text.
func (c *Completer) Complete(ctx context.Context, prompt string, history []Message) (string, error) {
	res := c.Attempt(ctx, prompt, history)
	return res.Value, res.Err
}

// Attempt is Complete with the number of attempts used.
func (c *Completer) Attempt(ctx context.Context, prompt string, history []Message) retry.Result[string] {
	if !c.Ready() {
		return retry.Result[string]{Err: ErrNoClient}
	}

	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: prompt})
	if len(history) > 0 {
		c.logf("sending %d messages", len(messages))
	}

	req := Request{
		Messages:    messages,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		TopP:        c.opts.TopP,
	}

	policy := c.policy
	userHook := policy.OnRetry
	policy.OnRetry = func(attempt, remaining int, err error) {
		c.logf("API call failed (%d retries left): %v", remaining, err)
		if userHook != nil {
			userHook(attempt, remaining, err)
		}
	}

	return retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		return c.chat.Chat(ctx, req)
	})
}

func (c *Completer) logf(format string, a ...any) {
	if c.Logf != nil {
		c.Logf(format, a...)
	}
}

// StatusError is a non-2xx response from an HTTP provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, e.Body)
}
