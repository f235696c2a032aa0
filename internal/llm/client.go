// Package llm talks to the completion provider that answers chat turns.
//
// Every provider implements Client. The factory wraps each one so that a call
// never outlives the configured timeout; a timeout surfaces as an ordinary
// error like any other provider failure.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/tbourn/study-mentor-backend/internal/chatctx"
)

// ErrEmptyResponse is returned when the provider answered without any text.
var ErrEmptyResponse = errors.New("empty completion response")

// Reply is the provider's answer to one request.
type Reply struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client produces the next assistant turn for a conversation.
type Client interface {
	Complete(ctx context.Context, systemPrompt string, req chatctx.Request) (Reply, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, systemPrompt string, req chatctx.Request) (Reply, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, systemPrompt string, req chatctx.Request) (Reply, error) {
	return f(ctx, systemPrompt, req)
}

type timeoutClient struct {
	next    Client
	timeout time.Duration
}

// WithTimeout bounds every Complete call on c by d. A non-positive d returns
// c unchanged.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 {
		return c
	}
	return &timeoutClient{next: c, timeout: d}
}

func (c *timeoutClient) Complete(ctx context.Context, systemPrompt string, req chatctx.Request) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.next.Complete(ctx, systemPrompt, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Reply{}, goerr.Wrap(err, "completion timed out", goerr.V("timeout", c.timeout.String()))
		}
		return Reply{}, err
	}
	if reply.Text == "" {
		return Reply{}, ErrEmptyResponse
	}
	return reply, nil
}
