package llm

import (
	"context"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"

	"github.com/tbourn/study-mentor-backend/internal/chatctx"
	"github.com/tbourn/study-mentor-backend/internal/domain"
)

// DefaultOpenAIModel is used when LLM_MODEL is empty.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIClient completes chat turns against any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// headerTransport adds fixed headers to every outgoing request.
type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

// NewOpenAI builds a client. baseURL, referrer and title are optional; the
// last two are sent as OpenRouter attribution headers.
func NewOpenAI(apiKey, baseURL, model, referrer, title string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if referrer != "" || title != "" {
		h := http.Header{}
		if referrer != "" {
			h.Set("HTTP-Referer", referrer)
		}
		if title != "" {
			h.Set("X-Title", title)
		}
		config.HTTPClient = &http.Client{Transport: headerTransport{rt: http.DefaultTransport, headers: h}}
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(config), model: model}
}

// Complete sends the system prompt, the prior turns and the current turn as
// one flat message list.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt string, req chatctx.Request) (Reply, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: openAIMessages(systemPrompt, req),
	})
	if err != nil {
		return Reply{}, goerr.Wrap(err, "failed to create chat completion", goerr.V("model", c.model))
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Reply{}, goerr.Wrap(ErrEmptyResponse, "no choices from openai", goerr.V("model", c.model))
	}
	return Reply{
		Text:             resp.Choices[0].Message.Content,
		Model:            c.model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func openAIMessages(systemPrompt string, req chatctx.Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Prior)+2)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, t := range req.Messages() {
		role := openai.ChatMessageRoleUser
		if t.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	return out
}
