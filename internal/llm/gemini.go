package llm

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/tbourn/study-mentor-backend/internal/chatctx"
	"github.com/tbourn/study-mentor-backend/internal/domain"
)

// DefaultGeminiModel is used when LLM_MODEL is empty.
const DefaultGeminiModel = "gemini-2.5-flash"

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient completes chat turns with the Gemini API.
type GeminiClient struct {
	models contentGenerator
	model  string
}

// NewGemini creates a client for the Gemini API backend.
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{models: client.Models, model: model}, nil
}

// Complete sends the prior turns as chat history followed by the current turn.
func (g *GeminiClient) Complete(ctx context.Context, systemPrompt string, req chatctx.Request) (Reply, error) {
	config := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(systemPrompt, "")
	}

	resp, err := g.models.GenerateContent(ctx, g.model, geminiContents(req), config)
	if err != nil {
		return Reply{}, goerr.Wrap(err, "failed to generate content", goerr.V("model", g.model))
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Reply{}, goerr.Wrap(ErrEmptyResponse, "no candidates from gemini", goerr.V("model", g.model))
	}

	var text string
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			text += p.Text
		}
	}
	if text == "" {
		return Reply{}, goerr.Wrap(ErrEmptyResponse, "gemini candidate has no text", goerr.V("model", g.model))
	}

	out := Reply{Text: text, Model: g.model}
	if u := resp.UsageMetadata; u != nil {
		out.PromptTokens = int(u.PromptTokenCount)
		out.CompletionTokens = int(u.CandidatesTokenCount)
	}
	return out, nil
}

// geminiContents maps turns onto Gemini roles; assistant turns are "model".
func geminiContents(req chatctx.Request) []*genai.Content {
	out := make([]*genai.Content, 0, len(req.Prior)+1)
	for _, t := range req.Messages() {
		var role genai.Role = genai.RoleUser
		if t.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(t.Text, role))
	}
	return out
}
