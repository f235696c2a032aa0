package llm

import (
	"context"
	"sync"
	"time"

	"github.com/Morwran/yagpt"
	"github.com/m-mizutani/goerr/v2"

	"github.com/tbourn/study-mentor-backend/internal/chatctx"
	"github.com/tbourn/study-mentor-backend/internal/domain"
)

// IAM tokens live for up to 12 hours; refresh well before that.
const iamTokenTTL = time.Hour

// YandexClient completes chat turns with YandexGPT.
type YandexClient struct {
	ya   yagpt.YaGPTFace
	mint func() (string, error)

	mu        sync.Mutex
	token     string
	tokenTime time.Time
}

// NewYandex exchanges the OAuth token for an IAM token and binds the client
// to folderID.
func NewYandex(oauthToken, folderID string) (*YandexClient, error) {
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to init yandex iam")
	}
	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to init yagpt", goerr.V("folder_id", folderID))
	}

	c := &YandexClient{
		ya: ya,
		mint: func() (string, error) {
			resp, err := iam.Create()
			if err != nil {
				return "", err
			}
			return resp.IamToken, nil
		},
	}
	if _, err := c.iamToken(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *YandexClient) iamToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Since(c.tokenTime) < iamTokenTTL {
		return c.token, nil
	}
	tok, err := c.mint()
	if err != nil {
		return "", goerr.Wrap(err, "failed to create iam token")
	}
	c.token, c.tokenTime = tok, time.Now()
	return tok, nil
}

// Complete sends the system prompt, the prior turns and the current turn.
func (c *YandexClient) Complete(ctx context.Context, systemPrompt string, req chatctx.Request) (Reply, error) {
	tok, err := c.iamToken()
	if err != nil {
		return Reply{}, err
	}
	resp, err := c.ya.CompletionWithCtx(ctx, tok, yandexMessages(systemPrompt, req))
	if err != nil {
		return Reply{}, goerr.Wrap(err, "yagpt completion failed")
	}
	if resp == nil || len(resp.Alternatives) == 0 || resp.Alternatives[0].Message.Content == "" {
		return Reply{}, goerr.Wrap(ErrEmptyResponse, "yagpt returned empty response")
	}
	return Reply{
		Text:             resp.Alternatives[0].Message.Content,
		Model:            yagpt.YaModelLite,
		PromptTokens:     int(resp.Usage.InputTextTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func yandexMessages(systemPrompt string, req chatctx.Request) []yagpt.Message {
	var out []yagpt.Message
	if systemPrompt != "" {
		out = append(out, yagpt.Message{Role: "system", Content: systemPrompt})
	}
	for _, t := range req.Messages() {
		m := yagpt.Message{Role: "user", Content: t.Text}
		if t.Role == domain.RoleAssistant {
			m.Role = "assistant"
		}
		out = append(out, m)
	}
	return out
}
