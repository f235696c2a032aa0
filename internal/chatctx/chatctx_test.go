package chatctx_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/tbourn/study-mentor-backend/internal/chatctx"
	"github.com/tbourn/study-mentor-backend/internal/domain"
)

func msg(role domain.Role, text string) domain.Message {
	return domain.Message{Role: role, Content: text}
}

func TestBuild_DropsOpeningGreeting(t *testing.T) {
	history := []domain.Message{
		msg(domain.RoleAssistant, "Hi, welcome"),
		msg(domain.RoleUser, "A"),
		msg(domain.RoleAssistant, "B"),
	}
	req := chatctx.Build(history, "C")

	gt.V(t, req.Current).Equal("C")
	gt.A(t, req.Prior).Length(2)
	gt.V(t, req.Prior[0]).Equal(chatctx.Turn{Role: domain.RoleUser, Text: "A"})
	gt.V(t, req.Prior[1]).Equal(chatctx.Turn{Role: domain.RoleAssistant, Text: "B"})
}

func TestBuild_EmptyHistory(t *testing.T) {
	req := chatctx.Build(nil, "first question")

	gt.A(t, req.Prior).Length(0)
	gt.V(t, req.Current).Equal("first question")
}

func TestBuild_OnlyFirstAssistantIsDropped(t *testing.T) {
	history := []domain.Message{
		msg(domain.RoleUser, "A"),
		msg(domain.RoleAssistant, "B"),
		msg(domain.RoleAssistant, "B again"),
	}
	req := chatctx.Build(history, "C")

	// Consecutive same-role entries pass through untouched.
	gt.A(t, req.Prior).Length(3)
	gt.V(t, req.Prior[2].Text).Equal("B again")
}

func TestBuild_LegacyModelRoleAndVerbatimText(t *testing.T) {
	history := []domain.Message{
		msg("model", "Olá! Sou seu mentor."),
		msg(domain.RoleUser, "  spaced\ttext  "),
		msg("model", "resposta"),
	}
	req := chatctx.Build(history, "  next  ")

	gt.A(t, req.Prior).Length(2)
	gt.V(t, req.Prior[0].Text).Equal("  spaced\ttext  ")
	gt.V(t, req.Prior[1].Role).Equal(domain.RoleAssistant)
	gt.V(t, req.Current).Equal("  next  ")
}

func TestBuild_DoesNotMutateHistory(t *testing.T) {
	history := []domain.Message{msg(domain.RoleAssistant, "hi"), msg(domain.RoleUser, "A")}
	_ = chatctx.Build(history, "B")

	gt.A(t, history).Length(2)
	gt.V(t, history[0].Content).Equal("hi")
}

func TestRequest_Messages(t *testing.T) {
	req := chatctx.Request{
		Prior:   []chatctx.Turn{{Role: domain.RoleUser, Text: "A"}, {Role: domain.RoleAssistant, Text: "B"}},
		Current: "C",
	}
	out := req.Messages()

	gt.A(t, out).Length(3)
	gt.V(t, out[2]).Equal(chatctx.Turn{Role: domain.RoleUser, Text: "C"})
	gt.A(t, req.Prior).Length(2)
}

func TestBuilder_SizeGuard(t *testing.T) {
	history := []domain.Message{msg(domain.RoleUser, "çççç"), msg(domain.RoleAssistant, "abcd")}

	req, err := chatctx.Builder{MaxRunes: 10}.Build(history, "xy")
	gt.NoError(t, err)
	gt.V(t, req.Runes()).Equal(10)

	_, err = chatctx.Builder{MaxRunes: 9}.Build(history, "xy")
	gt.True(t, errors.Is(err, chatctx.ErrContextTooLarge))

	_, err = chatctx.Builder{}.Build(history, strings.Repeat("x", 100000))
	gt.NoError(t, err)
}

func TestAlternates(t *testing.T) {
	u := chatctx.Turn{Role: domain.RoleUser, Text: "u"}
	a := chatctx.Turn{Role: domain.RoleAssistant, Text: "a"}

	gt.True(t, chatctx.Alternates(nil))
	gt.True(t, chatctx.Alternates([]chatctx.Turn{u, a, u}))
	gt.False(t, chatctx.Alternates([]chatctx.Turn{u, u}))
	gt.False(t, chatctx.Alternates([]chatctx.Turn{a, u}))
}
