// Package chatctx turns a stored conversation plus the newest user input into
// the request sent to a completion provider.
//
// The transformation keeps history in order and never filters, merges or
// truncates it. The one exception is an opening assistant greeting: clients
// render it before the user has said anything, so it is not replayed as if
// the model had produced it unprompted.
package chatctx

import (
	"errors"
	"unicode/utf8"

	"github.com/tbourn/study-mentor-backend/internal/domain"
)

// ErrContextTooLarge is returned by Builder.Build when the request exceeds
// the configured size. The request is never shortened to fit.
var ErrContextTooLarge = errors.New("conversation context too large")

// Turn is one prior exchange entry in provider-neutral form.
type Turn struct {
	Role domain.Role
	Text string
}

// Request is the semantic payload of a completion call: everything said so
// far and the turn that needs an answer.
type Request struct {
	Prior   []Turn
	Current string
}

// Messages flattens the request into one ordered slice that ends with the
// current user turn.
func (r Request) Messages() []Turn {
	out := make([]Turn, 0, len(r.Prior)+1)
	out = append(out, r.Prior...)
	return append(out, Turn{Role: domain.RoleUser, Text: r.Current})
}

// Runes counts the characters carried by the request.
func (r Request) Runes() int {
	n := utf8.RuneCountInString(r.Current)
	for _, t := range r.Prior {
		n += utf8.RuneCountInString(t.Text)
	}
	return n
}

// Build appends incoming to history as a pending user turn, splits it off as
// the current turn and maps the rest 1:1. A leading assistant entry is
// dropped.
func Build(history []domain.Message, incoming string) Request {
	prior := make([]Turn, 0, len(history))
	for i, m := range history {
		role := domain.NormalizeRole(string(m.Role))
		if i == 0 && role == domain.RoleAssistant {
			continue
		}
		prior = append(prior, Turn{Role: role, Text: m.Content})
	}
	return Request{Prior: prior, Current: incoming}
}

// Builder applies Build with an optional size guard.
type Builder struct {
	// MaxRunes caps the total characters of prior and current turns.
	// Zero disables the check.
	MaxRunes int
}

// Build is like the package-level Build but fails with ErrContextTooLarge
// when the result would exceed MaxRunes.
func (b Builder) Build(history []domain.Message, incoming string) (Request, error) {
	req := Build(history, incoming)
	if b.MaxRunes > 0 && req.Runes() > b.MaxRunes {
		return Request{}, ErrContextTooLarge
	}
	return req, nil
}

// Alternates reports whether turns strictly alternate between user and
// assistant, starting with a user turn. An empty slice alternates.
func Alternates(turns []Turn) bool {
	want := domain.RoleUser
	for _, t := range turns {
		if t.Role != want {
			return false
		}
		if want == domain.RoleUser {
			want = domain.RoleAssistant
		} else {
			want = domain.RoleUser
		}
	}
	return true
}
