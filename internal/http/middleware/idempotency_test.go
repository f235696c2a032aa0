package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type idemProbe struct {
	key    string
	has    bool
	replay bool
	bypass bool
}

func idemRouter(opts IdempotencyOptions, lookup IdempotencyLookup, probe *idemProbe) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Identity(), IdempotencyValidator(opts, lookup))
	r.POST("/chat/messages", func(c *gin.Context) {
		probe.key, probe.has = GetIdempotencyKey(c)
		probe.replay = IsReplay(c)
		probe.bypass = IsRateBypass(c)
		c.Status(http.StatusOK)
	})
	return r
}

func postWithKey(r *gin.Engine, key string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat/messages", nil)
	req.Header.Set(HeaderUserID, "u1")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_NoHeaderIsNoop(t *testing.T) {
	var p idemProbe
	called := false
	r := idemRouter(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
		called = true
		return true, nil
	}, &p)

	if w := postWithKey(r, ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if p.has || p.replay || p.bypass || called {
		t.Fatalf("no key must not trigger lookup: %+v called=%v", p, called)
	}
}

func TestIdempotency_Validation(t *testing.T) {
	var p idemProbe
	r := idemRouter(IdempotencyOptions{MaxLen: 8}, nil, &p)

	for _, bad := range []string{"has space", "bad/slash", strings.Repeat("a", 9)} {
		w := postWithKey(r, bad)
		if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("key %q: status=%d body=%s", bad, w.Code, w.Body.String())
		}
	}

	if w := postWithKey(r, "k-1:ok"); w.Code != http.StatusOK || !p.has || p.key != "k-1:ok" {
		t.Fatalf("valid key rejected: code=%d probe=%+v", w.Code, p)
	}
	if p.replay {
		t.Fatal("nil lookup never marks a replay")
	}
}

func TestIdempotency_CustomPattern(t *testing.T) {
	var p idemProbe
	r := idemRouter(IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, nil, &p)
	if w := postWithKey(r, "abc"); w.Code != http.StatusBadRequest {
		t.Fatalf("custom pattern ignored: %d", w.Code)
	}
	if w := postWithKey(r, "123"); w.Code != http.StatusOK {
		t.Fatalf("custom pattern rejected a match: %d", w.Code)
	}
}

func TestIdempotency_LookupMarksReplay(t *testing.T) {
	var p idemProbe
	var gotUser, gotScope, gotKey string
	r := idemRouter(IdempotencyOptions{Scope: "chat"}, func(_ context.Context, userID, scope, key string, now time.Time) (bool, error) {
		gotUser, gotScope, gotKey = userID, scope, key
		if now.Location() != time.UTC {
			t.Errorf("lookup time must be UTC")
		}
		return key == "seen", nil
	}, &p)

	postWithKey(r, "seen")
	if !p.replay || !p.bypass {
		t.Fatalf("expected replay+bypass: %+v", p)
	}
	if gotUser != "u1" || gotScope != "chat" || gotKey != "seen" {
		t.Fatalf("lookup args: %q %q %q", gotUser, gotScope, gotKey)
	}

	postWithKey(r, "fresh")
	if p.replay || p.bypass {
		t.Fatalf("fresh key must not replay: %+v", p)
	}
}

func TestIdempotency_LookupErrorProceeds(t *testing.T) {
	_ = withCapturedLogger(t)
	var p idemProbe
	r := idemRouter(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
		return true, errors.New("db down")
	}, &p)

	if w := postWithKey(r, "k1"); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if p.replay || !p.has {
		t.Fatalf("lookup error must be treated as first attempt: %+v", p)
	}
}
