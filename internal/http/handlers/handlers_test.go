package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/study-mentor-backend/internal/domain"
	"github.com/tbourn/study-mentor-backend/internal/http/middleware"
	"github.com/tbourn/study-mentor-backend/internal/services"
	"github.com/tbourn/study-mentor-backend/internal/streak"
)

// ---------- stubs ----------

type stubStreaks struct {
	visit   services.StreakResult
	current services.StreakResult
	err     error
	users   []string
}

func (s *stubStreaks) Visit(_ context.Context, userID string) (services.StreakResult, error) {
	s.users = append(s.users, userID)
	return s.visit, s.err
}

func (s *stubStreaks) Current(_ context.Context, userID string) (services.StreakResult, error) {
	s.users = append(s.users, userID)
	return s.current, s.err
}

type stubConvo struct {
	msgs     []domain.Message
	total    int64
	latest   *time.Time
	err      error
	statsErr error
	page     [2]int
}

func (s *stubConvo) Load(context.Context, string) ([]domain.Message, error) { return s.msgs, s.err }

func (s *stubConvo) ListPage(_ context.Context, _ string, page, size int) ([]domain.Message, int64, error) {
	s.page = [2]int{page, size}
	return s.msgs, s.total, s.err
}

func (s *stubConvo) Get(_ context.Context, _ string, id string) (*domain.Message, bool, error) {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return &s.msgs[i], true, nil
		}
	}
	return nil, false, s.err
}

func (s *stubConvo) Stats(context.Context, string) (int64, *time.Time, error) {
	return s.total, s.latest, s.statsErr
}

type stubChat struct {
	res   services.TurnResult
	err   error
	calls int
	text  string
}

func (s *stubChat) Send(_ context.Context, _ string, text string) (services.TurnResult, error) {
	s.calls++
	s.text = text
	return s.res, s.err
}

type memIdem struct {
	byKey     map[string]string
	lookupErr error
	remembers int
	ttl       time.Duration
}

func (m *memIdem) Lookup(_ context.Context, userID, scope, key string, _ time.Time) (string, bool, error) {
	if m.lookupErr != nil {
		return "", false, m.lookupErr
	}
	id, ok := m.byKey[userID+"|"+scope+"|"+key]
	return id, ok, nil
}

func (m *memIdem) Remember(_ context.Context, userID, scope, key, messageID string, _ int, ttl time.Duration) error {
	if m.byKey == nil {
		m.byKey = map[string]string{}
	}
	m.remembers++
	m.ttl = ttl
	m.byKey[userID+"|"+scope+"|"+key] = messageID
	return nil
}

// ---------- plumbing ----------

func newRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Identity())
	r.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 256)
		c.Next()
	})
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{Scope: IdempotencyScopeChat}, nil))
	r.POST("/streak/visit", h.VisitStreak)
	r.GET("/streak", h.GetStreak)
	r.GET("/chat/history", h.ChatHistory)
	r.GET("/chat/messages", h.ListMessages)
	r.POST("/chat/messages", h.PostMessage)
	return r
}

func do(r *gin.Engine, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd *bytes.Buffer
	if body != "" {
		rd = bytes.NewBufferString(body)
	} else {
		rd = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v (%s)", err, w.Body.String())
	}
	return v
}

// ---------- streak ----------

func TestVisitStreak(t *testing.T) {
	day := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)
	st := &stubStreaks{visit: services.StreakResult{Days: 2, Persisted: true, Kind: streak.Consecutive, LastActiveDate: &day}}
	r := newRouter(New(st, &stubConvo{}, &stubChat{}, nil, Options{}))

	w := do(r, http.MethodPost, "/streak/visit", "", map[string]string{"X-User-ID": "aluno-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	got := decode[StreakResponse](t, w)
	want := StreakResponse{StreakDays: 2, Persisted: true, Kind: "consecutive", LastActiveDate: "2024-01-11"}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
	if len(st.users) != 1 || st.users[0] != "aluno-1" {
		t.Fatalf("identity not forwarded: %v", st.users)
	}
}

func TestVisitStreak_Errors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&services.StoreError{Op: "streak.get", Err: errors.New("down")}, http.StatusServiceUnavailable, ErrCodeStoreUnavailable},
		{services.ErrStreakConflict, http.StatusConflict, ErrCodeStreakConflict},
	}
	for _, tc := range cases {
		r := newRouter(New(&stubStreaks{err: tc.err}, &stubConvo{}, &stubChat{}, nil, Options{}))
		w := do(r, http.MethodPost, "/streak/visit", "", nil)
		if w.Code != tc.status || decode[ErrorResponse](t, w).Code != tc.code {
			t.Fatalf("%v: %d %s", tc.err, w.Code, w.Body.String())
		}
	}
}

func TestGetStreak_NoneYet(t *testing.T) {
	r := newRouter(New(&stubStreaks{}, &stubConvo{}, &stubChat{}, nil, Options{}))
	w := do(r, http.MethodGet, "/streak", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, `"streak_days":0`) || strings.Contains(body, "last_active_date") {
		t.Fatalf("unexpected body: %s", body)
	}
}

// ---------- chat read side ----------

func TestChatHistory(t *testing.T) {
	convo := &stubConvo{msgs: []domain.Message{
		{ID: "1", Role: domain.RoleUser, Content: "oi"},
		{ID: "2", Role: domain.RoleAssistant, Content: "olá"},
	}}
	r := newRouter(New(&stubStreaks{}, convo, &stubChat{}, nil, Options{Greeting: "Bem-vindo!"}))

	got := decode[HistoryResponse](t, do(r, http.MethodGet, "/chat/history", "", nil))
	if got.Greeting != "Bem-vindo!" || len(got.Messages) != 2 || got.Messages[1].Content != "olá" {
		t.Fatalf("unexpected history: %+v", got)
	}

	convo.msgs = []domain.Message{}
	w := do(r, http.MethodGet, "/chat/history", "", nil)
	if !strings.Contains(w.Body.String(), `"messages":[]`) {
		t.Fatalf("empty log must serialize as []: %s", w.Body.String())
	}

	convo.err = &services.StoreError{Op: "message.list", Err: errors.New("down")}
	if w := do(r, http.MethodGet, "/chat/history", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestListMessages_PaginationAndETag(t *testing.T) {
	latest := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	convo := &stubConvo{
		msgs:   []domain.Message{{ID: "1", Role: domain.RoleUser, Content: "a"}},
		total:  41,
		latest: &latest,
	}
	r := newRouter(New(&stubStreaks{}, convo, &stubChat{}, nil, Options{}))

	w := do(r, http.MethodGet, "/chat/messages?page=2&page_size=500", "", map[string]string{"X-User-ID": "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if convo.page != [2]int{2, 100} {
		t.Fatalf("page args = %v", convo.page)
	}
	got := decode[ListMessagesResponse](t, w)
	if got.Pagination.TotalPages != 1 || got.Pagination.HasNext || got.Pagination.Total != 41 {
		t.Fatalf("pagination = %+v", got.Pagination)
	}

	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"messages:u1:41:`) {
		t.Fatalf("unexpected ETag %q", etag)
	}
	w = do(r, http.MethodGet, "/chat/messages", "", map[string]string{"X-User-ID": "u1", "If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}

	convo.statsErr = errors.New("stats down")
	w = do(r, http.MethodGet, "/chat/messages", "", map[string]string{"X-User-ID": "u1", "If-None-Match": etag})
	if w.Code != http.StatusOK || w.Header().Get("ETag") != "" {
		t.Fatalf("stats failure should skip the ETag: %d %q", w.Code, w.Header().Get("ETag"))
	}
}

// ---------- chat turn ----------

func TestPostMessage_Success(t *testing.T) {
	chat := &stubChat{res: services.TurnResult{UserMessageID: "u-1", Reply: "Resposta", ReplyMessageID: "a-1", ReplyPersisted: true}}
	r := newRouter(New(&stubStreaks{}, &stubConvo{}, chat, nil, Options{}))

	w := do(r, http.MethodPost, "/chat/messages", `{"content":"  Pergunta  "}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	got := decode[PostMessageResponse](t, w)
	if got.Reply != "Resposta" || got.UserMessageID != "u-1" || got.ReplyMessageID != "a-1" || !got.ReplyPersisted || got.Fallback {
		t.Fatalf("unexpected response: %+v", got)
	}
	if chat.text != "  Pergunta  " {
		t.Fatalf("content must reach the service verbatim, got %q", chat.text)
	}
}

func TestPostMessage_FallbackIsStill200(t *testing.T) {
	chat := &stubChat{res: services.TurnResult{UserMessageID: "u-1", Reply: "Ops!", Fallback: true, Cause: services.ErrCompletion}}
	r := newRouter(New(&stubStreaks{}, &stubConvo{}, chat, nil, Options{}))

	w := do(r, http.MethodPost, "/chat/messages", `{"content":"q"}`, nil)
	got := decode[PostMessageResponse](t, w)
	if w.Code != http.StatusOK || !got.Fallback || got.ReplyPersisted || got.ReplyMessageID != "" {
		t.Fatalf("unexpected fallback response: %d %+v", w.Code, got)
	}
}

func TestPostMessage_Errors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"missing content", `{}`, nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"bad json", `{"content":`, nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"too large", `{"content":"` + strings.Repeat("x", 400) + `"}`, nil, http.StatusRequestEntityTooLarge, ErrCodeTooLarge},
		{"blank", `{"content":"   "}`, services.ErrEmptyPrompt, http.StatusBadRequest, ErrCodeBadRequest},
		{"in flight", `{"content":"q"}`, services.ErrTurnInFlight, http.StatusConflict, ErrCodeTurnInFlight},
		{"store", `{"content":"q"}`, &services.StoreError{Op: "message.append", Err: errors.New("down")}, http.StatusServiceUnavailable, ErrCodeStoreUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(New(&stubStreaks{}, &stubConvo{}, &stubChat{err: tc.err}, nil, Options{}))
			w := do(r, http.MethodPost, "/chat/messages", tc.body, nil)
			if w.Code != tc.status || decode[ErrorResponse](t, w).Code != tc.code {
				t.Fatalf("got %d %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestPostMessage_IdempotentReplay(t *testing.T) {
	convo := &stubConvo{msgs: []domain.Message{{ID: "a-1", Role: domain.RoleAssistant, Content: "Resposta"}}}
	chat := &stubChat{res: services.TurnResult{UserMessageID: "u-1", Reply: "Resposta", ReplyMessageID: "a-1", ReplyPersisted: true}}
	idem := &memIdem{}
	r := newRouter(New(&stubStreaks{}, convo, chat, idem, Options{IdempotencyTTL: time.Hour}))
	hdr := map[string]string{"X-User-ID": "u1", "Idempotency-Key": "k-1"}

	first := do(r, http.MethodPost, "/chat/messages", `{"content":"q"}`, hdr)
	if first.Code != http.StatusOK || first.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("first: %d replayed=%q", first.Code, first.Header().Get("Idempotency-Replayed"))
	}
	if idem.remembers != 1 || idem.ttl != time.Hour {
		t.Fatalf("key not recorded: %+v", idem)
	}

	second := do(r, http.MethodPost, "/chat/messages", `{"content":"q"}`, hdr)
	if second.Code != http.StatusOK || second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("second: %d replayed=%q", second.Code, second.Header().Get("Idempotency-Replayed"))
	}
	if chat.calls != 1 {
		t.Fatalf("replay must not start a new turn, calls=%d", chat.calls)
	}
	if got := decode[PostMessageResponse](t, second); got.Reply != "Resposta" || got.ReplyMessageID != "a-1" {
		t.Fatalf("unexpected replay body: %+v", got)
	}

	// Another user with the same key gets a fresh turn.
	do(r, http.MethodPost, "/chat/messages", `{"content":"q"}`, map[string]string{"X-User-ID": "u2", "Idempotency-Key": "k-1"})
	if chat.calls != 2 {
		t.Fatalf("keys are per user, calls=%d", chat.calls)
	}
}

func TestPostMessage_IdempotencySkipsUnpersistedAndSurvivesLookupErrors(t *testing.T) {
	chat := &stubChat{res: services.TurnResult{UserMessageID: "u-1", Reply: "Ops!", Fallback: true}}
	idem := &memIdem{}
	r := newRouter(New(&stubStreaks{}, &stubConvo{}, chat, idem, Options{}))
	hdr := map[string]string{"Idempotency-Key": "k-2"}

	do(r, http.MethodPost, "/chat/messages", `{"content":"q"}`, hdr)
	if idem.remembers != 0 {
		t.Fatal("fallback replies must not be recorded")
	}

	idem.lookupErr = errors.New("db down")
	if w := do(r, http.MethodPost, "/chat/messages", `{"content":"q"}`, hdr); w.Code != http.StatusOK || chat.calls != 2 {
		t.Fatalf("lookup failure should fall through to a normal turn: %d calls=%d", w.Code, chat.calls)
	}
}
