package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/study-mentor-backend/internal/services"
)

func Test_fail_5xx_LogsAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/boom", func(c *gin.Context) { fail(c, http.StatusInternalServerError, ErrCodeInternal, "kaboom") })
	r.GET("/missing", func(c *gin.Context) { Fail(c, http.StatusNotFound, ErrCodeNotFound, "nope") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if w.Code != http.StatusInternalServerError || resp.RequestID != "rid-500" || resp.Code != ErrCodeInternal || resp.Message != "kaboom" {
		t.Fatalf("unexpected 500: %d %+v", w.Code, resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("expected error log, got: %s", buf.String())
	}

	buf.Reset()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), `"code":"not_found"`) {
		t.Fatalf("unexpected 404: %d %s", w.Code, w.Body.String())
	}
	if buf.Len() != 0 {
		t.Fatalf("4xx must not be logged as api error: %s", buf.String())
	}
}

func Test_failService_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrEmptyPrompt, http.StatusBadRequest, ErrCodeBadRequest},
		{fmt.Errorf("wrap: %w", services.ErrTooLong), http.StatusBadRequest, ErrCodeBadRequest},
		{services.ErrTurnInFlight, http.StatusConflict, ErrCodeTurnInFlight},
		{services.ErrStreakConflict, http.StatusConflict, ErrCodeStreakConflict},
		{&services.StoreError{Op: "message.append", Err: errors.New("disk I/O error")}, http.StatusServiceUnavailable, ErrCodeStoreUnavailable},
		{errors.New("surprise"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		failService(c, tc.err, 10)

		var resp ErrorResponse
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if w.Code != tc.status || resp.Code != tc.code {
			t.Fatalf("%v: got %d/%s want %d/%s", tc.err, w.Code, resp.Code, tc.status, tc.code)
		}
		if strings.Contains(resp.Message, "disk I/O") {
			t.Fatalf("store details must not leak: %q", resp.Message)
		}
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	failService(c, services.ErrTooLong, 4000)
	if !strings.Contains(w.Body.String(), "max 4000 runes") {
		t.Fatalf("too-long message should name the limit: %s", w.Body.String())
	}
}
