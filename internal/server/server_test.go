package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/config"
	"relay/internal/gateway"
	"relay/internal/model"
)

type echoAdapter struct {
	err error
}

func (a *echoAdapter) Name() string { return "echo" }

func (a *echoAdapter) Send(_ context.Context, req model.Request, _ model.Capabilities, onChunk func(model.StreamChunk) error) (*model.Response, error) {
	if a.err != nil {
		return nil, a.err
	}
	u := model.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6}
	text := "echo: " + req.Messages[len(req.Messages)-1].Text()
	if onChunk != nil {
		for _, part := range strings.SplitAfter(text, " ") {
			if err := onChunk(model.StreamChunk{Text: part}); err != nil {
				return nil, err
			}
		}
		return &model.Response{Usage: u}, nil
	}
	return &model.Response{Text: text, Usage: u}, nil
}

func newServer(t *testing.T, a *echoAdapter) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Provider:           "openai",
		Model:              "test-model",
		MaxToolIterations:  2,
		MaxConcurrentTools: 1,
		ToolTimeout:        time.Second,
		TurnTimeout:        5 * time.Second,
		History:            config.HistoryConfig{Driver: "memory"},
	}
	gw, err := gateway.New(context.Background(), cfg, gateway.WithAdapter(a))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return New(gw, ":0", nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestChatReturnsReply(t *testing.T) {
	h := newServer(t, &echoAdapter{})
	w := do(t, h, http.MethodPost, "/api/chat", ChatRequest{Message: "hi", SessionID: "s1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "echo: hi", resp.Reply)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "complete", resp.StopReason)
	assert.Equal(t, int64(6), resp.Usage.TotalTokens)
}

func TestChatRejectsMissingMessage(t *testing.T) {
	h := newServer(t, &echoAdapter{})
	w := do(t, h, http.MethodPost, "/api/chat", map[string]string{"session_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatRejectsBlankMessage(t *testing.T) {
	h := newServer(t, &echoAdapter{})
	w := do(t, h, http.MethodPost, "/api/chat", ChatRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "empty input")
}

func TestChatMapsProviderErrors(t *testing.T) {
	h := newServer(t, &echoAdapter{err: &model.ProviderError{Kind: model.KindRateLimit, Provider: "echo", StatusCode: 429, Message: "slow down"}})
	w := do(t, h, http.MethodPost, "/api/chat", ChatRequest{Message: "hi"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit", body["kind"])
	assert.Equal(t, true, body["retryable"])
}

func TestStreamRelaysChunksThenDone(t *testing.T) {
	h := newServer(t, &echoAdapter{})
	w := do(t, h, http.MethodPost, "/api/chat/stream", ChatRequest{Message: "hello there"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	body := w.Body.String()
	assert.Equal(t, 3, strings.Count(body, "event:chunk"))
	require.Contains(t, body, "event:done")
	assert.Less(t, strings.LastIndex(body, "event:chunk"), strings.Index(body, "event:done"))
	assert.Contains(t, body, `"reply":"echo: hello there"`)
	assert.Contains(t, body, `"kind":"turn_started"`)
	assert.Contains(t, body, `"kind":"turn_finished"`)
}

func TestStatusListsSessionsAndUsage(t *testing.T) {
	h := newServer(t, &echoAdapter{})
	for _, id := range []string{"a", "b"} {
		require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/chat", ChatRequest{Message: "x", SessionID: id}).Code)
	}
	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/sessions/a", nil).Code)

	w := do(t, h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "echo", st.Provider)
	assert.Equal(t, int64(2), st.Turns)
	assert.Equal(t, int64(12), st.Usage.TotalTokens)
	assert.Equal(t, []string{"b"}, st.Sessions)
}
