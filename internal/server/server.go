// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relay/internal/chat"
	"relay/internal/gateway"
	"relay/internal/model"
)

type Server struct {
	gw     *gateway.Gateway
	logger *zap.Logger
	addr   string
	engine *gin.Engine
}

func New(gw *gateway.Gateway, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{gw: gw, logger: logger, addr: addr}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog(), cors.Default())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := r.Group("/api")
	api.POST("/chat", s.handleChat)
	api.POST("/chat/stream", s.handleStream)
	api.GET("/status", s.handleStatus)
	api.GET("/sessions", s.handleSessions)
	api.DELETE("/sessions/:id", s.handleClear)
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting http server", zap.String("addr", s.addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

type ChatRequest struct {
	Message   string         `json:"message" binding:"required"`
	SessionID string         `json:"session_id"`
	Images    []string       `json:"images"`
	Context   map[string]any `json:"context"`
}

type ToolResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ChatResponse struct {
	Reply      string       `json:"reply"`
	SessionID  string       `json:"session_id"`
	TurnID     string       `json:"turn_id"`
	StopReason string       `json:"stop_reason"`
	Iterations int          `json:"iterations"`
	Usage      model.Usage  `json:"usage"`
	Tools      []ToolResult `json:"tools,omitempty"`
}

func (r ChatRequest) session() string {
	if r.SessionID == "" {
		return gateway.DefaultSession
	}
	return r.SessionID
}

func newChatResponse(session string, res *chat.Result) ChatResponse {
	out := ChatResponse{
		Reply:      res.Text,
		SessionID:  session,
		TurnID:     res.TurnID,
		StopReason: string(res.StopReason),
		Iterations: res.Iterations,
		Usage:      res.Usage,
	}
	for _, r := range res.ToolResults {
		out.Tools = append(out.Tools, ToolResult{ID: r.ID, Success: r.Success, Content: r.Content, Error: r.Error})
	}
	return out
}

func (s *Server) handleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.gw.Turn(c.Request.Context(), req.session(), chat.Input{
		Text:    req.Message,
		Images:  req.Images,
		Context: req.Context,
	})
	if err != nil {
		s.logger.Warn("turn failed", zap.String("session_id", req.session()), zap.Error(err))
		c.JSON(statusFor(err), errorBody(err))
		return
	}
	c.JSON(http.StatusOK, newChatResponse(req.session(), res))
}

// handleStream runs a turn and relays it as server-sent events: "chunk" for
// text, "event" for lifecycle events, then a final "done" or "error".
func (s *Server) handleStream(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	var mu sync.Mutex
	send := func(name string, data any) {
		mu.Lock()
		defer mu.Unlock()
		c.SSEvent(name, data)
		c.Writer.Flush()
	}

	res, err := s.gw.Turn(c.Request.Context(), req.session(), chat.Input{
		Text:    req.Message,
		Images:  req.Images,
		Context: req.Context,
		OnText: func(text string) {
			send("chunk", gin.H{"text": text})
		},
		OnEvent: func(e chat.Event) {
			send("event", eventBody(e))
		},
	})
	if err != nil {
		s.logger.Warn("streamed turn failed", zap.String("session_id", req.session()), zap.Error(err))
		send("error", errorBody(err))
		return
	}
	send("done", newChatResponse(req.session(), res))
}

func eventBody(e chat.Event) gin.H {
	body := gin.H{"kind": e.Kind, "turn_id": e.TurnID, "round": e.Round}
	switch e.Kind {
	case chat.EventToolsDispatched:
		body["count"] = e.Count
	case chat.EventToolCompleted:
		body["id"] = e.ToolCallID
		body["name"] = e.ToolName
		body["success"] = e.Success
	case chat.EventTurnFinished:
		body["usage"] = e.Usage
	case chat.EventTurnErrored:
		if e.Err != nil {
			body["error"] = e.Err.Error()
		}
	}
	return body
}

type StatusResponse struct {
	gateway.Info
	Usage    model.Usage `json:"usage"`
	Turns    int64       `json:"turns"`
	Sessions []string    `json:"sessions"`
}

func (s *Server) handleStatus(c *gin.Context) {
	sessions, err := s.gw.Sessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	u, turns := s.gw.Usage()
	c.JSON(http.StatusOK, StatusResponse{Info: s.gw.Info(), Usage: u, Turns: turns, Sessions: sessions})
}

func (s *Server) handleSessions(c *gin.Context) {
	sessions, err := s.gw.Sessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleClear(c *gin.Context) {
	if err := s.gw.Clear(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func statusFor(err error) int {
	var pe *model.ProviderError
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &pe):
		if pe.Kind == model.KindRateLimit {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorBody(err error) gin.H {
	body := gin.H{"error": err.Error()}
	var te *chat.TurnError
	if errors.As(err, &te) && te.Partial != "" {
		body["partial"] = te.Partial
	}
	var pe *model.ProviderError
	if errors.As(err, &pe) {
		body["kind"] = string(pe.Kind)
		body["retryable"] = pe.Retryable()
	}
	return body
}
