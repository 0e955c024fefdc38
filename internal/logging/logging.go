package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"relay/internal/chat"
)

// New builds the process logger. Development mode writes human-readable
// console lines; otherwise output is JSON.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	// stdout belongs to the conversation
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Listener writes turn lifecycle events to a logger.
type Listener struct {
	logger *zap.Logger
}

func NewListener(logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{logger: logger}
}

func (l *Listener) OnEvent(e chat.Event) {
	fields := []zap.Field{zap.String("turn_id", e.TurnID), zap.Int("round", e.Round)}
	switch e.Kind {
	case chat.EventTurnStarted:
		l.logger.Debug("turn started", fields...)
	case chat.EventToolsDispatched:
		l.logger.Info("tools dispatched", append(fields, zap.Int("count", e.Count))...)
	case chat.EventToolCompleted:
		fields = append(fields,
			zap.String("tool", e.ToolName),
			zap.String("tool_call_id", e.ToolCallID),
			zap.Bool("success", e.Success))
		if e.Success {
			l.logger.Debug("tool completed", fields...)
		} else {
			l.logger.Warn("tool failed", fields...)
		}
	case chat.EventTurnFinished:
		l.logger.Info("turn finished", append(fields,
			zap.Int64("prompt_tokens", e.Usage.PromptTokens),
			zap.Int64("completion_tokens", e.Usage.CompletionTokens),
			zap.Int64("total_tokens", e.Usage.TotalTokens))...)
	case chat.EventTurnErrored:
		l.logger.Error("turn failed", append(fields, zap.Error(e.Err))...)
	}
}
