package middleware

import (
	"unicode/utf8"

	"go.uber.org/zap"

	"relay/internal/usage"
)

func eventText(e *Event) string {
	if e == nil {
		return ""
	}
	switch e.Name {
	case EventBeforeLLMRequest:
		return e.UserText
	case EventAfterLLMResponse:
		return e.LLMText
	default:
		return ""
	}
}

func applyDecisionToEvent(e *Event, dec Decision) {
	if e == nil {
		return
	}
	if dec.OverrideParams != nil {
		e.Params = dec.OverrideParams
	}
	if dec.ReplaceText == nil {
		return
	}
	switch e.Name {
	case EventBeforeLLMRequest:
		e.UserText = *dec.ReplaceText
	case EventAfterLLMResponse:
		e.LLMText = *dec.ReplaceText
	}
}

func debugLog(l *zap.Logger, e *Event, r DecisionResult, inText, outText string) {
	ce := l.Check(zap.DebugLevel, "middleware decision")
	if ce == nil {
		return
	}

	inTok := usage.HeuristicTokens(inText)
	outTok := usage.HeuristicTokens(outText)
	saved := inTok - outTok
	var savedPct float64
	if inTok > 0 {
		savedPct = float64(saved) / float64(inTok)
	}

	ce.Write(
		zap.String("event", string(e.Name)),
		zap.String("middleware", r.MiddlewareID),
		zap.Int("priority", r.Priority),
		zap.Bool("skipped", r.Skipped),
		zap.String("reason", r.Decision.Reason),
		zap.Bool("cancel", r.Decision.Cancel),
		zap.Int("in_chars", utf8.RuneCountInString(inText)),
		zap.Int("out_chars", utf8.RuneCountInString(outText)),
		zap.Int("in_tokens_est", inTok),
		zap.Int("out_tokens_est", outTok),
		zap.Int("saved_tokens_est", saved),
		zap.Float64("saved_pct", savedPct),
	)
}
