package usage

import (
	"math"
	"regexp"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"relay/internal/model"
)

// Encoder turns text into BPE token ids.
type Encoder interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

// Estimator approximates usage for providers that do not report it.
// The BPE encoder is loaded on first use; if it cannot be loaded the
// estimator falls back to a word-chunk heuristic.
type Estimator struct {
	once     sync.Once
	encoding string
	enc      Encoder
	load     func(string) (Encoder, error)
}

func NewEstimator() *Estimator {
	return &Estimator{encoding: "cl100k_base", load: loadEncoding}
}

// NewEstimatorWith uses enc directly. A nil enc selects the heuristic.
func NewEstimatorWith(enc Encoder) *Estimator {
	e := &Estimator{}
	e.once.Do(func() { e.enc = enc })
	return e
}

func loadEncoding(name string) (Encoder, error) {
	return tiktoken.GetEncoding(name)
}

func (e *Estimator) encoder() Encoder {
	e.once.Do(func() {
		if e.load == nil {
			return
		}
		if enc, err := e.load(e.encoding); err == nil {
			e.enc = enc
		}
	})
	return e.enc
}

// CountText returns the token count of s.
func (e *Estimator) CountText(s string) int {
	if s == "" {
		return 0
	}
	if enc := e.encoder(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return heuristicTokens(s)
}

// CountMessages counts the prompt side of a request: 4 tokens of framing
// per message plus content, tool calls and ids, and 3 tokens priming the
// reply.
func (e *Estimator) CountMessages(msgs []model.Message) int {
	tokens := 3
	for _, m := range msgs {
		tokens += 4 + e.CountText(string(m.Role)) + e.CountText(m.Text())
		for _, tc := range m.ToolCalls {
			tokens += 3 + e.CountText(tc.Name) + e.CountText(tc.ArgumentsJSON())
		}
		if m.ToolCallID != "" {
			tokens += e.CountText(m.ToolCallID)
		}
	}
	return tokens
}

// Estimate builds a Usage for one request/response exchange.
func (e *Estimator) Estimate(prompt []model.Message, completion string, calls []model.ToolCallRequest) model.Usage {
	in := int64(e.CountMessages(prompt))
	out := int64(e.CountText(completion))
	for _, c := range calls {
		out += int64(e.CountText(c.Name) + e.CountText(c.ArgumentsJSON()))
	}
	return model.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

// tokenish matches word-like chunks, including dotted or slashed technical
// tokens, and otherwise single non-space characters.
var tokenish = regexp.MustCompile(`[\pL\pN]+(?:[._/\\-][\pL\pN]+)*|[^\s]`)

func heuristicTokens(s string) int {
	chunks := len(tokenish.FindAllString(s, -1))
	chars := int(math.Ceil(float64(utf8.RuneCountInString(s)) / 4.0))
	if chunks < chars {
		return chars
	}
	return chunks
}

// HeuristicTokens exposes the fallback estimate for callers that must
// never touch the network.
func HeuristicTokens(s string) int {
	if s == "" {
		return 0
	}
	return heuristicTokens(s)
}
