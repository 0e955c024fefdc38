// Package toolcall turns accumulated model output into normalized tool
// invocation requests, for both structured and inline-tagged encodings.
package toolcall

import (
	"github.com/google/uuid"

	"relay/internal/model"
)

// Extraction is the text a round contributes to the transcript plus the tool
// calls it asked for.
type Extraction struct {
	Text  string
	Calls []model.ToolCallRequest
}

// Extract normalizes one round's output. calls are the structured calls the
// stream decoder resolved; with the inline-tagged format the text is also
// scanned for tagged calls, which are removed from the returned text.
func Extract(format model.ToolCallFormat, text string, calls []model.ToolCallRequest) (Extraction, error) {
	out := Extraction{Text: text}
	seen := make(map[string]struct{}, len(calls))

	add := func(c model.ToolCallRequest) error {
		if c.Name == "" {
			return &model.DecodeError{Index: -1, Message: "tool call " + c.ID + " has no name"}
		}
		if c.Arguments == nil {
			c.Arguments = map[string]any{}
		}
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
		if _, dup := seen[c.ID]; dup {
			return nil
		}
		seen[c.ID] = struct{}{}
		out.Calls = append(out.Calls, c)
		return nil
	}

	for _, c := range calls {
		if err := add(c); err != nil {
			return Extraction{}, err
		}
	}

	if format == model.ToolCallFormatInlineTagged {
		prose, inline, err := ParseInline(text)
		if err != nil {
			return Extraction{}, err
		}
		out.Text = prose
		for _, c := range inline {
			if err := add(c); err != nil {
				return Extraction{}, err
			}
		}
	}
	return out, nil
}

// NameMap translates between registry tool names and the possibly shortened
// names a backend sees.
type NameMap struct {
	limit   int
	inbound map[string]string
}

func NewNameMap(names []string, limit int) NameMap {
	m := NameMap{limit: limit, inbound: make(map[string]string, len(names))}
	for _, n := range names {
		m.inbound[model.ShortenToolName(n, limit)] = n
	}
	return m
}

func (m NameMap) Outbound(name string) string {
	return model.ShortenToolName(name, m.limit)
}

// Inbound returns the registry name for a name the backend produced. Unknown
// names are returned as is so validation can report them.
func (m NameMap) Inbound(name string) string {
	if orig, ok := m.inbound[name]; ok {
		return orig
	}
	return name
}

// Restore rewrites call names in place to their registry names.
func (m NameMap) Restore(calls []model.ToolCallRequest) {
	for i := range calls {
		calls[i].Name = m.Inbound(calls[i].Name)
	}
}
