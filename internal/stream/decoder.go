// Package stream reduces an ordered sequence of stream chunks into
// accumulated text and tool calls.
package stream

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"relay/internal/model"
)

type fragment struct {
	id   strings.Builder
	name strings.Builder
	args strings.Builder
}

// Decoder is a pure reducer over StreamChunks. It is not safe for concurrent
// use; one decoder belongs to one round.
type Decoder struct {
	text   strings.Builder
	frags  map[int]*fragment
	chunks int
}

func NewDecoder() *Decoder {
	return &Decoder{frags: make(map[int]*fragment)}
}

// Apply folds one chunk into the accumulated state.
func (d *Decoder) Apply(c model.StreamChunk) {
	d.chunks++
	if c.Text != "" {
		d.text.WriteString(c.Text)
	}
	if c.ToolCall == nil {
		return
	}
	f, ok := d.frags[c.ToolCall.Index]
	if !ok {
		f = &fragment{}
		d.frags[c.ToolCall.Index] = f
	}
	f.id.WriteString(c.ToolCall.IDDelta)
	f.name.WriteString(c.ToolCall.NameDelta)
	f.args.WriteString(c.ToolCall.ArgumentsDelta)
}

func (d *Decoder) Text() string { return d.text.String() }

// Chunks is the number of chunks applied so far.
func (d *Decoder) Chunks() int { return d.chunks }

// Resolve turns every fragment buffer into a ToolCallRequest, ordered by
// fragment index. A buffer with no name or with arguments that are not a
// JSON object yields a *model.DecodeError. IDs are passed through as
// received and may be empty.
func (d *Decoder) Resolve() ([]model.ToolCallRequest, error) {
	if len(d.frags) == 0 {
		return nil, nil
	}
	indexes := make([]int, 0, len(d.frags))
	for idx := range d.frags {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]model.ToolCallRequest, 0, len(indexes))
	for _, idx := range indexes {
		f := d.frags[idx]
		name := strings.TrimSpace(f.name.String())
		if name == "" {
			return nil, &model.DecodeError{Index: idx, Message: "tool call has no name"}
		}
		args, err := DecodeArguments(f.args.String())
		if err != nil {
			return nil, &model.DecodeError{Index: idx, Message: "arguments for " + name + " are not a JSON object", Err: err}
		}
		out = append(out, model.ToolCallRequest{
			ID:        strings.TrimSpace(f.id.String()),
			Name:      name,
			Arguments: args,
		})
	}
	return out, nil
}

// DecodeArguments parses a tool-call argument string. Blank input and JSON
// null are an empty object; anything other than a JSON object is an error.
func DecodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after offset %d", dec.InputOffset())
	}
	switch obj := v.(type) {
	case map[string]any:
		return obj, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("expected object, got %T", v)
	}
}

// Replay runs chunks through a fresh decoder.
func Replay(chunks []model.StreamChunk) (string, []model.ToolCallRequest, error) {
	d := NewDecoder()
	for _, c := range chunks {
		d.Apply(c)
	}
	calls, err := d.Resolve()
	return d.Text(), calls, err
}

// FromResponse expresses a non-streamed response as the chunk sequence a
// streaming backend would have produced, so both paths share one reducer.
func FromResponse(resp *model.Response) []model.StreamChunk {
	if resp == nil {
		return nil
	}
	out := make([]model.StreamChunk, 0, len(resp.ToolCalls)+1)
	if resp.Text != "" {
		out = append(out, model.StreamChunk{Text: resp.Text})
	}
	for i, tc := range resp.ToolCalls {
		out = append(out, model.StreamChunk{ToolCall: &model.ToolCallFragment{
			Index:          i,
			IDDelta:        tc.ID,
			NameDelta:      tc.Name,
			ArgumentsDelta: tc.Arguments,
		}})
	}
	return out
}
