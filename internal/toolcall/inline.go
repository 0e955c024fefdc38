package toolcall

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"relay/internal/model"
)

const (
	callTag  = "tool_call"
	paramTag = "param"
)

// marker matches every open or close tag of the inline grammar:
//
//	<tool_call name="NAME"> <param name="KEY">VALUE</param> </tool_call>
var marker = regexp.MustCompile(`<(/?)(tool_call|param)\b([^>]*)>`)

var nameAttr = regexp.MustCompile(`^\s*name\s*=\s*"([^"]*)"\s*$`)

// ParseInline splits text into prose and inline-tagged tool calls. Prose is
// the text outside every tool_call block, concatenated verbatim. Parameter
// values are raw text with at most one leading and one trailing newline
// removed. Any unbalanced or misnested marker is a *model.DecodeError.
func ParseInline(text string) (string, []model.ToolCallRequest, error) {
	locs := marker.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text, nil, nil
	}

	var (
		prose   strings.Builder
		calls   []model.ToolCallRequest
		cur     *model.ToolCallRequest
		param   string
		inParam bool
		cursor  int // end of the last consumed marker
	)
	fail := func(pos int, format string, args ...any) (string, []model.ToolCallRequest, error) {
		return "", nil, &model.DecodeError{Index: -1, Message: fmt.Sprintf("inline tool call at offset %d: ", pos) + fmt.Sprintf(format, args...)}
	}

	for _, loc := range locs {
		start, end := loc[0], loc[1]
		closing := loc[3] > loc[2]
		tag := text[loc[4]:loc[5]]
		attrs := text[loc[6]:loc[7]]
		between := text[cursor:start]

		switch {
		case cur == nil:
			if closing || tag != callTag {
				return fail(start, "unexpected %q outside a tool call", text[start:end])
			}
			name, ok := attrName(attrs)
			if !ok {
				return fail(start, "tool_call marker needs a non-empty name attribute")
			}
			prose.WriteString(between)
			cur = &model.ToolCallRequest{ID: "call_" + uuid.NewString(), Name: name, Arguments: map[string]any{}, Textual: true}

		case inParam:
			if !closing || tag != paramTag {
				return fail(start, "unexpected %q inside parameter %q", text[start:end], param)
			}
			cur.Arguments[param] = trimOneNewline(between)
			inParam = false

		default:
			if strings.TrimSpace(between) != "" {
				return fail(cursor, "text outside a parameter inside tool call %q", cur.Name)
			}
			switch {
			case !closing && tag == paramTag:
				name, ok := attrName(attrs)
				if !ok {
					return fail(start, "param marker needs a non-empty name attribute")
				}
				if _, dup := cur.Arguments[name]; dup {
					return fail(start, "duplicate parameter %q in tool call %q", name, cur.Name)
				}
				param = name
				inParam = true
			case closing && tag == callTag:
				calls = append(calls, *cur)
				cur = nil
			default:
				return fail(start, "unexpected %q inside tool call %q", text[start:end], cur.Name)
			}
		}
		cursor = end
	}

	if cur != nil {
		return fail(len(text), "tool call %q is not closed", cur.Name)
	}
	prose.WriteString(text[cursor:])
	return prose.String(), calls, nil
}

// StripInline removes tool_call blocks from text that may be cut off
// mid-stream. An unclosed block and a trailing half-written marker are
// dropped along with everything after them.
func StripInline(text string) string {
	var (
		out    strings.Builder
		inCall bool
		cursor int
	)
	for _, loc := range marker.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		closing := loc[3] > loc[2]
		tag := text[loc[4]:loc[5]]
		if !inCall {
			out.WriteString(text[cursor:start])
		}
		if tag == callTag {
			inCall = !closing
		}
		cursor = end
	}
	if inCall {
		return out.String()
	}
	rest := text[cursor:]
	if i := strings.LastIndexByte(rest, '<'); i >= 0 && isMarkerPrefix(rest[i:]) {
		rest = rest[:i]
	}
	out.WriteString(rest)
	return out.String()
}

func isMarkerPrefix(s string) bool {
	for _, full := range []string{"<" + callTag, "</" + callTag, "<" + paramTag, "</" + paramTag} {
		if strings.HasPrefix(full, s) || (strings.HasPrefix(s, full) && !strings.Contains(s, ">")) {
			return true
		}
	}
	return false
}

func attrName(attrs string) (string, bool) {
	m := nameAttr.FindStringSubmatch(attrs)
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	return name, name != ""
}

func trimOneNewline(s string) string {
	if strings.HasPrefix(s, "\r\n") {
		s = s[2:]
	} else {
		s = strings.TrimPrefix(s, "\n")
	}
	if strings.HasSuffix(s, "\r\n") {
		return s[:len(s)-2]
	}
	return strings.TrimSuffix(s, "\n")
}
