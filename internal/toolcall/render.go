package toolcall

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"relay/internal/model"
)

// RenderInstructions describes the available tools and the inline marker
// grammar for backends without structured tool calling.
func RenderInstructions(tools []llms.Tool) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You can call tools. To call a tool, write a block exactly like this:\n\n")
	b.WriteString("<tool_call name=\"TOOL_NAME\">\n<param name=\"PARAM_NAME\">value</param>\n</tool_call>\n\n")
	b.WriteString("Write one <param> per argument, with the raw value and no quoting. ")
	b.WriteString("You may call several tools in one reply. Results come back in <tool_result> blocks. ")
	b.WriteString("When you need no more tools, answer normally without any tool_call block.\n\nAvailable tools:\n")
	for _, t := range tools {
		if t.Function == nil {
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %s\n", t.Function.Name, t.Function.Description)
		for _, p := range describeParams(t.Function.Parameters) {
			fmt.Fprintf(&b, "    - %s\n", p)
		}
	}
	return b.String()
}

func describeParams(schema any) []string {
	m, ok := asMap(schema)
	if !ok {
		return nil
	}
	props, _ := asMap(m["properties"])
	required := map[string]bool{}
	switch r := m["required"].(type) {
	case []string:
		for _, k := range r {
			required[k] = true
		}
	case []any:
		for _, k := range r {
			if s, ok := k.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, k := range names {
		def, _ := asMap(props[k])
		typ, _ := def["type"].(string)
		desc, _ := def["description"].(string)
		line := k
		if typ != "" {
			line += " (" + typ
			if required[k] {
				line += ", required"
			}
			line += ")"
		} else if required[k] {
			line += " (required)"
		}
		if desc != "" {
			line += ": " + desc
		}
		out = append(out, line)
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case nil:
		return nil, false
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, false
		}
		var m map[string]any
		if json.Unmarshal(b, &m) != nil {
			return nil, false
		}
		return m, true
	}
}

// RenderCall writes a call back in the inline grammar.
func RenderCall(c model.ToolCallRequest) string {
	keys := make([]string, 0, len(c.Arguments))
	for k := range c.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "<tool_call name=%q>\n", c.Name)
	for _, k := range keys {
		fmt.Fprintf(&b, "<param name=%q>%s</param>\n", k, paramValue(c.Arguments[k]))
	}
	b.WriteString("</tool_call>")
	return b.String()
}

func paramValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// RenderResults formats a round's results as one user-visible block, in
// request order. names maps call id to tool name.
func RenderResults(results []model.ToolCallResult, names map[string]string) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(RenderResult(r.ID, names[r.ID], r.Success, r.Text()))
	}
	return b.String()
}

// RenderResult formats a single tool result block.
func RenderResult(id, name string, success bool, body string) string {
	return fmt.Sprintf("<tool_result id=%q name=%q success=\"%t\">\n%s\n</tool_result>", id, name, success, body)
}
