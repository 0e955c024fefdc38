package toolcall

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"relay/internal/model"
)

func TestParseInlineTwoParamsKeepsProse(t *testing.T) {
	text := "Sure, let me check that for you.\n" +
		"<tool_call name=\"get_weather\">\n" +
		"<param name=\"city\">Athens</param>\n" +
		"<param name=\"unit\">celsius</param>\n" +
		"</tool_call>\n" +
		"I'll report back shortly."

	prose, calls, err := ParseInline(text)
	require.NoError(t, err)
	require.Equal(t, "Sure, let me check that for you.\n\nI'll report back shortly.", prose)
	require.Len(t, calls, 1)
	require.Equal(t, "get_weather", calls[0].Name)
	require.Equal(t, map[string]any{"city": "Athens", "unit": "celsius"}, calls[0].Arguments)
	require.True(t, strings.HasPrefix(calls[0].ID, "call_"))
	require.True(t, calls[0].Textual)
}

func TestParseInlineRawValues(t *testing.T) {
	text := "<tool_call name=\"shell\"><param name=\"command\">\nls -la | grep \"x\" && echo 'a & b'\n</param></tool_call>"
	prose, calls, err := ParseInline(text)
	require.NoError(t, err)
	require.Empty(t, prose)
	require.Equal(t, `ls -la | grep "x" && echo 'a & b'`, calls[0].Arguments["command"])
}

func TestParseInlineMultipleCallsGetDistinctIDs(t *testing.T) {
	text := `<tool_call name="a"></tool_call> and <tool_call name="b"><param name="x">1</param></tool_call>`
	prose, calls, err := ParseInline(text)
	require.NoError(t, err)
	require.Equal(t, " and ", prose)
	require.Len(t, calls, 2)
	require.NotEqual(t, calls[0].ID, calls[1].ID)
	require.Empty(t, calls[0].Arguments)
}

func TestParseInlineRejectsMalformedMarkers(t *testing.T) {
	tests := map[string]string{
		"unclosed call":       `<tool_call name="a"><param name="x">1</param>`,
		"unclosed param":      `<tool_call name="a"><param name="x">1</tool_call>`,
		"stray close":         `hello </tool_call>`,
		"stray param":         `<param name="x">1</param>`,
		"nested call":         `<tool_call name="a"><tool_call name="b"></tool_call></tool_call>`,
		"nested param":        `<tool_call name="a"><param name="x"><param name="y">1</param></param></tool_call>`,
		"missing name":        `<tool_call><param name="x">1</param></tool_call>`,
		"empty param name":    `<tool_call name="a"><param name="">1</param></tool_call>`,
		"duplicate param":     `<tool_call name="a"><param name="x">1</param><param name="x">2</param></tool_call>`,
		"text between params": `<tool_call name="a">oops<param name="x">1</param></tool_call>`,
		"close param outside": `<tool_call name="a"></param></tool_call>`,
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseInline(text)
			var de *model.DecodeError
			require.True(t, errors.As(err, &de), "expected DecodeError, got %v", err)
		})
	}
}

func TestParseInlineWithoutMarkers(t *testing.T) {
	prose, calls, err := ParseInline("just <b>html</b> and text")
	require.NoError(t, err)
	require.Equal(t, "just <b>html</b> and text", prose)
	require.Empty(t, calls)
}

func TestExtractNativeDedupesAndSynthesizesIDs(t *testing.T) {
	calls := []model.ToolCallRequest{
		{ID: "c1", Name: "a", Arguments: map[string]any{"x": 1.0}},
		{ID: "c1", Name: "a", Arguments: map[string]any{"x": 2.0}},
		{Name: "b"},
	}
	ext, err := Extract(model.ToolCallFormatNative, "text <tool_call name=\"z\"></tool_call>", calls)
	require.NoError(t, err)
	require.Equal(t, "text <tool_call name=\"z\"></tool_call>", ext.Text, "native format must not scan text")
	require.Len(t, ext.Calls, 2)
	require.Equal(t, 1.0, ext.Calls[0].Arguments["x"])
	require.NotEmpty(t, ext.Calls[1].ID)
	require.NotNil(t, ext.Calls[1].Arguments)
}

func TestExtractInlineMergesStructuredCalls(t *testing.T) {
	ext, err := Extract(model.ToolCallFormatInlineTagged, `Hi <tool_call name="b"></tool_call>`,
		[]model.ToolCallRequest{{ID: "c1", Name: "a"}})
	require.NoError(t, err)
	require.Equal(t, "Hi ", ext.Text)
	require.Len(t, ext.Calls, 2)
	require.Equal(t, "a", ext.Calls[0].Name)
	require.Equal(t, "b", ext.Calls[1].Name)
}

func TestRenderCallRoundTrips(t *testing.T) {
	call := model.ToolCallRequest{ID: "x", Name: "file", Arguments: map[string]any{"method": "read", "path": "/tmp/a b.txt"}}
	_, calls, err := ParseInline(RenderCall(call))
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.Equal(t, call.Name, calls[0].Name)
	require.Equal(t, call.Arguments, calls[0].Arguments)
}

func TestRenderInstructionsListsParameters(t *testing.T) {
	tool := model.ToolDefinition("get_weather", "Current weather for a city", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string", "description": "City name"},
			"unit": map[string]any{"type": "string"},
		},
		"required": []string{"city"},
	})
	out := RenderInstructions([]llms.Tool{tool})
	require.Contains(t, out, "<tool_call name=\"TOOL_NAME\">")
	require.Contains(t, out, "- get_weather: Current weather for a city")
	require.Contains(t, out, "city (string, required): City name")
	require.Contains(t, out, "unit (string)")
}

func TestNameMapRestoresShortenedNames(t *testing.T) {
	long := strings.Repeat("very_long_tool_name_", 5)
	m := NewNameMap([]string{"short", long}, 32)
	out := m.Outbound(long)
	require.LessOrEqual(t, len(out), 32)
	calls := []model.ToolCallRequest{{Name: out}, {Name: "short"}, {Name: "unknown"}}
	m.Restore(calls)
	require.Equal(t, long, calls[0].Name)
	require.Equal(t, "short", calls[1].Name)
	require.Equal(t, "unknown", calls[2].Name)
}

func TestStripInline(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no markup", "plain text", "plain text"},
		{"closed block", "a <tool_call name=\"x\"><param name=\"k\">v</param></tool_call> b", "a  b"},
		{"unclosed block", "a <tool_call name=\"x\">\n<param name=\"k\">va", "a "},
		{"half written marker", "a <tool_ca", "a "},
		{"half written attrs", "a <tool_call name=\"x", "a "},
		{"unrelated angle", "x < y", "x < y"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, StripInline(tc.in))
		})
	}
}
