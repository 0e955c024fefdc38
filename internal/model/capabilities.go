package model

import "fmt"

type ToolCallFormat string

const (
	ToolCallFormatNative       ToolCallFormat = "native"
	ToolCallFormatInlineTagged ToolCallFormat = "inline_tagged"
)

func ParseToolCallFormat(s string) (ToolCallFormat, error) {
	switch ToolCallFormat(s) {
	case ToolCallFormatNative, ToolCallFormatInlineTagged:
		return ToolCallFormat(s), nil
	case "inlineTagged", "inline":
		return ToolCallFormatInlineTagged, nil
	default:
		return "", fmt.Errorf("unknown tool call format: %q", s)
	}
}

// Capabilities are the static facts about a backend, consulted once per turn.
type Capabilities struct {
	SupportsVision         bool           `json:"supports_vision"`
	SupportsTools          bool           `json:"supports_tools"`
	SupportsStreaming      bool           `json:"supports_streaming"`
	SupportsSystemMessages bool           `json:"supports_system_messages"`
	MaxToolNameLength      int            `json:"max_tool_name_length,omitempty"` // 0 means unlimited
	ToolCallFormat         ToolCallFormat `json:"tool_call_format"`
}

// NativeTools reports whether tool definitions travel as structured request
// fields rather than prompt text.
func (c Capabilities) NativeTools() bool {
	return c.SupportsTools && c.ToolCallFormat != ToolCallFormatInlineTagged
}

// CapabilityOverride replaces individual descriptor fields. Nil fields keep
// the provider default.
type CapabilityOverride struct {
	SupportsVision         *bool   `mapstructure:"supports_vision" json:"supports_vision,omitempty"`
	SupportsTools          *bool   `mapstructure:"supports_tools" json:"supports_tools,omitempty"`
	SupportsStreaming      *bool   `mapstructure:"supports_streaming" json:"supports_streaming,omitempty"`
	SupportsSystemMessages *bool   `mapstructure:"supports_system_messages" json:"supports_system_messages,omitempty"`
	MaxToolNameLength      *int    `mapstructure:"max_tool_name_length" json:"max_tool_name_length,omitempty"`
	ToolCallFormat         *string `mapstructure:"tool_call_format" json:"tool_call_format,omitempty"`
}

func (o CapabilityOverride) Apply(c Capabilities) (Capabilities, error) {
	if o.SupportsVision != nil {
		c.SupportsVision = *o.SupportsVision
	}
	if o.SupportsTools != nil {
		c.SupportsTools = *o.SupportsTools
	}
	if o.SupportsStreaming != nil {
		c.SupportsStreaming = *o.SupportsStreaming
	}
	if o.SupportsSystemMessages != nil {
		c.SupportsSystemMessages = *o.SupportsSystemMessages
	}
	if o.MaxToolNameLength != nil {
		if *o.MaxToolNameLength < 0 {
			return c, fmt.Errorf("max_tool_name_length must be >= 0, got %d", *o.MaxToolNameLength)
		}
		c.MaxToolNameLength = *o.MaxToolNameLength
	}
	if o.ToolCallFormat != nil {
		f, err := ParseToolCallFormat(*o.ToolCallFormat)
		if err != nil {
			return c, err
		}
		c.ToolCallFormat = f
	}
	return c, nil
}
