package llm

import (
	"fmt"
	"sort"

	"relay/internal/model"
)

var capabilityTable = map[Provider]model.Capabilities{
	ProviderOpenAI: {
		SupportsVision:         true,
		SupportsTools:          true,
		SupportsStreaming:      true,
		SupportsSystemMessages: true,
		MaxToolNameLength:      64,
		ToolCallFormat:         model.ToolCallFormatNative,
	},
	ProviderOpenAICompatible: {
		SupportsTools:          true,
		SupportsStreaming:      true,
		SupportsSystemMessages: true,
		MaxToolNameLength:      64,
		ToolCallFormat:         model.ToolCallFormatNative,
	},
	ProviderAnthropic: {
		SupportsVision:         true,
		SupportsTools:          true,
		SupportsStreaming:      true,
		SupportsSystemMessages: true,
		MaxToolNameLength:      64,
		ToolCallFormat:         model.ToolCallFormatNative,
	},
	ProviderGemini: {
		SupportsVision:         true,
		SupportsTools:          true,
		SupportsStreaming:      true,
		SupportsSystemMessages: true,
		MaxToolNameLength:      64,
		ToolCallFormat:         model.ToolCallFormatNative,
	},
	// Local models rarely follow a function-calling schema reliably, so tools
	// are described in the prompt and parsed from the text.
	ProviderOllama: {
		SupportsTools:          true,
		SupportsStreaming:      true,
		SupportsSystemMessages: true,
		ToolCallFormat:         model.ToolCallFormatInlineTagged,
	},
}

// CapabilitiesFor returns the descriptor for provider with any configured
// override applied.
func CapabilitiesFor(provider Provider, overrides map[string]model.CapabilityOverride) (model.Capabilities, error) {
	caps, ok := capabilityTable[provider]
	if !ok {
		return model.Capabilities{}, fmt.Errorf("unsupported provider: %s", provider)
	}
	if o, ok := overrides[string(provider)]; ok {
		return o.Apply(caps)
	}
	return caps, nil
}

// Providers lists the known providers in name order.
func Providers() []Provider {
	out := make([]Provider, 0, len(capabilityTable))
	for p := range capabilityTable {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
