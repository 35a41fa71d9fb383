package llms

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ProviderOptions carries provider-specific tuning decoded from the
// agent's free-form provider_options map.
type ProviderOptions struct {
	TopP             *float64 `mapstructure:"top_p"`
	FrequencyPenalty *float64 `mapstructure:"frequency_penalty"`
	PresencePenalty  *float64 `mapstructure:"presence_penalty"`
	StopSequences    []string `mapstructure:"stop"`

	// Referer is sent as HTTP-Referer; some gateways use it for routing.
	Referer string `mapstructure:"referer"`

	// NumCtx sets the context window for local ollama models.
	NumCtx int `mapstructure:"num_ctx"`
}

// DecodeProviderOptions decodes the raw options map. Unknown keys are an
// error so typos surface at agent creation rather than silently at call
// time.
func DecodeProviderOptions(raw map[string]any) (ProviderOptions, error) {
	var opts ProviderOptions
	if len(raw) == 0 {
		return opts, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &opts,
		ErrorUnused: true,
	})
	if err != nil {
		return opts, fmt.Errorf("failed to build options decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		return opts, fmt.Errorf("invalid provider_options: %w", err)
	}

	return opts, nil
}
