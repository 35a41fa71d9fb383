package llms

import (
	"fmt"

	"github.com/kadirpekel/colony/pkg/config"
)

// NewProvider builds the adapter for one provider instance. Ollama speaks
// its native NDJSON protocol; everything else is OpenAI-compatible SSE.
func NewProvider(pc config.ProviderConfig, keySource KeySource) (Provider, error) {
	if pc.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}

	if pc.Name == "ollama" {
		return NewOllamaProvider(pc.Name, pc.BaseURL), nil
	}

	if pc.Local {
		// Local OpenAI-compatible gateways (litellm) need no key.
		return NewOpenAIProvider(pc.Name, pc.BaseURL, nil), nil
	}

	if keySource == nil {
		return nil, fmt.Errorf("provider %s: remote providers require a key source", pc.Name)
	}
	return NewOpenAIProvider(pc.Name, pc.BaseURL, keySource), nil
}
