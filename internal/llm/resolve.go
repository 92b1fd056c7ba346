package llm

import (
	"strings"

	"github.com/zenreply/zenreply/internal/config"
)

const (
	DefaultAPIBase = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"

	completionsPath = "/chat/completions"
)

// Credentials are the per-call connection settings. Empty fields fall back
// to the environment-derived config, then to built-in defaults.
type Credentials struct {
	APIKey  string `json:"apiKey,omitempty"`
	APIBase string `json:"apiBase,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ResolveCredentials applies the precedence explicit > fallback > default.
// Only the key has no default.
func ResolveCredentials(explicit Credentials, fallback config.API) (Credentials, error) {
	resolved := Credentials{
		APIKey:  firstNonEmpty(explicit.APIKey, fallback.Key),
		APIBase: firstNonEmpty(explicit.APIBase, fallback.Base, DefaultAPIBase),
		Model:   firstNonEmpty(explicit.Model, fallback.Model, DefaultModel),
	}
	if resolved.APIKey == "" {
		return Credentials{}, ErrMissingCredential
	}
	return resolved, nil
}

// Endpoint turns an API base into the chat-completions URL. A base that
// already points at the endpoint is used as is.
func Endpoint(base string) string {
	normalized := strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(normalized, completionsPath) {
		return normalized
	}
	return normalized + completionsPath
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
