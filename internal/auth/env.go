package auth

import (
	"os"
	"strings"
)

// APIKeyEnv is the environment variable holding an API key. It takes priority
// over every stored credential and is matched case-insensitively.
const APIKeyEnv = "HOPX_API_KEY"

// LookupEnvFold returns the value of the environment variable named key,
// matched case-insensitively. An exact-case match wins; empty values count as unset.
func LookupEnvFold(key string) (string, bool) {
	return lookupFold(os.Environ(), key)
}

func lookupFold(environ []string, key string) (string, bool) {
	var folded string
	for _, kv := range environ {
		name, value, found := strings.Cut(kv, "=")
		if !found || value == "" {
			continue
		}
		if name == key {
			return value, true
		}
		if folded == "" && strings.EqualFold(name, key) {
			folded = value
		}
	}
	return folded, folded != ""
}
