package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/hopx-ai/hopx-cli/internal/app"
	"github.com/hopx-ai/hopx-cli/internal/auth"
)

// envPrefix is stripped from environment variables during config loading (e.g., HOPX_AUTH__STORAGE → auth.storage)
const envPrefix = "HOPX_"

// resolveConfigPath returns the explicit path, or the default config file when it exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	path, err := app.DefaultConfigPath()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			// Surface unreadable default files through the file provider
			return path
		}
		return ""
	}
	return path
}

// loadConfig loads application configuration from various sources with precedence:
// config file → environment variables → CLI flags → defaults
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	// 1. Load from config file if provided
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// 2. Load from environment variables
	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			// The API key is a credential, not configuration
			if key == auth.APIKeyEnv {
				return "", nil
			}
			stripped := strings.TrimPrefix(key, envPrefix)
			nested := strings.ToLower(strings.ReplaceAll(stripped, "__", "."))
			return nested, value
		},
		EnvironFunc: foldEnviron(environFunc),
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	// 3. Load from CLI flags if provided
	if cmd != nil {
		if err := k.Load(confmap.Provider(flagOverrides(cmd), "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// foldEnviron upper-cases the names of prefixed variables so that hopx_profile
// and HOPX_PROFILE are equivalent. Exactly upper-cased names win over folded ones.
func foldEnviron(environFunc func() []string) func() []string {
	return func() []string {
		var folded, exact []string
		for _, kv := range environFunc() {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			upper := strings.ToUpper(key)
			if !strings.HasPrefix(upper, envPrefix) {
				continue
			}
			if key == upper {
				exact = append(exact, kv)
			} else {
				folded = append(folded, upper+"="+value)
			}
		}
		// Later entries override earlier ones
		return append(folded, exact...)
	}
}

// flagKey maps flag names onto config keys: a double dash separates
// sections and single dashes become underscores (--auth--storage → auth.storage).
var flagKey = strings.NewReplacer("--", ".", "-", "_")

// flagOverrides collects the flags the user set on cmd or any of its ancestors,
// keyed by config path. Flags left at their defaults are omitted so file and
// environment values still apply.
func flagOverrides(cmd *cli.Command) map[string]any {
	overrides := make(map[string]any)
	for _, name := range cmd.FlagNames() {
		if name == "config" || !cmd.IsSet(name) {
			continue
		}
		if value := cmd.Value(name); value != nil {
			overrides[flagKey.Replace(name)] = value
		}
	}
	return overrides
}
