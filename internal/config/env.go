package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error; it reports whether the file was loaded.
func LoadEnvFile(path string) (bool, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return false, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("env file %s: %w", path, err)
	}
	return true, nil
}

var reEnvRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${VAR} references in the fields that commonly hold
// secrets or per-host values: owner, private_key, provider endpoints and the
// alert token. An unset variable is an error naming the field.
func ExpandEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	expand := func(field string, v *string) {
		out, err := expandRefs(*v, lookup)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*v = out
	}

	expand("network.provider_endpoint", &cfg.Network.ProviderEndpoint)
	expand("alerts.telegram.token", &cfg.Alerts.Telegram.Token)
	for i := range cfg.Claims {
		cl := &cfg.Claims[i]
		prefix := fmt.Sprintf("claims[%d]", i)
		expand(prefix+".owner", &cl.Owner)
		expand(prefix+".private_key", &cl.PrivateKey)
		if cl.Network != nil {
			expand(prefix+".network.provider_endpoint", &cl.Network.ProviderEndpoint)
		}
	}
	return errors.Join(errs...)
}

func expandRefs(s string, lookup func(string) (string, bool)) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	var missing []string
	out := reEnvRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[2 : len(ref)-1]
		v, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
			return ""
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("environment variable %s is not set", strings.Join(missing, ", "))
	}
	return out, nil
}
