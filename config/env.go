// This file expands ${VAR}/${VAR:-default}/$VAR references in a decoded
// workflow-engine config document against the process environment, and
// loads .env/.env.local ahead of that expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ============================================================================
// ENVIRONMENT VARIABLE UTILITIES
// ============================================================================

// refPattern groups the three reference forms a config document may use,
// matched most-specific first so "${VAR:-default}" never gets clobbered by
// the plainer "${VAR}" pattern.
var refPattern = struct {
	withDefault *regexp.Regexp // ${VAR:-default}
	braced      *regexp.Regexp // ${VAR}
	bare        *regexp.Regexp // $VAR
}{
	withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
	bare:        regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`),
}

// expandEnvVars resolves ${VAR:-default}, ${VAR}, and $VAR references in s
// against the process environment, in that precedence order.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = refPattern.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := refPattern.withDefault.FindStringSubmatch(match)
		if len(parts) == 3 {
			name, def := parts[1], parts[2]
			if val := os.Getenv(name); val != "" {
				return val
			}
			return def
		}
		return match
	})

	s = refPattern.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := refPattern.braced.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	s = refPattern.bare.ReplaceAllStringFunc(s, func(match string) string {
		parts := refPattern.bare.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	return s
}

// coerceScalar turns an expanded string back into the type it looks like it
// should be (bool, int, float) so a YAML field typed as an int doesn't end
// up a string just because its value came from an env var.
func coerceScalar(value string) interface{} {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if intVal, err := strconv.Atoi(value); err == nil {
		return intVal
	}
	if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		return floatVal
	}
	return value
}

// ExpandEnvVarsInData walks the map/slice tree produced by decoding the
// config YAML and expands env references in every string leaf, coercing
// expanded values back to bool/int/float where they parse as such.
func ExpandEnvVarsInData(data interface{}) interface{} {
	switch v := data.(type) {
	case string:
		expanded := expandEnvVars(v)
		if expanded != v {
			return coerceScalar(expanded)
		}
		return expanded

	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, value := range v {
			result[key] = ExpandEnvVarsInData(value)
		}
		return result

	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = ExpandEnvVarsInData(item)
		}
		return result

	default:
		return v
	}
}

// LoadEnvFiles loads .env.local then .env into the process environment,
// .env.local taking priority; an absent file is not an error.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: loading %s: %w", file, err)
		}
	}
	return nil
}
