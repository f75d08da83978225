package config

import (
	"os"
	"regexp"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvWithDefaults replaces ${VAR} and ${VAR:-default} references.
// ${VAR} expands to "" when VAR is unset; ${VAR:-default} expands to default
// when VAR is unset or empty. Bare $VAR is left alone.
func ExpandEnvWithDefaults(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRefPattern.FindStringSubmatch(ref)
		value := os.Getenv(m[1])
		if value == "" && m[2] != "" {
			return m[3]
		}
		return value
	})
}
