package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/v2"
)

// Warning describes an unknown, misspelled or deprecated key.
type Warning struct {
	Key         string
	Deprecated  bool
	Suggestions []string
}

func (w Warning) String() string {
	if w.Deprecated {
		return fmt.Sprintf("'%s' is deprecated, use '%s'", w.Key, strings.Join(w.Suggestions, "', '"))
	}
	msg := fmt.Sprintf("'%s' is not a known config key", w.Key)
	switch len(w.Suggestions) {
	case 0:
	case 1:
		msg += fmt.Sprintf(". Did you mean '%s'?", w.Suggestions[0])
	default:
		msg += fmt.Sprintf(". Did you mean one of '%s'?", strings.Join(w.Suggestions, "', '"))
	}
	return msg
}

// Validate checks every loaded key against the registry.
func Validate(k *koanf.Koanf) []Warning {
	var warnings []Warning
	for _, key := range k.Keys() {
		if info, ok := Lookup(key); ok {
			if info.Deprecated {
				warnings = append(warnings, Warning{Key: key, Deprecated: true, Suggestions: []string{info.ReplacedBy}})
			}
			continue
		}
		if underNamespace(key) {
			continue
		}
		warnings = append(warnings, Warning{Key: key, Suggestions: SimilarKeys(key, 3)})
	}
	return warnings
}

// FormatWarnings renders warnings as an indented list.
func FormatWarnings(warnings []Warning) string {
	if len(warnings) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration warnings:\n")
	for _, w := range warnings {
		sb.WriteString("  - " + w.String() + "\n")
	}
	return sb.String()
}
