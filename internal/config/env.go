package config

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// EnvPrefix is the prefix of environment variables mapped onto config keys.
const EnvPrefix = "AS__"

// Search walks up from startDir looking for filename and returns its path, or
// "" if it was not found.
func Search(filename string, startDir string) string {
	d, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}
	for {
		p := filepath.Join(d, filename)
		if _, err := os.Stat(p); err == nil {
			return p
		}
		next := filepath.Dir(d)
		if next == d {
			return ""
		}
		d = next
	}
}

// TransformEnv converts AS__BACKEND__REQUEST_TIMEOUT to backend.requestTimeout.
//   - The AS__ prefix is removed
//   - Double underscores separate key segments
//   - Single underscores within a segment become camelCase
func TransformEnv(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	segments := strings.Split(s, "__")
	for i, segment := range segments {
		parts := strings.Split(segment, "_")
		for j := 1; j < len(parts); j++ {
			parts[j] = capitalize(parts[j])
		}
		segments[i] = strings.Join(parts, "")
	}
	return strings.Join(segments, ".")
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
