// Package config holds the registry of known configuration keys and the
// helpers used to load and validate them.
package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/knadh/koanf/v2"
)

// KeyInfo contains metadata about a known configuration key.
type KeyInfo struct {
	Key         string // Full key path, e.g. "backend.url"
	Description string // What the key controls
	Type        string // Type hint: "string", "int", "bool", "duration", "[]string"
	Default     any    // Optional default value

	// Namespace marks the key as a parent of free-form children, for example
	// "guard.homes" whose children are role names.
	Namespace bool

	Deprecated bool
	ReplacedBy string
}

var (
	registry   = make(map[string]KeyInfo)
	registryMu sync.RWMutex
)

// Register records metadata for configuration keys.
func Register(infos ...KeyInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, info := range infos {
		registry[info.Key] = info
	}
}

// RegisterDeprecated records a deprecated key and the key that replaces it.
func RegisterDeprecated(oldKey, newKey string) {
	Register(KeyInfo{Key: oldKey, Deprecated: true, ReplacedBy: newKey})
}

// Lookup returns metadata for a registered key.
func Lookup(key string) (KeyInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[key]
	return info, ok
}

// Keys returns all registered keys sorted alphabetically.
func Keys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Defaults returns the default value of every registered key that has one.
func Defaults() map[string]any {
	registryMu.RLock()
	defer registryMu.RUnlock()
	defaults := make(map[string]any)
	for key, info := range registry {
		if info.Default != nil {
			defaults[key] = info.Default
		}
	}
	return defaults
}

// ApplyDefaults sets registered defaults for keys missing from k.
func ApplyDefaults(k *koanf.Koanf) {
	for key, val := range Defaults() {
		if !k.Exists(key) {
			_ = k.Set(key, val)
		}
	}
}

// SimilarKeys returns up to max registered keys close to key, most similar
// first. Keys in the same namespace get a one point bonus.
func SimilarKeys(key string, max int) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	type scored struct {
		key   string
		score int
	}
	var candidates []scored
	prefix := parent(key)
	for registered := range registry {
		d := levenshtein.ComputeDistance(key, registered)
		if prefix != "" && prefix == parent(registered) && d > 0 {
			d--
		}
		if d <= 3 {
			candidates = append(candidates, scored{registered, d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].score < candidates[j].score
	})

	result := make([]string, 0, max)
	for i := 0; i < len(candidates) && i < max; i++ {
		result = append(result, candidates[i].key)
	}
	return result
}

// underNamespace reports whether some ancestor of key is registered as a
// namespace.
func underNamespace(key string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	parts := strings.Split(key, ".")
	for i := len(parts) - 1; i > 0; i-- {
		if info, ok := registry[strings.Join(parts[:i], ".")]; ok && info.Namespace {
			return true
		}
	}
	return false
}

func parent(key string) string {
	i := strings.LastIndex(key, ".")
	if i == -1 {
		return ""
	}
	return key[:i]
}

// reset clears the registry, for tests.
func reset() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]KeyInfo)
}
