package authsync

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/edupath/authsync/internal/config"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Filename of the standard configuration file.
const ConfigFile = "authsync.yaml"

// ConfigKeyInfo contains metadata about a known configuration key.
type ConfigKeyInfo = config.KeyInfo

// Config is a global koanf instance used to access application level
// configuration options.
//
// Config is loaded in the following order (later sources override earlier):
//  1. Defaults of registered keys, applied on first access
//  2. Auto-discovered authsync.yaml (in init())
//  3. Environment variables with the AS__ prefix (in init())
//  4. Additional sources loaded via LoadConfigFile() or LoadConfigDefaults()
//
// Environment variable transformation:
//   - AS__BACKEND__URL → backend.url
//   - AS__GUARD__LOADING_TIMEOUT → guard.loadingTimeout
var Config = koanf.New(".")

const (
	defaultPort = 8080
	defaultHost = "localhost"
)

var defaultsOnce sync.Once

func init() {
	config.Register(
		ConfigKeyInfo{
			Key:         "name",
			Description: "User-facing name of the gateway",
			Type:        "string",
			Default:     "authsync",
		},
		ConfigKeyInfo{
			Key:         "address",
			Description: "External address of the gateway, used to build redirect URLs",
			Type:        "string",
			Default:     "http://" + net.JoinHostPort(defaultHost, strconv.Itoa(defaultPort)),
		},
		ConfigKeyInfo{
			Key:         "server.host",
			Description: "Host to bind the gateway to",
			Type:        "string",
			Default:     defaultHost,
		},
		ConfigKeyInfo{
			Key:         "server.port",
			Description: "Port to bind the gateway to",
			Type:        "int",
			Default:     defaultPort,
		},
		ConfigKeyInfo{
			Key:         "server.shutdownTimeout",
			Description: "How long to wait for in-flight requests on shutdown",
			Type:        "duration",
			Default:     "10s",
		},
		ConfigKeyInfo{
			Key:         "logging.mode",
			Description: "Logger flavour, `dev` or `prod`",
			Type:        "string",
			Default:     "dev",
		},
	)

	if cfg := config.Search(ConfigFile, "."); cfg != "" {
		LoadConfigFile(cfg)
	}
	if err := Config.Load(env.Provider(config.EnvPrefix, ".", config.TransformEnv), nil); err != nil {
		panic("error loading env config: " + err.Error())
	}
}

// RegisterConfigKeys records metadata, including defaults, for configuration
// keys. Packages call this from init().
func RegisterConfigKeys(infos ...ConfigKeyInfo) {
	config.Register(infos...)
}

// LoadConfigFile loads additional configuration from a YAML file into the
// global Config instance.
func LoadConfigFile(path string) {
	if err := Config.Load(file.Provider(path), yaml.Parser()); err != nil {
		panic("error loading config file '" + path + "': " + err.Error())
	}
}

// LoadConfigDefaults loads values into the global Config instance. Values
// loaded here override earlier sources, tests use it to pin settings.
func LoadConfigDefaults(values map[string]any) {
	if err := Config.Load(confmap.Provider(values, "."), nil); err != nil {
		panic("error loading config defaults: " + err.Error())
	}
}

// ValidateConfig returns a warning for each loaded key that is unknown or
// deprecated.
func ValidateConfig() []config.Warning {
	ensureDefaults()
	return config.Validate(Config)
}

// ConfigKeys lists every registered key with its metadata.
func ConfigKeys() []ConfigKeyInfo {
	keys := config.Keys()
	infos := make([]ConfigKeyInfo, 0, len(keys))
	for _, k := range keys {
		info, _ := config.Lookup(k)
		infos = append(infos, info)
	}
	return infos
}

func ensureDefaults() {
	defaultsOnce.Do(func() {
		config.ApplyDefaults(Config)
	})
}

// ConfigString returns the string value for the given key.
func ConfigString(key string) string {
	ensureDefaults()
	return Config.String(key)
}

// ConfigInt returns the int value for the given key.
func ConfigInt(key string) int {
	ensureDefaults()
	return Config.Int(key)
}

// ConfigBool returns the bool value for the given key.
func ConfigBool(key string) bool {
	ensureDefaults()
	return Config.Bool(key)
}

// ConfigDuration returns the duration value for the given key. Duration
// strings like "5m" or "30s" are parsed automatically.
func ConfigDuration(key string) time.Duration {
	ensureDefaults()
	return Config.Duration(key)
}

// ConfigStrings returns the string slice value for the given key.
func ConfigStrings(key string) []string {
	ensureDefaults()
	return Config.Strings(key)
}

// ConfigStringMap returns the string map value for the given key.
func ConfigStringMap(key string) map[string]string {
	ensureDefaults()
	return Config.StringMap(key)
}

// ConfigExists checks if the given key exists in the configuration.
func ConfigExists(key string) bool {
	ensureDefaults()
	return Config.Exists(key)
}

// ConfigUnmarshal decodes the value at key into out.
func ConfigUnmarshal(key string, out any) error {
	ensureDefaults()
	return Config.Unmarshal(key, out)
}
