package hooks

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// HandlerType names which handler implementation a HandlerConfig configures.
type HandlerType string

const (
	HandlerTypeScript          HandlerType = "script"
	HandlerTypeExternalCommand HandlerType = "external_command"
	HandlerTypeBuiltIn         HandlerType = "built_in"
)

// SecurityConfig carries the security posture threaded through the
// configuration document. Enforcing these values is an external
// collaborator's responsibility; the dispatcher only persists and validates
// their shape.
type SecurityConfig struct {
	RequireSignedHandlers bool     `toml:"require_signed_handlers"`
	SandboxHandlers       bool     `toml:"sandbox_handlers"`
	AllowedNamespaces     []string `toml:"allowed_namespaces"`
}

// DefaultSecurityConfig returns the original system's documented defaults.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		RequireSignedHandlers: false,
		SandboxHandlers:       true,
		AllowedNamespaces:     []string{"system", "user", "custom"},
	}
}

// SystemConfig holds the engine-wide settings of a configuration document.
type SystemConfig struct {
	Enabled                 bool           `toml:"enabled"`
	HandlerTimeoutMs        uint64         `toml:"handler_timeout_ms"`
	MaxConcurrentHooks      int            `toml:"max_concurrent_hooks"`
	EnableParallelExecution bool           `toml:"enable_parallel_execution"`
	EnableHandlerPooling    bool           `toml:"enable_handler_pooling"`
	EnableResultCaching     bool           `toml:"enable_result_caching"`
	Security                SecurityConfig `toml:"security"`
}

// DefaultSystemConfig returns the original system's documented defaults.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		Enabled:                 true,
		HandlerTimeoutMs:        5000,
		MaxConcurrentHooks:      10,
		EnableParallelExecution: true,
		EnableHandlerPooling:    true,
		EnableResultCaching:     true,
		Security:                DefaultSecurityConfig(),
	}
}

// ScriptConfig configures an in-process script-backed handler (§4.E): the
// script body plus which context values get spliced into its prelude.
// Subprocess invocation is ExternalCommandConfig's concern, not this one.
type ScriptConfig struct {
	Script      string            `toml:"script"`
	ContextKeys []string          `toml:"context_keys,omitempty"`
	Variables   map[string]string `toml:"variables,omitempty"`
}

// ExternalCommandConfig configures an external-command handler (§4.F).
type ExternalCommandConfig struct {
	Command   string            `toml:"command"`
	Args      []string          `toml:"args,omitempty"`
	Env       map[string]string `toml:"env,omitempty"`
	TimeoutMs uint64            `toml:"timeout_ms"`
}

// DefaultExternalCommandConfig fills in the documented default timeout.
func DefaultExternalCommandConfig() ExternalCommandConfig {
	return ExternalCommandConfig{TimeoutMs: 2000}
}

// BuiltInConfig configures one of the built-in handlers (§4.D); Kind selects
// which built-in Fields targets, and Fields is passed through verbatim as
// that handler's own config map.
type BuiltInConfig struct {
	Kind   string         `toml:"kind"`
	Fields map[string]any `toml:"fields,omitempty"`
}

// HandlerConfig describes one configured handler: its registry name, which
// implementation it binds to, which hook types it fires on, and its
// type-specific configuration. Exactly one of Script/ExternalCommand/BuiltIn
// is populated, selected by Type.
type HandlerConfig struct {
	Name      string       `toml:"name"`
	Type      HandlerType  `toml:"handler_type"`
	HookTypes []HookType   `toml:"hook_types"`
	Priority  HookPriority `toml:"priority"`
	Enabled   bool         `toml:"enabled"`
	CreatedAt time.Time    `toml:"created_at"`
	UpdatedAt time.Time    `toml:"updated_at"`

	Script          *ScriptConfig          `toml:"script_config,omitempty"`
	ExternalCommand *ExternalCommandConfig `toml:"external_command_config,omitempty"`
	BuiltIn         *BuiltInConfig         `toml:"built_in_config,omitempty"`
}

// HooksConfig is the whole on-disk configuration document.
type HooksConfig struct {
	System   SystemConfig    `toml:"system"`
	Handlers []HandlerConfig `toml:"handlers"`
}

// DefaultHooksConfig returns an empty, otherwise-defaulted document.
func DefaultHooksConfig() HooksConfig {
	return HooksConfig{System: DefaultSystemConfig()}
}

// LoadHooksConfig reads and parses a TOML configuration document from path,
// validating it before returning.
func LoadHooksConfig(path string) (HooksConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return HooksConfig{}, &IoError{Source: err}
	}
	cfg := DefaultHooksConfig()
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return HooksConfig{}, &SerializationError{Source: err}
	}
	if err := cfg.Validate(); err != nil {
		return HooksConfig{}, err
	}
	return cfg, nil
}

// Save writes the document back to path as TOML, overwriting any existing
// file. Persistence is whole-file: reconciling with a running dispatcher is
// the caller's responsibility.
func (c HooksConfig) Save(path string) error {
	raw, err := toml.Marshal(c)
	if err != nil {
		return &SerializationError{Source: err}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return &IoError{Source: err}
	}
	return nil
}

// Validate checks handler name uniqueness, non-empty hook type lists, that
// every hook_types entry parses as a recognised HookType, and that every
// referenced handler_type is recognised.
func (c HooksConfig) Validate() error {
	seen := make(map[string]bool, len(c.Handlers))
	for _, h := range c.Handlers {
		if h.Name == "" {
			return &InvalidConfigurationError{Message: "handler name must not be empty"}
		}
		if seen[h.Name] {
			return &InvalidConfigurationError{Message: fmt.Sprintf("duplicate handler name: %s", h.Name)}
		}
		seen[h.Name] = true
		if len(h.HookTypes) == 0 {
			return &InvalidConfigurationError{Message: fmt.Sprintf("handler %s: hook_types must not be empty", h.Name)}
		}
		for _, ht := range h.HookTypes {
			if _, err := ParseHookType(string(ht)); err != nil {
				return &InvalidConfigurationError{Message: fmt.Sprintf("handler %s: %s", h.Name, err)}
			}
		}
		switch h.Type {
		case HandlerTypeScript, HandlerTypeExternalCommand, HandlerTypeBuiltIn:
		default:
			return &InvalidConfigurationError{Message: fmt.Sprintf("handler %s: unknown handler_type %q", h.Name, h.Type)}
		}
	}
	return nil
}

// HandlersForHook returns every configured handler that fires on hookType,
// in configuration order (priority ordering is applied once registered with
// a Dispatcher).
func (c HooksConfig) HandlersForHook(hookType HookType) []HandlerConfig {
	var out []HandlerConfig
	for _, h := range c.Handlers {
		for _, ht := range h.HookTypes {
			if ht == hookType {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

// HandlerTimeout returns the system's handler timeout as a time.Duration.
func (s SystemConfig) HandlerTimeout() time.Duration {
	return time.Duration(s.HandlerTimeoutMs) * time.Millisecond
}

// Timeout returns the external command's timeout as a time.Duration,
// defaulting to 2000ms when unset.
func (e ExternalCommandConfig) Timeout() time.Duration {
	if e.TimeoutMs == 0 {
		return 2000 * time.Millisecond
	}
	return time.Duration(e.TimeoutMs) * time.Millisecond
}
