// Command hookenginectl is a demonstration host for the hook dispatch
// engine: it loads a TOML configuration document, builds a dispatcher,
// registers every enabled handler, fires a short startup sequence and lists
// the registered handlers, so the load, register and fire path can be
// exercised end to end without embedding a real scripting interpreter or
// MCP transport. It does not call the dispatcher's other operations
// (unregistering, toggling, rate limits, timeouts, stats or history).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tokligence/hookengine/internal/hooks"
	"github.com/tokligence/hookengine/internal/hooks/builtin"
	"github.com/tokligence/hookengine/internal/hookslog"
)

func main() {
	configPath := flag.String("config", "", "path to a hooks TOML configuration document (optional)")
	flag.Parse()

	logger := hookslog.New(os.Stdout, "hookenginectl")

	cfg := hooks.DefaultHooksConfig()
	if *configPath != "" {
		loaded, err := hooks.LoadHooksConfig(*configPath)
		if err != nil {
			log.Fatalf("load configuration: %v", err)
		}
		cfg = loaded
	}

	dispatcher := hooks.NewDispatcher(cfg.System.HandlerTimeout(), cfg.System.MaxConcurrentHooks, hookslog.New(os.Stdout, "hooks.dispatcher"))
	dispatcher.Lifecycle().RegisterObserver(hooks.NewLoggingObserver(hookslog.New(os.Stdout, "hooks.lifecycle")))

	if len(cfg.Handlers) == 0 {
		cfg.Handlers = demoHandlerConfigs()
	}

	for _, hc := range cfg.Handlers {
		if !hc.Enabled {
			continue
		}
		handler, err := buildHandler(hc, logger)
		if err != nil {
			log.Printf("skip handler %s: %v", hc.Name, err)
			continue
		}
		if err := dispatcher.Register(hc.HookTypes, handler, hc.Priority); err != nil {
			log.Printf("register handler %s: %v", hc.Name, err)
		}
	}

	ctx := context.Background()
	fire(ctx, dispatcher, hooks.ServerStartup, map[string]any{"version": "demo"})
	fire(ctx, dispatcher, hooks.ServerInitialized, map[string]any{"handlers": len(cfg.Handlers)})

	result := fire(ctx, dispatcher, hooks.RequestReceived, map[string]any{
		"method": "tools/call",
		"tool":   "demo.echo",
	})
	fmt.Printf("final payload: %s\n", string(result))

	for _, info := range dispatcher.ListHandlers() {
		fmt.Printf("handler %s: enabled=%v total=%d avg_ms=%.2f\n",
			info.Name, info.Enabled, info.Stats.TotalExecutions, info.Stats.AverageDurationMs())
	}
}

func fire(ctx context.Context, d *hooks.Dispatcher, hookType hooks.HookType, data map[string]any) json.RawMessage {
	raw, _ := json.Marshal(data)
	hctx := hooks.NewHookContextBuilder().WithUserID("demo-user").Build()
	out, err := d.Execute(ctx, hctx, hookType, raw)
	if err != nil {
		log.Printf("fire %s: %v", hookType, err)
		return raw
	}
	return out
}

func buildHandler(hc hooks.HandlerConfig, logger *log.Logger) (hooks.Handler, error) {
	switch hc.Type {
	case hooks.HandlerTypeBuiltIn:
		if hc.BuiltIn == nil {
			return nil, fmt.Errorf("missing built_in_config")
		}
		return buildBuiltIn(hc.Name, hc.BuiltIn, logger)
	case hooks.HandlerTypeExternalCommand:
		if hc.ExternalCommand == nil {
			return nil, fmt.Errorf("missing external_command_config")
		}
		return hooks.NewExternalCommandHandler(hc.Name, *hc.ExternalCommand), nil
	case hooks.HandlerTypeScript:
		if hc.Script == nil {
			return nil, fmt.Errorf("missing script_config")
		}
		return hooks.NewScriptExecutorHandler(hc.Name, *hc.Script, EchoExecutor{}), nil
	default:
		return nil, fmt.Errorf("unknown handler type %q", hc.Type)
	}
}

func buildBuiltIn(name string, cfg *hooks.BuiltInConfig, logger *log.Logger) (hooks.Handler, error) {
	switch cfg.Kind {
	case "logging":
		return builtin.NewLoggingHandler(name, cfg.Fields, logger), nil
	case "metrics":
		return builtin.NewMetricsHandler(name, cfg.Fields), nil
	case "validation":
		return builtin.NewValidationHandler(name, cfg.Fields), nil
	case "transform":
		return builtin.NewTransformHandler(name, cfg.Fields), nil
	case "notification":
		return builtin.NewNotificationHandler(name, cfg.Fields, logger), nil
	default:
		return nil, fmt.Errorf("unknown built-in kind %q", cfg.Kind)
	}
}

// EchoExecutor is a trivial ScriptExecutor stub: it acknowledges receipt of
// a script without running any interpreter, purely to demonstrate the
// ScriptHandler contract end to end.
type EchoExecutor struct{}

func (EchoExecutor) Execute(ctx context.Context, script string) (string, error) {
	return "ok", nil
}

func demoHandlerConfigs() []hooks.HandlerConfig {
	now := time.Unix(0, 0).UTC()
	return []hooks.HandlerConfig{
		{
			Name:      "audit-log",
			Type:      hooks.HandlerTypeBuiltIn,
			HookTypes: []hooks.HookType{hooks.ServerStartup, hooks.ServerInitialized, hooks.RequestReceived},
			Priority:  hooks.PriorityHigh,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
			BuiltIn: &hooks.BuiltInConfig{
				Kind:   "logging",
				Fields: map[string]any{"level": "info", "format": "compact"},
			},
		},
		{
			Name:      "request-metrics",
			Type:      hooks.HandlerTypeBuiltIn,
			HookTypes: []hooks.HookType{hooks.RequestReceived},
			Priority:  hooks.PriorityNormal,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
			BuiltIn: &hooks.BuiltInConfig{
				Kind:   "metrics",
				Fields: map[string]any{"metric_type": "counter", "export": true},
			},
		},
	}
}
