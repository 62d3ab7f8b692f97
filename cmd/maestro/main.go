// maestro - command dispatch core for a personal-assistant skill system.
// Routes free-form natural-language commands to pluggable capability
// modules, with an LLM-backed general module as the fallback target.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/veslabs/maestro/pkg/api"
	"github.com/veslabs/maestro/pkg/config"
	"github.com/veslabs/maestro/pkg/dispatch"
	"github.com/veslabs/maestro/pkg/history"
	"github.com/veslabs/maestro/pkg/identity"
	"github.com/veslabs/maestro/pkg/logger"
	"github.com/veslabs/maestro/pkg/module"
	"github.com/veslabs/maestro/pkg/modules/calendar"
	"github.com/veslabs/maestro/pkg/modules/email"
	"github.com/veslabs/maestro/pkg/modules/general"
	"github.com/veslabs/maestro/pkg/notify"
	"github.com/veslabs/maestro/pkg/providers"
	"github.com/veslabs/maestro/pkg/settings"
)

func main() {
	configPath := flag.String("config", "maestro.yaml", "path to configuration file")
	repl := flag.Bool("repl", false, "run an interactive local REPL instead of the API server")
	flag.Parse()

	if err := run(*configPath, *repl); err != nil {
		fmt.Fprintln(os.Stderr, "maestro:", err)
		os.Exit(1)
	}
}

func run(configPath string, repl bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Setup(cfg.Logging.Level, cfg.Logging.JSON); err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	historyStore, err := history.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		return err
	}
	defer historyStore.Close()

	settingsStore, err := settings.NewStore(cfg.Settings.Path)
	if err != nil {
		return err
	}

	provider, err := providers.New(cfg.Provider)
	if err != nil {
		return err
	}
	if provider == nil {
		logger.WarnC("main", "No LLM provider configured; the general module will score near zero")
	}

	registry := dispatch.NewRegistry()
	dispatcher := dispatch.New(registry, cfg.Dispatch)

	// Construct the capability modules. The in-memory mail/calendar clients
	// stand in until real API wrappers are plugged in through the same
	// interfaces.
	tokens := identity.StaticTokenService{}
	emailMod := email.New(email.NewMemoryClient(), tokens)
	calendarMod := calendar.New(calendar.NewMemoryClient(), tokens)
	generalMod := general.New(provider, registry, cfg.Dispatch.IntentRerouteConfidence)

	hub := notify.NewHub()
	defer hub.Close()
	var sinks []notify.Sink
	if cfg.Notify.SlackWebhookURL != "" {
		sinks = append(sinks, notify.NewSlackSink(cfg.Notify.SlackWebhookURL))
	}
	pump := notify.NewPump(hub, sinks...)

	// Enablement filtering happens here, not in the dispatcher: it only
	// ever sees modules that should be considered.
	for _, m := range []module.Module{emailMod, calendarMod, generalMod} {
		if !settingsStore.IsEnabled(m.ID()) {
			logger.InfoCF("main", "Module disabled by settings, skipping", map[string]interface{}{"module": m.ID()})
			continue
		}
		if err := m.Initialize(cfg.ModuleConfig(m.ID())); err != nil {
			return fmt.Errorf("initialize module %s: %w", m.ID(), err)
		}
		dispatcher.RegisterModule(m)
		if err := pump.Attach(ctx, m); err != nil {
			logger.WarnCF("main", "Update stream unavailable", map[string]interface{}{
				"module": m.ID(),
				"error":  err.Error(),
			})
		}
	}
	logger.InfoCF("main", "Modules registered", map[string]interface{}{"count": registry.Count()})

	if repl {
		return runREPL(ctx, dispatcher)
	}

	sessions := &identity.LocalProvider{}
	server := api.NewServer(cfg, dispatcher, historyStore, settingsStore, hub, sessions)
	err = server.Start(ctx)
	pump.Wait()
	return err
}

// runREPL drives the dispatcher from an interactive prompt. Prefix a line
// with "@moduleid " to express a module preference.
func runREPL(ctx context.Context, dispatcher *dispatch.Dispatcher) error {
	rl, err := readline.New("maestro> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	user := &module.UserContext{
		UserID:      "local",
		DisplayName: "Local User",
		Provider:    "local",
		AccessToken: "local-token",
	}

	fmt.Println("maestro REPL — type a command, @module to prefer one, Ctrl-D to quit")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		preferred := ""
		if strings.HasPrefix(line, "@") {
			parts := strings.SplitN(line[1:], " ", 2)
			if len(parts) == 2 {
				preferred, line = parts[0], parts[1]
			}
		}

		resp, err := dispatcher.ProcessCommand(ctx, line, user, preferred)
		if err != nil {
			fmt.Println("!", resp.Message)
			continue
		}
		fmt.Println(resp.Message)
		if resp.RequiresFollowUp && resp.FollowUpPrompt != "" {
			fmt.Println("?", resp.FollowUpPrompt)
		}
	}
}
