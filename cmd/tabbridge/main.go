package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tabbridge/internal/bridge"
	"tabbridge/internal/browser"
	"tabbridge/internal/config"
	"tabbridge/internal/inject"
	"tabbridge/internal/protocol"
	"tabbridge/internal/recorder"
	"tabbridge/internal/router"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tabbridge",
		Short: "Drive the active Chrome tab from a WebSocket controller",
		Long: `tabbridge connects to a controller over WebSocket and executes its
actions in the active Chrome tab.

Actions: ` + strings.Join(protocol.Actions(), ", ") + `

Examples:
  tabbridge --endpoint ws://localhost:8765 --debugger-url ws://localhost:9222/devtools/browser/<id>
  tabbridge --config ./config.yaml
  tabbridge tabs`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "path to a config file (overrides .tabbridge/config.yaml)")
	pf.String("endpoint", "", "controller WebSocket endpoint")
	pf.String("debugger-url", "", "Chrome DevTools browser endpoint")
	pf.String("target-id", "", "pin a tab by target ID instead of following the active one")
	pf.Bool("no-workspace", false, "skip .tabbridge/ workspace discovery")
	pf.String("workspace-dir", "", "use this directory as the workspace root")

	root.AddCommand(newVersionCmd(), newInitCmd(), newTabsCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultConfig()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.Server.Name, cfg.Server.Version)
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a .tabbridge/ workspace with a template config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			if err := config.InitWorkspace(root); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized workspace in %s\n", root)
			return nil
		},
	}
}

func newTabsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tabs",
		Short: "List page targets and which one would be driven",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Browser.AttachTimeout())
			defer cancel()

			mgr := browser.NewManager(cfg.Browser)
			if err := mgr.Start(ctx); err != nil {
				return fmt.Errorf("connect to chrome: %w", err)
			}
			defer mgr.Shutdown(context.Background())

			tabs, err := mgr.Tabs(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tabs)
		},
	}
}

// resolveConfig merges defaults, workspace, --config, .env and flags, in
// that order.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()

	if err := config.LoadDotEnv(".env"); err != nil {
		return config.Config{}, fmt.Errorf("load .env: %w", err)
	}

	explicit, _ := flags.GetString("config")
	noWorkspace, _ := flags.GetBool("no-workspace")
	wsDir, _ := flags.GetString("workspace-dir")

	// Validation runs again once the flags are applied.
	cfg, ws, err := config.LoadWithWorkspace(explicit, config.WorkspaceOptions{Disable: noWorkspace, ExplicitDir: wsDir})
	if err != nil && !errors.Is(err, config.ErrInvalid) {
		return cfg, err
	}
	if ws != "" {
		log.Printf("[config] using workspace %s", ws)
	}

	if flags.Changed("endpoint") {
		cfg.Bridge.Endpoint, _ = flags.GetString("endpoint")
	}
	if flags.Changed("debugger-url") {
		cfg.Browser.DebuggerURL, _ = flags.GetString("debugger-url")
	}
	if flags.Changed("target-id") {
		cfg.Browser.TargetID, _ = flags.GetString("target-id")
	}

	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
			defer logFile.Close()
		} else {
			log.Printf("[main] cannot open log file %s, logging disabled: %v", cfg.Server.LogFile, err)
			log.SetOutput(io.Discard)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		rec, err = recorder.New(cfg.Recorder.Dir)
		if err != nil {
			return fmt.Errorf("init recorder: %w", err)
		}
		defer rec.Close()
	}

	mgr := browser.NewManager(cfg.Browser)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	log.Printf("[main] chrome at %s", mgr.ControlURL())
	defer func() {
		if !mgr.IsConnected() {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			log.Printf("[main] browser shutdown: %v", err)
		}
	}()

	rt := newRouter(cfg, mgr)

	opts := bridge.OptionsFromConfig(cfg.Bridge)
	opts.Recorder = rec

	log.Printf("[main] %s %s bridging %s", cfg.Server.Name, cfg.Server.Version, cfg.Bridge.Endpoint)
	if err := bridge.New(rt, opts).Run(ctx); err != nil {
		return fmt.Errorf("bridge exited: %w", err)
	}
	log.Printf("[main] bridge closed")
	return nil
}

func newRouter(cfg config.Config, host router.Host) *router.Router {
	return router.New(host, inject.New(cfg.Bridge.GetMaxWait()), cfg.Browser.GetActionTimeout())
}
