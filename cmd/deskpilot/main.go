package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"deskpilot/internal/audit"
	"deskpilot/internal/config"
	"deskpilot/internal/security"
	"deskpilot/internal/uimem"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "deskpilot",
		Short: "deskpilot: risk-tiered desktop action router with UI element memory",
		Long:  "deskpilot routes agent tool calls between local execution, human approval, and remote desktop clients, and caches UI element positions to skip repeated vision passes.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.deskpilot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(policyCmd())
	root.AddCommand(cacheCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolveConfigPath())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config directory with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func policyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the tool risk table as YAML for audit",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := security.RenderPolicyYAML()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func cacheCmd() *cobra.Command {
	cache := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the UI element cache",
	}

	cache.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show element cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := uimem.NewService(uimem.NewFileStore(cfg.Cache.Path), logger)
			if err != nil {
				return err
			}
			st := svc.Stats()
			fmt.Printf("entries:  %d\n", st.Count)
			fmt.Printf("trusted:  %d\n", st.TrustedCount)
			fmt.Printf("oldest:   %s\n", st.OldestEntryAge.Round(time.Second))
			return nil
		},
	})

	cache.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the element cache file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := uimem.NewFileStore(cfg.Cache.Path).Clear(); err != nil {
				return err
			}
			logger.Info("element cache cleared", "path", cfg.Cache.Path)
			return nil
		},
	})

	return cache
}

func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent routing decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Audit.Enabled {
				return fmt.Errorf("audit is disabled in config")
			}
			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(context.Background(), limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s  %-16s %-10s %-8s %-10s %s\n",
					e.CreatedAt.Format(time.RFC3339), e.Tool, e.Risk, e.Route, e.Outcome, e.Details)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries to show")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("deskpilot", version)
		},
	}
}
