package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cdpintercept/internal/config"
	"cdpintercept/internal/logger"
	"cdpintercept/pkg/api"
	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
)

var AppVersion = "Development"

var rootCmd = &cobra.Command{
	Use:   "cdpintercept",
	Short: "cdpintercept pauses, rewrites and mocks browser traffic over CDP",
	Long: "cdpintercept attaches to a Chrome DevTools endpoint, intercepts network " +
		"traffic through the Fetch domain, matches it against a ruleset and " +
		"blocks, rewrites or mocks matching exchanges before the page sees them.",
	RunE: runRoot,
}

func init() {
	rootCmd.Flags().StringP("config", "c", "", "Config file path")
	rootCmd.Flags().StringP("devtools", "d", "", "DevTools endpoint URL")
	rootCmd.Flags().StringP("rules", "r", "", "Ruleset file (YAML or JSON)")
	rootCmd.Flags().StringP("target", "t", "", "Target ID (defaults to the first page)")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level")
	rootCmd.Flags().BoolP("version", "v", false, "Show version")
}

func runRoot(cmd *cobra.Command, _ []string) error {
	if v, _ := cmd.Flags().GetBool("version"); v {
		fmt.Println("cdpintercept", AppVersion)
		return nil
	}

	cfg := config.NewConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if v, _ := cmd.Flags().GetString("devtools"); v != "" {
		cfg.DevTools.URL = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}

	log := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    cfg.Log.File,
	})

	svc := api.NewService(log)
	sid, err := svc.StartSession(domain.SessionConfig{
		DevToolsURL:       cfg.DevTools.URL,
		Concurrency:       cfg.Session.Concurrency,
		BodySizeThreshold: cfg.Session.BodySizeThreshold,
		PendingCapacity:   cfg.Session.PendingCapacity,
		ProcessTimeoutMS:  cfg.Session.ProcessTimeoutMS,
		AuditDSN:          cfg.Sqlite.Dsn,
	})
	if err != nil {
		return err
	}
	defer func() { _ = svc.StopSession(sid) }()

	if path, _ := cmd.Flags().GetString("rules"); path != "" {
		rs, err := rulespec.LoadFile(path)
		if err != nil {
			return err
		}
		if err := svc.LoadRules(sid, rs); err != nil {
			return err
		}
		log.Info("ruleset loaded", "rules", len(rs.Rules), "file", path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	target, _ := cmd.Flags().GetString("target")
	if err := svc.AttachTarget(ctx, sid, domain.TargetID(target)); err != nil {
		return err
	}
	if err := svc.EnableInterception(ctx, sid); err != nil {
		return err
	}

	events, err := svc.SubscribeEvents(sid)
	if err != nil {
		return err
	}
	go func() {
		for evt := range events {
			if evt.Err != nil {
				log.Warn("exchange event", "type", evt.Type, "url", evt.Request.URL, "error", evt.Err)
				continue
			}
			log.Info("exchange event",
				"type", evt.Type,
				"result", evt.FinalResult,
				"stage", evt.Stage,
				"method", evt.Request.Method,
				"url", evt.Request.URL)
		}
	}()

	log.Info("interception running", "devtools", cfg.DevTools.URL)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	return nil
}
