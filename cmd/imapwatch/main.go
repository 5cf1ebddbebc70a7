package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fenilsonani/imapwatch"
	"github.com/fenilsonani/imapwatch/internal/config"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "imapwatch",
	Short: "Watch an IMAP mailbox and print newly arrived messages as JSON",
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect, authenticate, select the configured mailbox, and stream new messages",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&cfgFile, "config", "imapwatch.yaml", "path to the session's YAML config")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w, err := imapwatch.StartWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer w.Close()

	enc := json.NewEncoder(os.Stdout)
	sink := imapwatch.SinkFunc(func(m imapwatch.Message) {
		enc.Encode(m)
	})

	if len(cfg.Filters) == 0 {
		if _, err := w.Subscribe(ctx, sink, imapwatch.AcceptAll); err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
	}
	for i, fc := range cfg.Filters {
		f, err := imapwatch.FilterFromConfig(fc)
		if err != nil {
			return fmt.Errorf("filters[%d]: %w", i, err)
		}
		if _, err := w.Subscribe(ctx, sink, f); err != nil {
			return fmt.Errorf("filters[%d]: failed to subscribe: %w", i, err)
		}
	}

	<-ctx.Done()
	return nil
}
