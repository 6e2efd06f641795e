package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccproto/ccp/internal/compact"
	"github.com/ccproto/ccp/internal/config"
	"github.com/ccproto/ccp/internal/index"
	"github.com/ccproto/ccp/internal/messages"
	"github.com/ccproto/ccp/internal/registry"
	"github.com/ccproto/ccp/internal/rpc"
	"github.com/ccproto/ccp/internal/storage/sqlite"
	"github.com/ccproto/ccp/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the coordination tool surface over stdio",
	Long: `Serve reads one JSON tool request per line from stdin and writes one
JSON response per line to stdout. The process identity comes from the
configuration (participant_id or CCP_PARTICIPANT_ID).`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := telemetry.Init(ctx, "ccp", Version); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	if err := os.MkdirAll(cfg.DataDirectory, 0o750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	store, err := sqlite.Open(ctx, messages.DatabasePath(cfg.DataDirectory))
	if err != nil {
		return err
	}
	defer store.Close()
	instrumented := telemetry.WrapStorage(store)

	reg := registry.New(instrumented)
	mgr := messages.New(instrumented, reg, cfg.DataDirectory)
	idx := index.New(instrumented, reg)
	comp := compact.New(instrumented, cfg.DataDirectory)

	if cfg.AutoCompactEnabled() {
		results, err := comp.AutoCompact(ctx, cfg.ArchiveDays, compact.Options{
			Strategy:          compact.StrategySummarize,
			PreserveDecisions: true,
			PreserveCritical:  true,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: startup auto-compact failed: %v\n", err)
		} else if len(results) > 0 {
			fmt.Fprintf(os.Stderr, "auto-compacted %d resolved thread(s)\n", len(results))
		}
	}

	server := rpc.NewServer(cfg, reg, mgr, idx, comp)
	return server.Serve(ctx, os.Stdin, os.Stdout)
}

// loadConfig applies flag overrides on top of file and environment config.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
		if err == nil {
			if pid := os.Getenv(config.EnvParticipantID); pid != "" {
				cfg.ParticipantID = pid
			}
		}
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if participantID != "" {
		cfg.ParticipantID = participantID
	}
	if dataDir != "" {
		cfg.DataDirectory = dataDir
	}
	return cfg, nil
}
