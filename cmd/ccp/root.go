package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath    string
	participantID string
	dataDir       string
)

var rootCmd = &cobra.Command{
	Use:   "ccp",
	Short: "Local coordination message bus for multi-agent development",
	Long: `ccp is a local, multi-participant coordination message bus. Agents and
developers exchange typed, prioritized messages through a shared data
directory; ccp manages the message store, participant registry, full-text
search, and thread compaction, and serves the tool surface over stdio.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: $CCP_CONFIG or coordination.yaml)")
	rootCmd.PersistentFlags().StringVar(&participantID, "participant", "", "Participant identity (default: $CCP_PARTICIPANT_ID or config)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Coordination data directory (default: config or .coordination)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
