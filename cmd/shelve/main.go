// Shelve keeps a bookmark tree indexed with text embeddings and files new
// bookmarks into the folder they most resemble.
//
// Usage:
//
//	# Run the HTTP API, the startup sync and the event subscriber
//	shelve serve
//
//	# One-off reconciliation with a progress bar
//	shelve sync
//
//	# Show where a bookmark would go without moving it
//	shelve place --dry-run <bookmark-id>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "shelve",
	Short: "Embedding index and auto-filing for bookmark trees",
	Long: `shelve maintains one embedding record per bookmark and folder and
moves new bookmarks into the best matching folder.

Configuration is read from ~/.config/shelve/config.yaml and SHELVE_*
environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/shelve/config.yaml)")
	rootCmd.AddCommand(serveCmd, syncCmd, placeCmd, seedCmd, clearCmd, statusCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// withApp loads the app for a command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = a.Close(shutdownCtx)
	}()
	return fn(ctx, a)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("shelve %s\n", version)
		cmd.Printf("  commit: %s\n", gitCommit)
		cmd.Printf("  built:  %s\n", buildDate)
	},
}
