//go:build cgo

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/shelve/internal/embeddings"
)

var forceDownload bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&forceDownload, "force", "f", false, "Force re-download even if ONNX runtime exists")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Download the ONNX runtime for local embeddings",
	Long: `Download the ONNX runtime library required by the fastembed provider.
The library is installed to ~/.config/shelve/lib/ unless ONNX_PATH is set.

Examples:
  shelve init
  shelve init --force`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !forceDownload {
			if path := embeddings.GetONNXLibraryPath(); path != "" {
				cmd.Printf("ONNX runtime already installed at: %s\n", path)
				cmd.Println("Use --force to re-download.")
				return nil
			}
		}

		cmd.Printf("Downloading ONNX runtime v%s...\n", embeddings.DefaultONNXRuntimeVersion)
		if err := embeddings.DownloadONNXRuntime(cmd.Context(), ""); err != nil {
			return fmt.Errorf("failed to download ONNX runtime: %w", err)
		}
		path := embeddings.GetONNXLibraryPath()
		if path == "" {
			return fmt.Errorf("download completed but library not found")
		}
		cmd.Printf("Successfully installed ONNX runtime to: %s\n", path)
		return nil
	},
}
