// Command idcapture serves the identity capture flow over HTTP and talks
// to a remote validator over websocket.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "idcapture",
	Short: "Identity document and face capture service",
	Long: `idcapture decides between live camera and file upload for each capture,
sends front-side documents to a remote validator and tracks their results.`,
	SilenceUsage: true,
}

func init() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "idcapture.yaml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, probeCmd, snapshotCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
