// Package cli provides the command-line interface for the fsdecrypt
// engine and the trusted-artifact verifier.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set by main.go.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "fsdecrypt",
	Short: "Arcade container decryption and trusted-artifact verification",
	Long: `fsdecrypt decrypts proprietary encrypted disk-image containers
(OS, APP, OPTION kinds) and extracts their embedded NTFS/exFAT payloads,
and verifies installed hook/loader binaries against a minisign-signed
manifest, deploying and rolling back trusted artifacts as needed.`,
	Version: Version,
}

// globalReporter receives Ctrl+C/SIGTERM so a long-running decrypt batch
// can be cancelled from the signal handler below.
var globalReporter *Reporter

// Execute runs the CLI application and returns the process exit status.
func Execute(version string) int {
	Version = version
	rootCmd.Version = version

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		if globalReporter != nil {
			globalReporter.Cancel()
		}
		fmt.Fprintln(os.Stderr, "\ninterrupted")
		os.Exit(130)
	}()

	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
