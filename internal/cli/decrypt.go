package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ruminasu/fsdecrypt/internal/fsdecrypt/container"
	"github.com/ruminasu/fsdecrypt/internal/fsdecrypt/exfatfs"
	"github.com/ruminasu/fsdecrypt/internal/fsdecrypt/ntfsfs"
)

func init() {
	decryptCmd.SilenceErrors = true
	decryptCmd.SilenceUsage = true
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt one or more encrypted container files",
	Long: `Decrypt reads proprietary encrypted disk-image containers (OS, APP,
OPTION kinds), decrypts their page-aligned AES-CBC payloads, and extracts
the embedded NTFS or exFAT image unless --no-extract is given. Files are
processed strictly in sequence.

Examples:
  fsdecrypt decrypt container1.bin container2.bin
  fsdecrypt decrypt --keys-url https://host/keys.json container.bin
  fsdecrypt decrypt --no-extract container.bin`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecrypt,
}

var (
	decKeyURL    string
	decNoExtract bool
	decQuiet     bool
)

func init() {
	rootCmd.AddCommand(decryptCmd)
	decryptCmd.Flags().StringVar(&decKeyURL, "keys-url", "", "Signed URL to fetch key material from (overrides local keys file)")
	decryptCmd.Flags().BoolVar(&decNoExtract, "no-extract", false, "Leave the decrypted container file in place instead of extracting it")
	decryptCmd.Flags().BoolVarP(&decQuiet, "quiet", "q", false, "Suppress progress output")
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	reporter := NewReporter(decQuiet)
	globalReporter = reporter

	req := &container.DecryptRequest{
		Inputs:    args,
		KeyURL:    decKeyURL,
		NoExtract: decNoExtract,
		NTFS:      ntfsfs.NewExtractor(),
		ExFAT:     exfatfs.NewExtractor(),
		Reporter:  reporter,
	}

	if !decQuiet {
		fmt.Fprintf(os.Stderr, "Decrypting %d file(s)\n", len(args))
	}

	summary, err := container.Decrypt(context.Background(), req)
	reporter.Finish()
	if err != nil {
		reporter.PrintError("%v", err)
		return err
	}

	failures := 0
	for _, r := range summary.Results {
		switch {
		case r.Failed:
			failures++
			reporter.PrintError("%s: %v", r.Input, r.Error)
		case len(r.Warnings) > 0:
			reporter.PrintSuccess("%s -> %s (warnings: %v)", r.Input, r.Output, r.Warnings)
		default:
			reporter.PrintSuccess("%s -> %s", r.Input, r.Output)
		}
	}

	if !decQuiet {
		fmt.Fprintf(os.Stderr, "keys: %s (%d game keys)\n", summary.KeySource, summary.KeyGameCount)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failures, len(summary.Results))
	}
	return nil
}
