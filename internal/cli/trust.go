package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ruminasu/fsdecrypt/internal/trust/artifact"
	"github.com/ruminasu/fsdecrypt/internal/trust/cache"
	"github.com/ruminasu/fsdecrypt/internal/trust/deploy"
	"github.com/ruminasu/fsdecrypt/internal/trust/manifest"
)

// trustCache is the process-wide trust cache shared by verify/deploy/rollback.
var trustCache = cache.New()

var (
	trustBaseURL string
	trustGame    string
	trustRoot    string
	trustJSON    bool
	trustForce   bool
)

func init() {
	rootCmd.AddCommand(verifyCmd, deployCmd, rollbackCmd)

	for _, c := range []*cobra.Command{verifyCmd, deployCmd, rollbackCmd} {
		c.Flags().StringVar(&trustBaseURL, "base-url", "", "Content distribution base URL for the manifest and artifacts")
		c.Flags().StringVar(&trustGame, "game", "", "Canonical game name (chunithm, sinmai, ongeki, ...)")
		c.Flags().StringVar(&trustRoot, "root", "", "Game install root directory")
		c.Flags().BoolVar(&trustJSON, "json", false, "Print the result as JSON")
		_ = c.MarkFlagRequired("base-url")
		_ = c.MarkFlagRequired("game")
		_ = c.MarkFlagRequired("root")
	}
	deployCmd.Flags().BoolVar(&trustForce, "force", false, "Overwrite existing files without confirmation")
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify installed binaries against the trusted manifest",
	RunE:  runVerify,
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the trusted artifact for a game, backing up any overwritten files",
	RunE:  runDeploy,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore a game install from its deploy backup",
	RunE:  runRollback,
}

func fetchManifestAndArtifact(ctx context.Context) (*manifest.Manifest, error) {
	cfg := manifest.DefaultConfig(trustBaseURL)
	return manifest.FetchAndVerify(ctx, cfg)
}

func runVerify(cmd *cobra.Command, args []string) error {
	m, err := fetchManifestAndArtifact(cmd.Context())
	if err != nil {
		return err
	}
	art, err := artifact.SelectForGame(m, trustGame)
	if err != nil {
		return err
	}

	status := deploy.Verify(trustRoot, art, trustCache)
	return printTrustResult(status)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	m, err := fetchManifestAndArtifact(cmd.Context())
	if err != nil {
		return err
	}

	result, err := deploy.Deploy(context.Background(), trustRoot, m, trustGame, trustBaseURL, trustForce, trustCache)
	if err != nil {
		return err
	}

	if result.NeedsConfirmation {
		if trustJSON {
			return printJSON(result)
		}
		fmt.Fprintf(os.Stderr, "deploy requires confirmation: %d existing file(s) would be overwritten\n", len(result.ExistingFiles))
		for _, f := range result.ExistingFiles {
			fmt.Fprintf(os.Stderr, "  %s\n", f)
		}
		fmt.Fprintln(os.Stderr, "re-run with --force to back up and overwrite")
		return nil
	}

	if trustJSON {
		return printJSON(result)
	}
	fmt.Fprintln(os.Stderr, "deploy complete")
	return printTrustResult(*result.Status)
}

func runRollback(cmd *cobra.Command, args []string) error {
	m, err := fetchManifestAndArtifact(cmd.Context())
	if err != nil {
		return err
	}

	status, err := deploy.Rollback(trustRoot, m, trustGame, trustCache)
	if err != nil {
		return err
	}
	return printTrustResult(status)
}

func printTrustResult(status deploy.TrustStatus) error {
	if trustJSON {
		return printJSON(status)
	}
	if status.Trusted {
		fmt.Fprintln(os.Stderr, "trusted")
	} else {
		fmt.Fprintf(os.Stderr, "untrusted: %s\n", status.Reason)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
