// fsdecrypt decrypts proprietary arcade disk-image containers and
// verifies/deploys trusted hook and loader binaries.
//
// See internal/cli for the decrypt/verify/deploy/rollback subcommands.
package main

import (
	"os"

	"github.com/ruminasu/fsdecrypt/internal/cli"
)

const version = "v0.1.0"

func main() {
	os.Exit(cli.Execute(version))
}
