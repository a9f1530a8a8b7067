// Command codebatch is the CLI surface for the filesystem-native batch
// execution substrate: store/snapshot/batch lifecycle, shard execution,
// cache building, and transparent scan/cache querying, per spec §6.
package main

import (
	"os"

	"github.com/mcp-tool-shop-org/code-batch/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
