// Package cli wires the codebatch command tree: store resolution, the
// --json error envelope, and one cobra command per operation in spec §6,
// following the command-tree idiom of _examples/raphi011-knowhow's
// internal/cli package while keeping the teacher's class-collector
// behavior of exiting with an explicit, machine-meaningful code on
// failure rather than panicking.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcp-tool-shop-org/code-batch/internal/batch"
	"github.com/mcp-tool-shop-org/code-batch/internal/cberrors"
	"github.com/mcp-tool-shop-org/code-batch/internal/executors"
	"github.com/mcp-tool-shop-org/code-batch/internal/logx"
	"github.com/mcp-tool-shop-org/code-batch/internal/objstore"
	"github.com/mcp-tool-shop-org/code-batch/internal/router"
	"github.com/mcp-tool-shop-org/code-batch/internal/shard"
	"github.com/mcp-tool-shop-org/code-batch/internal/snapshot"
	"github.com/mcp-tool-shop-org/code-batch/internal/store"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	storeFlag string
	jsonOut   bool
)

var rootCmd = &cobra.Command{
	Use:     "codebatch",
	Short:   "Filesystem-native batch execution substrate for source analysis",
	Version: Version,
	Long: `codebatch runs a pipeline of analysis tasks over a content-addressed
snapshot of a source tree, sharding each task's work deterministically by
path and committing every result to a plain JSONL index a later query or
cache build can read without re-running anything.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&storeFlag, "store", "s", "", "store root (or $CODEBATCH_STORE)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "render errors and results as JSON")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(runShardCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(indexBuildCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(pipelinesCmd)
	rootCmd.AddCommand(statusCmd)
}

// Execute runs the command tree and returns the process exit code, per §6:
// 0 success, 1 an expected structured failure, 2 a bad store or arguments,
// 3 anything internal. Cobra's own usage errors (unknown flag, wrong arg
// count) surface as exit 2 as well.
func Execute() int {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		if _, ok := err.(*strictEmptyError); ok {
			return 1
		}
		if cbe, ok := err.(*cberrors.Error); ok {
			cberrors.Print(cbe, jsonOut, os.Stderr)
			return cberrors.ExitCode(cbe.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 2
	}
	return 0
}

// openStore resolves --store/$CODEBATCH_STORE and opens the store root.
func openStore() (*store.Root, error) {
	path := store.Resolve(storeFlag)
	if path == "" {
		return nil, cberrors.InvalidArgumentErr("store", "", "no store given; pass --store or set CODEBATCH_STORE")
	}
	return store.Open(path)
}

// app bundles every component a command needs, wired against one opened
// store root.
type app struct {
	Root      *store.Root
	Objects   *objstore.Store
	Snapshots *snapshot.Builder
	Batches   *batch.Manager
	Router    *router.Router
	Runner    *shard.Runner
}

func openApp() (*app, error) {
	root, err := openStore()
	if err != nil {
		return nil, err
	}
	objs, err := objstore.Open(root.Path)
	if err != nil {
		return nil, cberrors.Internal(err.Error(), nil)
	}
	snaps := snapshot.NewBuilder(root.Path, objs)
	batches := batch.NewManager(root.Path)
	logger := logx.New()
	r := router.New(root, batches, snaps, logger)
	runner := shard.New(objs, snaps, batches, executors.Registry())
	return &app{Root: root, Objects: objs, Snapshots: snaps, Batches: batches, Router: r, Runner: runner}, nil
}

func registeredTypes() map[string]bool {
	reg := executors.Registry()
	out := make(map[string]bool, len(reg))
	for t := range reg {
		out[t] = true
	}
	return out
}
