package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcp-tool-shop-org/code-batch/internal/cberrors"
	"github.com/mcp-tool-shop-org/code-batch/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init <store>",
	Short: "Create a new store root",
	Args:  cobra.ExactArgs(1),
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := args[0]
	root, err := store.Init(path, time.Now)
	if err != nil {
		return err
	}
	if jsonOut {
		printJSON(cmd.OutOrStdout(), map[string]any{"store": root.Path, "created_at": root.Meta.CreatedAt})
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized store at %s\n", root.Path)
	return nil
}

// printJSON writes v as indented JSON to w, wrapping marshal failures in an
// internal error rather than silently printing nothing.
func printJSON(w io.Writer, v any) {
	b, err := marshalIndent(v)
	if err != nil {
		cberrors.Internal(err.Error(), nil).PrintJSON(w)
		return
	}
	fmt.Fprintln(w, string(b))
}
