package cli

import (
	"encoding/json"

	"github.com/mcp-tool-shop-org/code-batch/internal/cberrors"
)

func marshalIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// wrap lifts a plain error (a raw os/json error surfacing from a reader
// deep in the query or diff path) into the *cberrors.Error envelope every
// command boundary returns, leaving an already-structured error untouched.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*cberrors.Error); ok {
		return err
	}
	return cberrors.Internal(err.Error(), nil)
}
