package executors

import "github.com/mcp-tool-shop-org/code-batch/internal/executor"

// Registry returns the built-in task-type executors, keyed the same way
// plan.Templates names task types.
func Registry() map[string]executor.Executor {
	return map[string]executor.Executor{
		"parse":   executor.Func(Parse),
		"analyze": executor.Func(Analyze),
		"symbols": executor.Func(Symbols),
		"lint":    executor.Func(Lint),
	}
}
