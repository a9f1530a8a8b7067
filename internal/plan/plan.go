// Package plan defines the task graph a batch executes: named pipeline
// templates, the Task/Plan document shape, and the validation the runner
// relies on before it will schedule anything.
package plan

import (
	"encoding/json"
	"fmt"
	"sort"
)

const (
	SchemaName    = "codebatch.plan"
	SchemaVersion = 1

	// ShardCount is the number of shards every task is partitioned into,
	// one per possible first-byte value of SHA-256(path_key).
	ShardCount = 256
)

// Task is one stage of a plan.
type Task struct {
	TaskID string          `json:"task_id"`
	Type   string          `json:"type"`
	Deps   []string        `json:"deps,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Plan is the full task graph of one batch, as persisted in plan.json.
type Plan struct {
	SchemaName    string `json:"schema_name"`
	SchemaVersion int    `json:"schema_version"`
	BatchID       string `json:"batch_id"`
	Tasks         []Task `json:"tasks"`
}

// TemplateTask is one task entry inside a named pipeline template.
type TemplateTask struct {
	TaskID string
	Type   string
	Deps   []string
	Config map[string]any
}

// Template is a named, reusable task graph a batch can be initialized from.
type Template struct {
	Name        string
	Description string
	Tasks       []TemplateTask
}

// Templates is the registry of built-in pipelines. "full" composes the
// other three into the fan-out named by spec: parse -> {analyze, symbols, lint}.
var Templates = map[string]Template{
	"parse": {
		Name:        "parse",
		Description: "Parse source files and emit AST + diagnostics",
		Tasks: []TemplateTask{
			{TaskID: "01_parse", Type: "parse", Config: map[string]any{
				"languages": []string{"python"}, "emit_ast": true, "emit_diagnostics": true,
			}},
		},
	},
	"analyze": {
		Name:        "analyze",
		Description: "Parse and analyze source files",
		Tasks: []TemplateTask{
			{TaskID: "01_parse", Type: "parse", Config: map[string]any{
				"languages": []string{"python"}, "emit_ast": true, "emit_diagnostics": true,
			}},
			{TaskID: "02_analyze", Type: "analyze", Deps: []string{"01_parse"}, Config: map[string]any{}},
		},
	},
	"symbols": {
		Name:        "symbols",
		Description: "Parse and extract symbol definitions",
		Tasks: []TemplateTask{
			{TaskID: "01_parse", Type: "parse", Config: map[string]any{
				"languages": []string{"python"}, "emit_ast": true, "emit_diagnostics": true,
			}},
			{TaskID: "02_symbols", Type: "symbols", Deps: []string{"01_parse"}, Config: map[string]any{}},
		},
	},
	"full": {
		Name:        "full",
		Description: "Parse, then fan out to analyze, symbols, and lint",
		Tasks: []TemplateTask{
			{TaskID: "01_parse", Type: "parse", Config: map[string]any{
				"languages": []string{"python"}, "emit_ast": true, "emit_diagnostics": true,
			}},
			{TaskID: "02_analyze", Type: "analyze", Deps: []string{"01_parse"}, Config: map[string]any{}},
			{TaskID: "03_symbols", Type: "symbols", Deps: []string{"01_parse"}, Config: map[string]any{}},
			{TaskID: "04_lint", Type: "lint", Deps: []string{"01_parse"}, Config: map[string]any{}},
		},
	},
}

// SortedTemplateNames returns the registered template names in a stable,
// deterministic order.
func SortedTemplateNames() []string {
	names := make([]string, 0, len(Templates))
	for n := range Templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build materializes a Plan document from a named template.
func Build(batchID, templateName string) (*Plan, error) {
	tmpl, ok := Templates[templateName]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline: %s", templateName)
	}
	tasks := make([]Task, len(tmpl.Tasks))
	for i, tt := range tmpl.Tasks {
		cfg, err := json.Marshal(tt.Config)
		if err != nil {
			return nil, err
		}
		tasks[i] = Task{TaskID: tt.TaskID, Type: tt.Type, Deps: tt.Deps, Config: cfg}
	}
	return &Plan{
		SchemaName:    SchemaName,
		SchemaVersion: SchemaVersion,
		BatchID:       batchID,
		Tasks:         tasks,
	}, nil
}

// Validate checks: task IDs unique, deps reference only earlier entries
// (acyclic and backward), and every type is in registeredTypes.
func Validate(p *Plan, registeredTypes map[string]bool) error {
	seen := make(map[string]int, len(p.Tasks))
	for i, t := range p.Tasks {
		if t.TaskID == "" {
			return fmt.Errorf("task at index %d has empty task_id", i)
		}
		if _, dup := seen[t.TaskID]; dup {
			return fmt.Errorf("duplicate task_id: %s", t.TaskID)
		}
		seen[t.TaskID] = i
		if registeredTypes != nil && !registeredTypes[t.Type] {
			return fmt.Errorf("unregistered task type %q for task %s", t.Type, t.TaskID)
		}
		for _, dep := range t.Deps {
			depIdx, ok := seen[dep]
			if !ok {
				return fmt.Errorf("task %s depends on unknown or forward-referenced task %s", t.TaskID, dep)
			}
			if depIdx >= i {
				return fmt.Errorf("task %s depends on non-earlier task %s", t.TaskID, dep)
			}
		}
	}
	return nil
}

// TaskByID returns the task with the given id, or false if absent.
func (p *Plan) TaskByID(id string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.TaskID == id {
			return t, true
		}
	}
	return Task{}, false
}

// ReadyTasks returns the tasks whose deps are all present in done, in plan
// order, skipping any task id already in done.
func (p *Plan) ReadyTasks(done map[string]bool) []Task {
	var ready []Task
	for _, t := range p.Tasks {
		if done[t.TaskID] {
			continue
		}
		allDone := true
		for _, d := range t.Deps {
			if !done[d] {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, t)
		}
	}
	return ready
}
