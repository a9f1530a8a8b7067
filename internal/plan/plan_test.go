package plan

import "testing"

func allTypesRegistered() map[string]bool {
	return map[string]bool{"parse": true, "analyze": true, "symbols": true, "lint": true}
}

func TestBuildFullPipelineHasFourTasks(t *testing.T) {
	p, err := Build("batch-1", "full")
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if len(p.Tasks) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(p.Tasks))
	}
	if p.Tasks[0].TaskID != "01_parse" || len(p.Tasks[0].Deps) != 0 {
		t.Fatalf("expected 01_parse as root task, got %+v", p.Tasks[0])
	}
}

func TestBuildUnknownPipelineErrors(t *testing.T) {
	if _, err := Build("batch-1", "bogus"); err == nil {
		t.Fatalf("expected error for unknown pipeline")
	}
}

func TestValidateAcceptsWellFormedPlan(t *testing.T) {
	p, err := Build("batch-1", "full")
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if err := Validate(p, allTypesRegistered()); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestValidateRejectsDuplicateTaskID(t *testing.T) {
	p := &Plan{Tasks: []Task{{TaskID: "a", Type: "parse"}, {TaskID: "a", Type: "parse"}}}
	if err := Validate(p, allTypesRegistered()); err == nil {
		t.Fatalf("expected duplicate task_id error")
	}
}

func TestValidateRejectsForwardReference(t *testing.T) {
	p := &Plan{Tasks: []Task{{TaskID: "a", Type: "parse", Deps: []string{"b"}}, {TaskID: "b", Type: "parse"}}}
	if err := Validate(p, allTypesRegistered()); err == nil {
		t.Fatalf("expected forward-reference error")
	}
}

func TestValidateRejectsUnregisteredType(t *testing.T) {
	p := &Plan{Tasks: []Task{{TaskID: "a", Type: "unknown-type"}}}
	if err := Validate(p, allTypesRegistered()); err == nil {
		t.Fatalf("expected unregistered type error")
	}
}

func TestReadyTasksRespectsDeps(t *testing.T) {
	p, err := Build("batch-1", "full")
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	ready := p.ReadyTasks(map[string]bool{})
	if len(ready) != 1 || ready[0].TaskID != "01_parse" {
		t.Fatalf("expected only 01_parse ready initially, got %+v", ready)
	}
	ready = p.ReadyTasks(map[string]bool{"01_parse": true})
	if len(ready) != 3 {
		t.Fatalf("expected 3 tasks ready after 01_parse, got %d", len(ready))
	}
}

func TestSortedTemplateNamesIsDeterministic(t *testing.T) {
	names := SortedTemplateNames()
	want := []string{"analyze", "full", "parse", "symbols"}
	if len(names) != len(want) {
		t.Fatalf("got %v want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v want %v", names, want)
		}
	}
}
