package agenticrag

import (
	"context"
	"testing"
)

type namedTool struct {
	name string
}

func (t *namedTool) Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"tool": t.name}, nil
}

func (t *namedTool) Schema() map[string]interface{} {
	return map[string]interface{}{"name": t.name, "description": "test tool " + t.name}
}

func (t *namedTool) Validate(input map[string]interface{}) error { return nil }
func (t *namedTool) Name() string                                { return t.name }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&namedTool{name: "alpha"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	tool, err := r.Lookup("alpha")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if tool.Name() != "alpha" {
		t.Errorf("expected alpha, got %s", tool.Name())
	}

	if _, err := r.Lookup("missing"); !HasCode(err, ErrCodeToolNotFound) {
		t.Errorf("expected tool not found, got %v", err)
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&namedTool{name: "alpha"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	err := r.Register(&namedTool{name: "alpha"})
	if !HasCode(err, ErrCodeDuplicateTool) {
		t.Errorf("expected duplicate tool error, got %v", err)
	}
}

func TestRegistry_DisabledToolHiddenFromAnalysisAndDispatch(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"alpha", "beta"} {
		if err := r.Register(&namedTool{name: name}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	if err := r.SetEnabled("beta", false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}

	if _, visible := r.Schemas()["beta"]; visible {
		t.Error("disabled tool must not be exposed to the analyzer")
	}
	if _, visible := r.Snapshot()["beta"]; visible {
		t.Error("disabled tool must not be dispatchable")
	}

	// Still registered and still resolvable by direct lookup.
	if _, err := r.Lookup("beta"); err != nil {
		t.Errorf("disabled tool must remain registered: %v", err)
	}

	if err := r.SetEnabled("beta", true); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}
	if _, visible := r.Snapshot()["beta"]; !visible {
		t.Error("re-enabled tool must be dispatchable again")
	}

	if err := r.SetEnabled("missing", true); !HasCode(err, ErrCodeToolNotFound) {
		t.Errorf("expected tool not found, got %v", err)
	}
}

func TestRegistry_EnabledKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	names := []string{"charlie", "alpha", "beta"}
	for _, name := range names {
		if err := r.Register(&namedTool{name: name}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	if err := r.SetEnabled("alpha", false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}

	var got []string
	for tool := range r.Enabled() {
		got = append(got, tool.Name())
	}
	want := []string{"charlie", "beta"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&namedTool{name: "alpha"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	snapshot := r.Snapshot()
	if err := r.SetEnabled("alpha", false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}

	// The batch that took the snapshot keeps its view.
	if _, visible := snapshot["alpha"]; !visible {
		t.Error("snapshot must not observe later toggles")
	}
	if _, visible := r.Snapshot()["alpha"]; visible {
		t.Error("new snapshot must observe the toggle")
	}
}
