package stash

import (
	"context"
	"errors"
	"fmt"
)

// Task describes a cacheable unit of work: its identity and the
// outputs it declares. The surrounding orchestration decides what
// counts as an output; the cache only packs and restores them.
type Task struct {
	// Name identifies the unit of work, e.g. a build target label.
	Name string

	// Outputs are the declared outputs, each with a stable property
	// name unique within the task.
	Outputs []Output
}

// ExecFunc runs a unit of work, materializing its declared outputs at
// their paths. It is supplied by the external task engine; failures
// propagate through Run untouched.
type ExecFunc func(ctx context.Context) error

// validate checks the task declaration.
func (t Task) validate() error {
	if t.Name == "" {
		return errors.New("task has no name")
	}
	seen := make(map[string]struct{}, len(t.Outputs))
	for _, out := range t.Outputs {
		if out.Name == "" {
			return fmt.Errorf("task %s: output with empty property name", t.Name)
		}
		if _, ok := seen[out.Name]; ok {
			return fmt.Errorf("task %s: duplicate output %q", t.Name, out.Name)
		}
		seen[out.Name] = struct{}{}
		if out.Path == "" {
			return fmt.Errorf("task %s: output %q has no path", t.Name, out.Name)
		}
		if out.Kind != KindFile && out.Kind != KindDir {
			return fmt.Errorf("task %s: output %q declared as %s", t.Name, out.Name, out.Kind)
		}
	}
	return nil
}

// dests maps property names to their destination paths.
func (t Task) dests() map[string]string {
	m := make(map[string]string, len(t.Outputs))
	for _, out := range t.Outputs {
		m[out.Name] = out.Path
	}
	return m
}
