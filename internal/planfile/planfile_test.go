package planfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/subplot-sh/subplot/pkg/models"
)

const validPlan = `
description: Build the widget service
working_dir: /tmp/widgets
estimated_minutes: 45
subtasks:
  - id: schema
    name: Design schema
    priority: 2
  - id: handlers
    name: Write handlers
    depends_on: [schema]
    category: backend
    complexity: high
`

func TestParseValidPlan(t *testing.T) {
	doc, err := Parse([]byte(validPlan))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if doc.Description != "Build the widget service" {
		t.Errorf("unexpected description %q", doc.Description)
	}
	if len(doc.Subtasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %d", len(doc.Subtasks))
	}

	subtasks := doc.ModelSubtasks()
	if subtasks[1].Complexity != models.ComplexityHigh {
		t.Errorf("expected high complexity, got %s", subtasks[1].Complexity)
	}
	if !subtasks[1].HighComplexity() {
		t.Error("expected HighComplexity true")
	}
	if subtasks[1].DependsOn[0] != "schema" {
		t.Errorf("dependency not carried over: %v", subtasks[1].DependsOn)
	}
}

func TestParseAcceptsJSON(t *testing.T) {
	data := `{"description": "json plan", "subtasks": [{"id": "a", "name": "A"}]}`
	doc, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if doc.Subtasks[0].ID != "a" {
		t.Errorf("unexpected subtask: %+v", doc.Subtasks[0])
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{
			name: "no description",
			data: `subtasks: [{id: a, name: A}]`,
			want: "description",
		},
		{
			name: "no subtasks",
			data: `description: x`,
			want: "at least one subtask",
		},
		{
			name: "missing id",
			data: `{description: x, subtasks: [{name: A}]}`,
			want: "no id",
		},
		{
			name: "duplicate id",
			data: `{description: x, subtasks: [{id: a, name: A}, {id: a, name: B}]}`,
			want: "duplicate",
		},
		{
			name: "unknown dependency",
			data: `{description: x, subtasks: [{id: a, name: A, depends_on: [ghost]}]}`,
			want: "unknown",
		},
		{
			name: "cycle",
			data: `{description: x, subtasks: [{id: a, name: A, depends_on: [b]}, {id: b, name: B, depends_on: [a]}]}`,
			want: "circular",
		},
		{
			name: "bad complexity",
			data: `{description: x, subtasks: [{id: a, name: A, complexity: enormous}]}`,
			want: "complexity",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestWatcherSubmitsDroppedPlan(t *testing.T) {
	dir := t.TempDir()

	submitted := make(chan string, 1)
	w, err := NewWatcher(dir, func(doc *Document, path string) {
		submitted <- doc.Description
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Give the watcher a moment to register before dropping the file.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "plan.yaml"), []byte(validPlan), 0644); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	select {
	case desc := <-submitted:
		if desc != "Build the widget service" {
			t.Errorf("unexpected description %q", desc)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("plan was never submitted")
	}
}

func TestWatcherSubmitsExistingFilesOnce(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "plan.yaml"), []byte(validPlan), 0644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	// Invalid and irrelevant files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644); err != nil {
		t.Fatalf("write notes: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("description: x"), 0644); err != nil {
		t.Fatalf("write broken: %v", err)
	}

	submitted := make(chan string, 4)
	w, err := NewWatcher(dir, func(doc *Document, path string) {
		submitted <- path
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	select {
	case path := <-submitted:
		if filepath.Base(path) != "plan.yaml" {
			t.Errorf("unexpected submission %s", path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("existing plan was never submitted")
	}

	select {
	case path := <-submitted:
		t.Fatalf("unexpected extra submission %s", path)
	case <-time.After(300 * time.Millisecond):
	}
}
