// Package planfile loads plan definition files. A plan file is the external
// submission format: a YAML (or JSON) document describing the task and its
// subtasks, validated into a schedulable plan.
package planfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/subplot-sh/subplot/internal/graph"
	"github.com/subplot-sh/subplot/pkg/models"
)

// Document is a parsed plan definition file.
type Document struct {
	// Description is the originating task description.
	Description string `yaml:"description"`
	// WorkingDir is the directory agent processes execute in. Empty means
	// the submitter's working directory.
	WorkingDir string `yaml:"working_dir"`
	// EstimatedMinutes is the aggregate time estimate.
	EstimatedMinutes int `yaml:"estimated_minutes"`
	// Subtasks is the list of subtask definitions.
	Subtasks []SubtaskDef `yaml:"subtasks"`
}

// SubtaskDef is one subtask entry in a plan file.
type SubtaskDef struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description"`
	Category         string   `yaml:"category"`
	DependsOn        []string `yaml:"depends_on"`
	Priority         int      `yaml:"priority"`
	EstimatedMinutes int      `yaml:"estimated_minutes"`
	Complexity       string   `yaml:"complexity"`
}

// Load reads, parses, and validates a plan file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a plan document. YAML and JSON are both
// accepted; JSON is a YAML subset.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the document describes a schedulable plan: at least one
// subtask, unique non-empty IDs, known dependency references, and no
// dependency cycles.
func (d *Document) Validate() error {
	if d.Description == "" {
		return fmt.Errorf("plan file: description is required")
	}
	if len(d.Subtasks) == 0 {
		return fmt.Errorf("plan file: at least one subtask is required")
	}

	for i, st := range d.Subtasks {
		if st.ID == "" {
			return fmt.Errorf("plan file: subtask %d has no id", i)
		}
		if st.Name == "" {
			return fmt.Errorf("plan file: subtask %s has no name", st.ID)
		}
		switch models.Complexity(st.Complexity) {
		case "", models.ComplexityNormal, models.ComplexityHigh:
		default:
			return fmt.Errorf("plan file: subtask %s has unknown complexity %q", st.ID, st.Complexity)
		}
	}

	// Graph construction enforces ID uniqueness, known dependencies, and
	// acyclicity.
	g := graph.New()
	if err := g.Build(d.ModelSubtasks()); err != nil {
		return fmt.Errorf("plan file: %w", err)
	}
	return nil
}

// ModelSubtasks converts the definitions into model subtasks.
func (d *Document) ModelSubtasks() []*models.Subtask {
	out := make([]*models.Subtask, 0, len(d.Subtasks))
	for _, st := range d.Subtasks {
		out = append(out, &models.Subtask{
			ID:               st.ID,
			Name:             st.Name,
			Description:      st.Description,
			Category:         st.Category,
			DependsOn:        st.DependsOn,
			Priority:         st.Priority,
			EstimatedMinutes: st.EstimatedMinutes,
			Complexity:       models.Complexity(st.Complexity),
		})
	}
	return out
}
