package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// DefaultSystemPrompt is used for calls with no task template.
const DefaultSystemPrompt = "You are a helpful voice assistant on a phone call. " +
	"Keep replies brief and conversational; they will be read aloud."

// Task is the scripted objective driving a goal-directed call. Loaded
// once per call from a YAML template and never mutated by the core.
type Task struct {
	Name           string   `yaml:"name"`
	Objective      string   `yaml:"objective"`
	Flow           []string `yaml:"flow"`
	Gather         []string `yaml:"gather"`
	PromptAddendum string   `yaml:"prompt_addendum"`
	Greeting       string   `yaml:"greeting"`
}

// LoadTask reads the template named name from dir (<dir>/<name>.yaml).
func LoadTask(dir, name string) (*Task, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, fmt.Errorf("invalid task name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(dir, name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to read task template %q: %w", name, err)
	}
	var t Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse task template %q: %w", name, err)
	}
	if t.Name == "" {
		t.Name = name
	}
	return &t, nil
}

// TaskName is the template name, empty for untasked calls. Nil-safe.
func (t *Task) TaskName() string {
	if t == nil {
		return ""
	}
	return t.Name
}

// GreetingLine is the task's opening line. Nil-safe: untasked calls
// have no scripted greeting.
func (t *Task) GreetingLine() string {
	if t == nil {
		return ""
	}
	return t.Greeting
}

// SystemPrompt renders the template into the pinned system turn.
// Nil-safe: untasked calls get the default prompt.
func (t *Task) SystemPrompt() string {
	if t == nil {
		return DefaultSystemPrompt
	}
	var b strings.Builder
	b.WriteString(DefaultSystemPrompt)
	if t.Objective != "" {
		b.WriteString("\n\nYour objective for this call: ")
		b.WriteString(t.Objective)
	}
	if len(t.Flow) > 0 {
		b.WriteString("\n\nFollow these steps in order:")
		for i, step := range t.Flow {
			fmt.Fprintf(&b, "\n%d. %s", i+1, step)
		}
	}
	if len(t.Gather) > 0 {
		b.WriteString("\n\nInformation you must gather before the call ends:")
		for _, item := range t.Gather {
			b.WriteString("\n- ")
			b.WriteString(item)
		}
	}
	if t.PromptAddendum != "" {
		b.WriteString("\n\n")
		b.WriteString(t.PromptAddendum)
	}
	return b.String()
}
