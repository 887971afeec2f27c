package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const taskYAML = `name: appointment
objective: Book a table for two at 7pm
flow:
  - Greet the restaurant
  - Ask for availability
  - Confirm the booking
gather:
  - confirmation number
  - earliest available time
prompt_addendum: Always be polite.
greeting: Hi, I'm calling to make a reservation.
`

func writeTask(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write task file: %v", err)
	}
}

func TestLoadTask(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "appointment", taskYAML)

	task, err := LoadTask(dir, "appointment")
	if err != nil {
		t.Fatalf("LoadTask failed: %v", err)
	}
	if task.Objective != "Book a table for two at 7pm" {
		t.Errorf("Objective mismatch: %q", task.Objective)
	}
	if len(task.Flow) != 3 {
		t.Errorf("Expected 3 flow steps, got %d", len(task.Flow))
	}
	if len(task.Gather) != 2 {
		t.Errorf("Expected 2 gather items, got %d", len(task.Gather))
	}
	if task.Greeting == "" {
		t.Error("Expected greeting to load")
	}
}

func TestLoadTask_DefaultsName(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "survey", "objective: ask questions\n")

	task, err := LoadTask(dir, "survey")
	if err != nil {
		t.Fatalf("LoadTask failed: %v", err)
	}
	if task.Name != "survey" {
		t.Errorf("Expected name defaulted to 'survey', got %q", task.Name)
	}
}

func TestLoadTask_RejectsPathTraversal(t *testing.T) {
	for _, name := range []string{"", "../etc/passwd", "a/b", `a\b`} {
		if _, err := LoadTask(t.TempDir(), name); err == nil {
			t.Errorf("Expected error for task name %q", name)
		}
	}
}

func TestLoadTask_Missing(t *testing.T) {
	if _, err := LoadTask(t.TempDir(), "nope"); err == nil {
		t.Error("Expected error for missing template")
	}
}

func TestSystemPrompt(t *testing.T) {
	task := &Task{
		Objective:      "gather an order",
		Flow:           []string{"greet", "ask"},
		Gather:         []string{"order number"},
		PromptAddendum: "Never quote prices.",
	}
	prompt := task.SystemPrompt()
	for _, want := range []string{"gather an order", "1. greet", "2. ask", "- order number", "Never quote prices."} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestSystemPrompt_NilTask(t *testing.T) {
	var task *Task
	if task.SystemPrompt() != DefaultSystemPrompt {
		t.Error("Nil task must yield the default prompt")
	}
	if task.TaskName() != "" {
		t.Error("Nil task must have empty name")
	}
}
