package cmd

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/crewmux/crewmux/internal/heartbeat"
	"github.com/crewmux/crewmux/internal/phase"
	"github.com/crewmux/crewmux/internal/task"
	"github.com/crewmux/crewmux/internal/team"
)

func TestTeamDefinitionParsing(t *testing.T) {
	input := `
workers:
  - name: crane
    agent_type: implementer
    model: sonnet
  - name: heron
    agent_type: reviewer
tasks:
  - id: task-1
    subject: Build the parser
    description: Implement the tokenizer and AST.
  - id: task-2
    subject: Review the parser
    blocked_by: [task-1]
    max_retries: 1
`
	var def teamDefinition
	if err := yaml.Unmarshal([]byte(input), &def); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(def.Workers) != 2 || def.Workers[0].Name != "crane" {
		t.Errorf("workers = %+v", def.Workers)
	}
	if len(def.Tasks) != 2 {
		t.Fatalf("tasks = %+v", def.Tasks)
	}
	if def.Tasks[1].BlockedBy[0] != "task-1" || def.Tasks[1].MaxRetries != 1 {
		t.Errorf("task-2 = %+v", def.Tasks[1])
	}
}

func TestRenderStatusPlain(t *testing.T) {
	st := &team.Status{
		Team:  "alpha",
		Phase: phase.Executing,
		Tasks: []task.Task{
			{ID: "task-1", Subject: "Build", Status: task.StatusInProgress, Owner: "crane"},
			{ID: "task-2", Subject: "Review", Status: task.StatusPending},
		},
		Workers: []team.WorkerStatus{
			{Name: "crane", PaneID: "%1", Alive: true},
			{Name: "heron", PaneID: "%2", Alive: false,
				Heartbeat: heartbeat.Liveness{Reason: "heartbeat stale"}},
		},
	}

	out := renderStatus(st, false)
	for _, want := range []string{"alpha", "executing", "task-1", "in_progress", "crane", "dead (heartbeat stale)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderStatusMarksExhaustedCompletions(t *testing.T) {
	st := &team.Status{
		Team:  "alpha",
		Phase: phase.Failed,
		Tasks: []task.Task{
			{ID: "task-1", Subject: "Doomed", Status: task.StatusCompleted,
				Metadata: task.Metadata{PermanentlyFailed: true, RetryCount: 2, MaxRetries: 2}},
		},
	}
	out := renderStatus(st, false)
	if !strings.Contains(out, "failed (exhausted)") {
		t.Errorf("exhausted completion not flagged:\n%s", out)
	}
}

func TestTruncateText(t *testing.T) {
	if got := truncateText("short", 20); got != "short" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("x", 40)
	if got := truncateText(long, 20); len([]rune(got)) != 20 || !strings.HasSuffix(got, "…") {
		t.Errorf("got %q", got)
	}
}
