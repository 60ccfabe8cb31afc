package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	carnet "github.com/carnetd/carnet"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	log := New(filepath.Join(t.TempDir(), "messages.db"))
	t.Cleanup(func() { log.Close() })
	if err := log.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return log
}

func TestLogAppendAndRead(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	userID, err := log.AppendUserMessage(ctx, "u1:nb1", "plot the data")
	if err != nil {
		t.Fatal(err)
	}
	steps := []carnet.AgentStep{
		{Type: carnet.StepThought, Content: "need matplotlib"},
		{Type: carnet.StepAction, ToolName: "notebook_execute", ToolInput: map[string]any{"code": "plt.plot(xs)"}},
		{Type: carnet.StepObservation, ToolOutput: "Execution 1 finished", Success: true},
		{Type: carnet.StepAnswer, Content: "Done, see the chart."},
	}
	asstID, err := log.AppendAssistantMessage(ctx, "u1:nb1", "Done, see the chart.", "need matplotlib", steps)
	if err != nil {
		t.Fatal(err)
	}
	if asstID <= userID {
		t.Errorf("ids not monotonic: %d then %d", userID, asstID)
	}

	msgs, err := log.Messages(ctx, "u1:nb1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Role != "user" || msgs[0].Content != "plot the data" || msgs[0].ID != userID {
		t.Errorf("user message = %+v", msgs[0])
	}
	got := msgs[1]
	if got.Role != "assistant" || got.Thought != "need matplotlib" || got.CreatedAt == 0 {
		t.Errorf("assistant message = %+v", got)
	}
	if len(got.Steps) != 4 {
		t.Fatalf("steps = %+v", got.Steps)
	}
	if got.Steps[1].ToolName != "notebook_execute" {
		t.Errorf("action step = %+v", got.Steps[1])
	}
	if code, _ := got.Steps[1].ToolInput["code"].(string); code != "plt.plot(xs)" {
		t.Errorf("tool input = %+v", got.Steps[1].ToolInput)
	}
	if !got.Steps[2].Success {
		t.Errorf("observation step = %+v", got.Steps[2])
	}
}

func TestLogMessagesWindowIsChronological(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := log.AppendUserMessage(ctx, "c1", string(rune('a'+i))); err != nil {
			t.Fatal(err)
		}
	}

	// The limit keeps the most recent window but returns it oldest first.
	msgs, err := log.Messages(ctx, "c1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Content != "c" || msgs[1].Content != "d" || msgs[2].Content != "e" {
		t.Errorf("window = %q %q %q", msgs[0].Content, msgs[1].Content, msgs[2].Content)
	}
}

func TestLogConversationsAreIsolated(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	if _, err := log.AppendUserMessage(ctx, "u1:nb1", "mine"); err != nil {
		t.Fatal(err)
	}
	if _, err := log.AppendUserMessage(ctx, "u2:nb1", "theirs"); err != nil {
		t.Fatal(err)
	}

	msgs, err := log.Messages(ctx, "u1:nb1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "mine" {
		t.Errorf("messages = %+v", msgs)
	}
	if msgs, _ := log.Messages(ctx, "u3:nb1", 0); len(msgs) != 0 {
		t.Errorf("unknown conversation returned %+v", msgs)
	}
}

func TestLogToleratesCorruptSteps(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	id, err := log.AppendAssistantMessage(ctx, "c1", "answer", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := log.db.ExecContext(ctx, `UPDATE messages SET steps = '{broken' WHERE id = ?`, id); err != nil {
		t.Fatal(err)
	}

	msgs, err := log.Messages(ctx, "c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "answer" || msgs[0].Steps != nil {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestLogInitIsIdempotent(t *testing.T) {
	log := newTestLog(t)
	if err := log.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
}
