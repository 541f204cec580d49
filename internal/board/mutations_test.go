package board_test

import (
	"testing"
	"time"

	"github.com/clamban/clamban/internal/board"
	"github.com/clamban/clamban/internal/model"
)

func newBoard() model.Board {
	return model.NewBoard(time.Now().UTC())
}

func TestCreateTaskDefaultsAndOrdering(t *testing.T) {
	b := newBoard()
	now := time.Now().UTC()

	t1, err := board.CreateTask(&b, board.NewTaskInput{Title: "first"}, now)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	t2, err := board.CreateTask(&b, board.NewTaskInput{Title: "second"}, now)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if t1.Column != model.ColumnBacklog {
		t.Fatalf("default column = %q, want backlog", t1.Column)
	}
	if t1.Priority != model.PriorityMedium {
		t.Fatalf("default priority = %q, want medium", t1.Priority)
	}
	if t1.Type != model.TaskTypeTask {
		t.Fatalf("default type = %q, want task", t1.Type)
	}
	if !(t2.Order > t1.Order) {
		t.Fatalf("orders not strictly increasing: %v then %v", t1.Order, t2.Order)
	}
}

func TestCreateTaskRejectsBlankTitle(t *testing.T) {
	b := newBoard()
	if _, err := board.CreateTask(&b, board.NewTaskInput{Title: "   "}, time.Now().UTC()); err == nil {
		t.Fatalf("expected error for blank title")
	}
}

func TestCreateTaskRejectsUnknownColumn(t *testing.T) {
	b := newBoard()
	_, err := board.CreateTask(&b, board.NewTaskInput{Title: "x", Column: model.Column("nope")}, time.Now().UTC())
	if err == nil {
		t.Fatalf("expected error for unknown column")
	}
	var verr *board.ValidationError
	if !asValidationError(err, &verr) {
		t.Fatalf("expected *board.ValidationError, got %T", err)
	}
	if verr.Code != model.ErrColumnInvalid {
		t.Fatalf("code = %q, want %q", verr.Code, model.ErrColumnInvalid)
	}
}

func TestPatchTaskNotFound(t *testing.T) {
	b := newBoard()
	_, err := board.PatchTask(&b, "missing", board.PatchTaskInput{}, time.Now().UTC())
	if err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestDeleteTaskStripsDanglingRefs(t *testing.T) {
	b := newBoard()
	now := time.Now().UTC()
	a, _ := board.CreateTask(&b, board.NewTaskInput{Title: "a"}, now)
	bb, _ := board.CreateTask(&b, board.NewTaskInput{Title: "b"}, now)

	if err := board.AddRef(&b, a.ID, model.Ref{TaskID: bb.ID, Type: model.RefBlocks}, now); err != nil {
		t.Fatalf("add ref: %v", err)
	}
	if err := board.DeleteTask(&b, bb.ID, now); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if refs := b.Tasks[a.ID].Refs; len(refs) != 0 {
		t.Fatalf("expected dangling ref removed, got %v", refs)
	}
}

// TestRefSymmetry is the ref-symmetry scenario from the project's
// testable properties: adding a ref sets both sides, removing clears
// both sides.
func TestRefSymmetry(t *testing.T) {
	b := newBoard()
	now := time.Now().UTC()
	a, _ := board.CreateTask(&b, board.NewTaskInput{Title: "a"}, now)
	bb, _ := board.CreateTask(&b, board.NewTaskInput{Title: "b"}, now)

	if err := board.AddRef(&b, a.ID, model.Ref{TaskID: bb.ID, Type: model.RefBlocks}, now); err != nil {
		t.Fatalf("add ref: %v", err)
	}
	if !hasRef(b.Tasks[a.ID].Refs, bb.ID, model.RefBlocks) {
		t.Fatalf("source task missing forward ref")
	}
	if !hasRef(b.Tasks[bb.ID].Refs, a.ID, model.RefBlockedBy) {
		t.Fatalf("target task missing inverse ref")
	}

	if err := board.RemoveRef(&b, a.ID, bb.ID, now); err != nil {
		t.Fatalf("remove ref: %v", err)
	}
	if len(b.Tasks[a.ID].Refs) != 0 || len(b.Tasks[bb.ID].Refs) != 0 {
		t.Fatalf("expected both sides cleared after remove")
	}
}

func TestAddRefRejectsSelfReference(t *testing.T) {
	b := newBoard()
	now := time.Now().UTC()
	a, _ := board.CreateTask(&b, board.NewTaskInput{Title: "a"}, now)
	if err := board.AddRef(&b, a.ID, model.Ref{TaskID: a.ID, Type: model.RefRelated}, now); err == nil {
		t.Fatalf("expected error for self-reference")
	}
}

func TestAddRefIdempotentOnDuplicate(t *testing.T) {
	b := newBoard()
	now := time.Now().UTC()
	a, _ := board.CreateTask(&b, board.NewTaskInput{Title: "a"}, now)
	bb, _ := board.CreateTask(&b, board.NewTaskInput{Title: "b"}, now)

	ref := model.Ref{TaskID: bb.ID, Type: model.RefRelated}
	if err := board.AddRef(&b, a.ID, ref, now); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := board.AddRef(&b, a.ID, ref, now); err != nil {
		t.Fatalf("second add: %v", err)
	}
	if len(b.Tasks[a.ID].Refs) != 1 {
		t.Fatalf("expected duplicate ref to be a no-op, got %v", b.Tasks[a.ID].Refs)
	}
}

func TestAddRefTargetNotFound(t *testing.T) {
	b := newBoard()
	now := time.Now().UTC()
	a, _ := board.CreateTask(&b, board.NewTaskInput{Title: "a"}, now)
	err := board.AddRef(&b, a.ID, model.Ref{TaskID: "missing", Type: model.RefRelated}, now)
	if err == nil {
		t.Fatalf("expected error for missing ref target")
	}
}

func TestAddCommentRedactsSecrets(t *testing.T) {
	b := newBoard()
	now := time.Now().UTC()
	task, _ := board.CreateTask(&b, board.NewTaskInput{Title: "a"}, now)

	comment, err := board.AddComment(&b, task.ID, "alice", "token=super-secret-value", now)
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if containsSubstring(comment.Body, "super-secret-value") {
		t.Fatalf("comment body leaked secret: %q", comment.Body)
	}
}

func TestResolveContextPathRejectsEscape(t *testing.T) {
	if _, err := board.ResolveContextPath("/tmp/project", "../etc/passwd"); err == nil {
		t.Fatalf("expected path escape to be rejected")
	}
}

func TestResolveContextPathRejectsAbsolute(t *testing.T) {
	if _, err := board.ResolveContextPath("/tmp/project", "/etc/passwd"); err == nil {
		t.Fatalf("expected absolute path to be rejected")
	}
}

func TestResolveContextPathAcceptsRelative(t *testing.T) {
	resolved, err := board.ResolveContextPath("/tmp/project", "src/a.ts")
	if err != nil {
		t.Fatalf("resolve relative path: %v", err)
	}
	if !hasPrefix(resolved, "/tmp/project") {
		t.Fatalf("resolved path %q does not stay under project dir", resolved)
	}
}

func TestAddContextDedupesByResolvedPath(t *testing.T) {
	b := newBoard()
	now := time.Now().UTC()
	task, _ := board.CreateTask(&b, board.NewTaskInput{Title: "a"}, now)

	if _, err := board.AddContext(&b, task.ID, "/tmp/project", "src/a.ts", "first note", now); err != nil {
		t.Fatalf("add context: %v", err)
	}
	if _, err := board.AddContext(&b, task.ID, "/tmp/project", "src/a.ts", "second note", now); err != nil {
		t.Fatalf("add context again: %v", err)
	}
	if len(b.Tasks[task.ID].Context) != 1 {
		t.Fatalf("expected dedupe by resolved path, got %v", b.Tasks[task.ID].Context)
	}
}

func TestSortTasksInColumnDoneSortsByUpdatedAtDescending(t *testing.T) {
	older := model.Task{ID: "1", UpdatedAt: time.Now().UTC().Add(-time.Hour)}
	newer := model.Task{ID: "2", UpdatedAt: time.Now().UTC()}
	tasks := []model.Task{older, newer}
	board.SortTasksInColumn(tasks, model.ColumnDone)
	if tasks[0].ID != "2" {
		t.Fatalf("expected newest-updated first in done column, got %v", tasks)
	}
}

func TestSortTasksInColumnOtherSortsByOrderAscending(t *testing.T) {
	first := model.Task{ID: "1", Order: 2}
	second := model.Task{ID: "2", Order: 1}
	tasks := []model.Task{first, second}
	board.SortTasksInColumn(tasks, model.ColumnBacklog)
	if tasks[0].ID != "2" {
		t.Fatalf("expected order-ascending sort, got %v", tasks)
	}
}

func hasRef(refs []model.Ref, taskID string, refType model.RefType) bool {
	for _, r := range refs {
		if r.TaskID == taskID && r.Type == refType {
			return true
		}
	}
	return false
}

func asValidationError(err error, target **board.ValidationError) bool {
	verr, ok := err.(*board.ValidationError)
	if !ok {
		return false
	}
	*target = verr
	return true
}

func containsSubstring(haystack, needle string) bool {
	return len(needle) > 0 && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
