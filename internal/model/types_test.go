package model_test

import (
	"testing"
	"time"

	"github.com/clamban/clamban/internal/model"
)

func TestIsValidColumn(t *testing.T) {
	if !model.IsValidColumn(model.ColumnReview) {
		t.Fatalf("expected review to be a valid column")
	}
	if model.IsValidColumn(model.Column("archived")) {
		t.Fatalf("expected archived to be an invalid column")
	}
}

func TestIsValidPriority(t *testing.T) {
	for _, p := range []model.Priority{model.PriorityLow, model.PriorityMedium, model.PriorityHigh, model.PriorityCritical} {
		if !model.IsValidPriority(p) {
			t.Fatalf("expected %q to be valid", p)
		}
	}
	if model.IsValidPriority(model.Priority("urgent")) {
		t.Fatalf("expected urgent to be invalid")
	}
}

func TestIsValidTaskType(t *testing.T) {
	if !model.IsValidTaskType(model.TaskTypeBug) {
		t.Fatalf("expected bug to be valid")
	}
	if model.IsValidTaskType(model.TaskType("epic")) {
		t.Fatalf("expected epic to be invalid")
	}
}

func TestRefInverseIsSymmetric(t *testing.T) {
	for refType, inverse := range model.RefInverse {
		if model.RefInverse[inverse] != refType {
			t.Fatalf("RefInverse[%q] = %q, but RefInverse[%q] = %q, not symmetric", refType, inverse, inverse, model.RefInverse[inverse])
		}
	}
}

func TestIsValidRefType(t *testing.T) {
	if !model.IsValidRefType(model.RefBlocks) {
		t.Fatalf("expected blocks to be a valid ref type")
	}
	if model.IsValidRefType(model.RefType("duplicates")) {
		t.Fatalf("expected duplicates to be an invalid ref type")
	}
}

func TestNewBoardHasFixedColumnsAndEmptyTasks(t *testing.T) {
	now := time.Now().UTC()
	b := model.NewBoard(now)
	if len(b.Columns) != len(model.ColumnOrder) {
		t.Fatalf("expected %d columns, got %d", len(model.ColumnOrder), len(b.Columns))
	}
	if b.Tasks == nil || len(b.Tasks) != 0 {
		t.Fatalf("expected empty, non-nil task map, got %v", b.Tasks)
	}
	if b.Meta.SchemaVersion != model.CurrentSchemaVersion {
		t.Fatalf("schema version = %d, want %d", b.Meta.SchemaVersion, model.CurrentSchemaVersion)
	}
	if !b.Meta.CreatedAt.Equal(now) {
		t.Fatalf("createdAt = %v, want %v", b.Meta.CreatedAt, now)
	}
}

func TestNewBoardColumnsAreIndependentCopy(t *testing.T) {
	b := model.NewBoard(time.Now().UTC())
	b.Columns[0] = model.Column("mutated")
	if model.ColumnOrder[0] == model.Column("mutated") {
		t.Fatalf("mutating a board's columns slice must not affect the shared ColumnOrder")
	}
}
