package board

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clamban/clamban/internal/model"
	"github.com/clamban/clamban/internal/security"
)

// ValidationError carries a client-facing error code alongside the Go
// error chain; internal/api maps it straight onto the {error} envelope.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validationErr(code, format string, args ...any) error {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NextOrder returns a strictly-increasing order key for a new task
// appended to the end of column within b.
func NextOrder(b model.Board, column model.Column) float64 {
	max := 0.0
	found := false
	for _, t := range b.Tasks {
		if t.Column != column {
			continue
		}
		if !found || t.Order > max {
			max = t.Order
			found = true
		}
	}
	if !found {
		return 1
	}
	return max + 1
}

// NewTaskInput is the whitelisted set of fields a POST /api/tasks body
// may set.
type NewTaskInput struct {
	Title           string
	Description     string
	Column          model.Column
	Priority        model.Priority
	Type            model.TaskType
	Tags            []string
	Assignee        string
	EstimateMinutes *int
}

// CreateTask validates input and inserts a new task into b, returning
// the created task. b is mutated in place; callers are responsible
// for persisting it.
func CreateTask(b *model.Board, in NewTaskInput, now time.Time) (model.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.Task{}, validationErr(model.ErrValidation, "title is required")
	}
	column := in.Column
	if column == "" {
		column = model.ColumnBacklog
	}
	if !model.IsValidColumn(column) {
		return model.Task{}, validationErr(model.ErrColumnInvalid, "unknown column %q", column)
	}
	priority := in.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !model.IsValidPriority(priority) {
		return model.Task{}, validationErr(model.ErrPriorityInvalid, "unknown priority %q", priority)
	}
	taskType := in.Type
	if taskType == "" {
		taskType = model.TaskTypeTask
	}
	if !model.IsValidTaskType(taskType) {
		return model.Task{}, validationErr(model.ErrTypeInvalid, "unknown type %q", taskType)
	}

	task := model.Task{
		ID:              uuid.NewString(),
		Title:           title,
		Description:     strings.TrimSpace(in.Description),
		Column:          column,
		Order:           NextOrder(*b, column),
		Priority:        priority,
		Type:            taskType,
		Tags:            append([]string{}, in.Tags...),
		Assignee:        strings.TrimSpace(in.Assignee),
		EstimateMinutes: in.EstimateMinutes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if b.Tasks == nil {
		b.Tasks = map[string]model.Task{}
	}
	b.Tasks[task.ID] = task
	return task, nil
}

// PatchTaskInput carries the whitelisted fields a PATCH may update.
// nil pointers mean "leave unchanged".
type PatchTaskInput struct {
	Title           *string
	Description     *string
	Column          *model.Column
	Order           *float64
	Priority        *model.Priority
	Type            *model.TaskType
	Tags            *[]string
	Assignee        *string
	EstimateMinutes *int
}

// PatchTask applies in to the task identified by id, bumping
// updatedAt. Returns model.ErrTaskNotFound via ValidationError if the
// task doesn't exist.
func PatchTask(b *model.Board, id string, in PatchTaskInput, now time.Time) (model.Task, error) {
	task, ok := b.Tasks[id]
	if !ok {
		return model.Task{}, validationErr(model.ErrTaskNotFound, "task %q not found", id)
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return model.Task{}, validationErr(model.ErrValidation, "title cannot be empty")
		}
		task.Title = title
	}
	if in.Description != nil {
		task.Description = *in.Description
	}
	if in.Column != nil {
		if !model.IsValidColumn(*in.Column) {
			return model.Task{}, validationErr(model.ErrColumnInvalid, "unknown column %q", *in.Column)
		}
		task.Column = *in.Column
	}
	if in.Order != nil {
		task.Order = *in.Order
	}
	if in.Priority != nil {
		if !model.IsValidPriority(*in.Priority) {
			return model.Task{}, validationErr(model.ErrPriorityInvalid, "unknown priority %q", *in.Priority)
		}
		task.Priority = *in.Priority
	}
	if in.Type != nil {
		if !model.IsValidTaskType(*in.Type) {
			return model.Task{}, validationErr(model.ErrTypeInvalid, "unknown type %q", *in.Type)
		}
		task.Type = *in.Type
	}
	if in.Tags != nil {
		task.Tags = append([]string{}, (*in.Tags)...)
	}
	if in.Assignee != nil {
		task.Assignee = strings.TrimSpace(*in.Assignee)
	}
	if in.EstimateMinutes != nil {
		task.EstimateMinutes = in.EstimateMinutes
	}
	task.UpdatedAt = now
	b.Tasks[id] = task
	return task, nil
}

// DeleteTask removes the task and strips any reference to it from
// other tasks, keeping invariant 1 (ref symmetry) intact.
func DeleteTask(b *model.Board, id string, now time.Time) error {
	if _, ok := b.Tasks[id]; !ok {
		return validationErr(model.ErrTaskNotFound, "task %q not found", id)
	}
	delete(b.Tasks, id)
	for otherID, other := range b.Tasks {
		filtered := other.Refs[:0:0]
		changed := false
		for _, r := range other.Refs {
			if r.TaskID == id {
				changed = true
				continue
			}
			filtered = append(filtered, r)
		}
		if changed {
			other.Refs = filtered
			other.UpdatedAt = now
			b.Tasks[otherID] = other
		}
	}
	return nil
}

// AddComment appends an append-only comment to the task.
func AddComment(b *model.Board, id, author, body string, now time.Time) (model.Comment, error) {
	task, ok := b.Tasks[id]
	if !ok {
		return model.Comment{}, validationErr(model.ErrTaskNotFound, "task %q not found", id)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return model.Comment{}, validationErr(model.ErrValidation, "comment body is required")
	}
	comment := model.Comment{
		ID:        uuid.NewString(),
		Author:    strings.TrimSpace(author),
		Body:      security.RedactPayload(body),
		CreatedAt: now,
	}
	task.Comments = append(task.Comments, comment)
	task.UpdatedAt = now
	b.Tasks[id] = task
	return comment, nil
}

// ResolveContextPath resolves a task-supplied path against projectDir
// and enforces invariant 5: the result must not escape projectDir.
func ResolveContextPath(projectDir, rawPath string) (string, error) {
	rawPath = strings.TrimSpace(rawPath)
	if rawPath == "" {
		return "", validationErr(model.ErrValidation, "path is required")
	}
	if filepath.IsAbs(rawPath) {
		return "", validationErr(model.ErrPathAbsolute, "path %q must be relative to the project", rawPath)
	}
	joined := filepath.Join(projectDir, rawPath)
	resolved, err := filepath.Abs(joined)
	if err != nil {
		return "", validationErr(model.ErrValidation, "could not resolve path %q", rawPath)
	}
	rootAbs, err := filepath.Abs(projectDir)
	if err != nil {
		return "", validationErr(model.ErrValidation, "could not resolve project dir")
	}
	rel, err := filepath.Rel(rootAbs, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", validationErr(model.ErrPathEscape, "path %q resolves outside the project directory", rawPath)
	}
	return resolved, nil
}

// AddContext appends a file-context entry, deduping by resolved path.
func AddContext(b *model.Board, id, projectDir, rawPath, note string, now time.Time) (model.FileContext, error) {
	task, ok := b.Tasks[id]
	if !ok {
		return model.FileContext{}, validationErr(model.ErrTaskNotFound, "task %q not found", id)
	}
	resolved, err := ResolveContextPath(projectDir, rawPath)
	if err != nil {
		return model.FileContext{}, err
	}
	entry := model.FileContext{Path: resolved, Note: security.RedactPayload(strings.TrimSpace(note))}
	for _, existing := range task.Context {
		if existing.Path == resolved {
			return existing, nil
		}
	}
	task.Context = append(task.Context, entry)
	task.UpdatedAt = now
	b.Tasks[id] = task
	return entry, nil
}

// AddRef applies both sides of a symmetric ref (invariant 1): it adds
// the ref to the source task and its inverse to the target task, or
// neither if either task is missing. Idempotent on duplicates.
func AddRef(b *model.Board, sourceID string, ref model.Ref, now time.Time) error {
	if !model.IsValidRefType(ref.Type) {
		return validationErr(model.ErrRefTypeInvalid, "unknown ref type %q", ref.Type)
	}
	source, ok := b.Tasks[sourceID]
	if !ok {
		return validationErr(model.ErrTaskNotFound, "task %q not found", sourceID)
	}
	target, ok := b.Tasks[ref.TaskID]
	if !ok {
		return validationErr(model.ErrRefTargetNotFound, "ref target %q not found", ref.TaskID)
	}
	if sourceID == ref.TaskID {
		return validationErr(model.ErrValidation, "a task cannot reference itself")
	}

	if !hasRef(source.Refs, ref) {
		source.Refs = append(source.Refs, ref)
		source.UpdatedAt = now
		b.Tasks[sourceID] = source
	}
	inverse := model.Ref{TaskID: sourceID, Type: model.RefInverse[ref.Type]}
	if !hasRef(target.Refs, inverse) {
		target.Refs = append(target.Refs, inverse)
		target.UpdatedAt = now
		b.Tasks[ref.TaskID] = target
	}
	return nil
}

// RemoveRef removes both sides of the ref between sourceID and
// targetID, regardless of ref type.
func RemoveRef(b *model.Board, sourceID, targetID string, now time.Time) error {
	source, ok := b.Tasks[sourceID]
	if !ok {
		return validationErr(model.ErrTaskNotFound, "task %q not found", sourceID)
	}
	before := len(source.Refs)
	source.Refs = removeRefsTo(source.Refs, targetID)
	if len(source.Refs) != before {
		source.UpdatedAt = now
		b.Tasks[sourceID] = source
	}
	if target, ok := b.Tasks[targetID]; ok {
		beforeT := len(target.Refs)
		target.Refs = removeRefsTo(target.Refs, sourceID)
		if len(target.Refs) != beforeT {
			target.UpdatedAt = now
			b.Tasks[targetID] = target
		}
	}
	return nil
}

func hasRef(refs []model.Ref, ref model.Ref) bool {
	for _, r := range refs {
		if r.TaskID == ref.TaskID && r.Type == ref.Type {
			return true
		}
	}
	return false
}

func removeRefsTo(refs []model.Ref, taskID string) []model.Ref {
	out := refs[:0:0]
	for _, r := range refs {
		if r.TaskID == taskID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SortTasksInColumn orders a column's tasks per invariant 4: by Order
// ascending everywhere except "done", which sorts by UpdatedAt
// descending.
func SortTasksInColumn(tasks []model.Task, column model.Column) {
	if column == model.ColumnDone {
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
		})
		return
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Order < tasks[j].Order
	})
}
