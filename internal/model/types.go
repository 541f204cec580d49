// Package model holds the data types shared by the board store, the
// HTTP API, and the cycle supervisor.
package model

import "time"

// Column is one of the five fixed Kanban columns.
type Column string

const (
	ColumnBacklog    Column = "backlog"
	ColumnReady      Column = "ready"
	ColumnInProgress Column = "in-progress"
	ColumnReview     Column = "review"
	ColumnDone       Column = "done"
)

// ColumnOrder is the board's fixed, ordered column sequence.
var ColumnOrder = []Column{ColumnBacklog, ColumnReady, ColumnInProgress, ColumnReview, ColumnDone}

func IsValidColumn(c Column) bool {
	for _, known := range ColumnOrder {
		if known == c {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func IsValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

type TaskType string

const (
	TaskTypeTask    TaskType = "task"
	TaskTypeBug     TaskType = "bug"
	TaskTypeFeature TaskType = "feature"
	TaskTypeChore   TaskType = "chore"
)

func IsValidTaskType(t TaskType) bool {
	switch t {
	case TaskTypeTask, TaskTypeBug, TaskTypeFeature, TaskTypeChore:
		return true
	default:
		return false
	}
}

// RefType is the typed relationship of a Ref. RefInverse maps every
// ref type to its mirrored counterpart on the target task.
type RefType string

const (
	RefRelated   RefType = "related"
	RefBlocks    RefType = "blocks"
	RefBlockedBy RefType = "blocked-by"
	RefParent    RefType = "parent"
	RefChild     RefType = "child"
)

// RefInverse resolves the symmetric counterpart of a ref type.
var RefInverse = map[RefType]RefType{
	RefRelated:   RefRelated,
	RefBlocks:    RefBlockedBy,
	RefBlockedBy: RefBlocks,
	RefParent:    RefChild,
	RefChild:     RefParent,
}

func IsValidRefType(t RefType) bool {
	_, ok := RefInverse[t]
	return ok
}

// Ref is a typed, symmetric link from the owning task to TaskID.
type Ref struct {
	TaskID string  `json:"taskId"`
	Type   RefType `json:"type"`
}

type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type FileContext struct {
	Path string `json:"path"`
	Note string `json:"note,omitempty"`
}

type Task struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	Column          Column        `json:"column"`
	Order           float64       `json:"order"`
	Priority        Priority      `json:"priority"`
	Type            TaskType      `json:"type"`
	Tags            []string      `json:"tags,omitempty"`
	Assignee        string        `json:"assignee,omitempty"`
	Comments        []Comment     `json:"comments,omitempty"`
	Context         []FileContext `json:"context,omitempty"`
	Refs            []Ref         `json:"refs,omitempty"`
	EstimateMinutes *int          `json:"estimateMinutes,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// TeamConfig binds the board to the external agent team that drives it.
type TeamConfig struct {
	Name        string `json:"name"`
	ProjectDir  string `json:"projectDir"`
	Model       string `json:"model,omitempty"`
	MaxTurns    int    `json:"maxTurns"`
	AgentCommand string `json:"agentCommand,omitempty"`
	AutoStart   bool   `json:"autoStart,omitempty"`
}

type BoardMeta struct {
	Name          string      `json:"name"`
	CreatedAt     time.Time   `json:"createdAt"`
	SchemaVersion int         `json:"schemaVersion"`
	Team          *TeamConfig `json:"team,omitempty"`
}

type Board struct {
	Meta    BoardMeta       `json:"meta"`
	Columns []Column        `json:"columns"`
	Tasks   map[string]Task `json:"tasks"`
}

const CurrentSchemaVersion = 1

// NewBoard materializes the default, empty board document.
func NewBoard(now time.Time) Board {
	return Board{
		Meta: BoardMeta{
			Name:          "board",
			CreatedAt:     now,
			SchemaVersion: CurrentSchemaVersion,
		},
		Columns: append([]Column{}, ColumnOrder...),
		Tasks:   map[string]Task{},
	}
}

// Error codes returned in the {error:{code,message}} envelope.
const (
	ErrTaskNotFound      = "E_TASK_NOT_FOUND"
	ErrColumnInvalid     = "E_COLUMN_INVALID"
	ErrPriorityInvalid   = "E_PRIORITY_INVALID"
	ErrTypeInvalid       = "E_TYPE_INVALID"
	ErrRefTypeInvalid    = "E_REF_TYPE_INVALID"
	ErrRefTargetNotFound = "E_REF_TARGET_NOT_FOUND"
	ErrPathEscape        = "E_PATH_ESCAPE"
	ErrPathAbsolute      = "E_PATH_ABSOLUTE"
	ErrTeamNotConnected  = "E_TEAM_NOT_CONNECTED"
	ErrTeamAlreadyRuns   = "E_TEAM_ALREADY_RUNNING"
	ErrBoardCorrupt      = "E_BOARD_CORRUPT"
	ErrValidation        = "E_VALIDATION"
	ErrInternal          = "E_INTERNAL"
)
