package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/clamban/clamban/internal/board"
	"github.com/clamban/clamban/internal/model"
)

// createTaskRequest is the whitelisted body of POST /api/tasks.
type createTaskRequest struct {
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Column          model.Column    `json:"column,omitempty"`
	Priority        model.Priority  `json:"priority,omitempty"`
	Type            model.TaskType  `json:"type,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Assignee        string          `json:"assignee,omitempty"`
	EstimateMinutes *int            `json:"estimateMinutes,omitempty"`
}

// patchTaskRequest mirrors board.PatchTaskInput's pointer-means-unset
// shape over the wire.
type patchTaskRequest struct {
	Title           *string          `json:"title"`
	Description     *string          `json:"description"`
	Column          *model.Column    `json:"column"`
	Order           *float64         `json:"order"`
	Priority        *model.Priority  `json:"priority"`
	Type            *model.TaskType  `json:"type"`
	Tags            *[]string        `json:"tags"`
	Assignee        *string          `json:"assignee"`
	EstimateMinutes *int             `json:"estimateMinutes"`
}

// tasksCollectionHandler serves GET (list, optionally filtered by
// ?column=) and POST (create) on /api/tasks.
func (s *Server) tasksCollectionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listTasks(w, r)
	case http.MethodPost:
		s.createTask(w, r)
	default:
		s.methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// listTasks serves GET /api/tasks?ids=a,b,c, the bulk-fetch-by-id
// route from spec.md §4.F; ids is required and must be non-empty.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("ids"))
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrValidation, "ids is required")
		return
	}
	ids := strings.Split(raw, ",")

	b, err := s.boards.Read()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrBoardCorrupt, err.Error())
		return
	}
	out := make([]model.Task, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if t, ok := b.Tasks[id]; ok {
			out = append(out, t)
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrValidation, "malformed request body")
		return
	}
	b, err := s.boards.Read()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrBoardCorrupt, err.Error())
		return
	}
	task, err := board.CreateTask(&b, board.NewTaskInput{
		Title:           req.Title,
		Description:     req.Description,
		Column:          req.Column,
		Priority:        req.Priority,
		Type:            req.Type,
		Tags:            req.Tags,
		Assignee:        req.Assignee,
		EstimateMinutes: req.EstimateMinutes,
	}, time.Now().UTC())
	if err != nil {
		s.writeValidationErr(w, err)
		return
	}
	if err := s.boards.Write(b); err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	s.broadcastBoardChanged()
	s.notifySupervisorBoardChanged()
	s.writeJSON(w, http.StatusCreated, task)
}

// taskSubrouteHandler dispatches everything under /api/tasks/,
// splitting the trailing path into an id and an optional
// sub-resource, generalizing the reference daemon's
// targetByNameHandler path-splitting style (internal/daemon/server.go)
// from a single flat resource to task/{comments,context,refs}.
func (s *Server) taskSubrouteHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		s.writeError(w, http.StatusNotFound, model.ErrTaskNotFound, "task id is required")
		return
	}
	if rest == "search" {
		s.searchTasks(w, r)
		return
	}

	segments := strings.Split(rest, "/")
	id := segments[0]

	if len(segments) == 1 {
		s.taskByIDHandler(w, r, id)
		return
	}

	switch segments[1] {
	case "comments":
		s.taskCommentsHandler(w, r, id)
	case "context":
		s.taskContextHandler(w, r, id)
	case "refs":
		if len(segments) == 2 {
			s.taskRefsHandler(w, r, id)
			return
		}
		s.taskRefTargetHandler(w, r, id, segments[2])
	default:
		s.writeError(w, http.StatusNotFound, model.ErrValidation, "unknown task sub-resource")
	}
}

func (s *Server) taskByIDHandler(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		b, err := s.boards.Read()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, model.ErrBoardCorrupt, err.Error())
			return
		}
		task, ok := b.Tasks[id]
		if !ok {
			s.writeError(w, http.StatusNotFound, model.ErrTaskNotFound, "task not found")
			return
		}
		s.writeJSON(w, http.StatusOK, task)

	case http.MethodPatch:
		var req patchTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, model.ErrValidation, "malformed request body")
			return
		}
		b, err := s.boards.Read()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, model.ErrBoardCorrupt, err.Error())
			return
		}
		task, err := board.PatchTask(&b, id, board.PatchTaskInput{
			Title:           req.Title,
			Description:     req.Description,
			Column:          req.Column,
			Order:           req.Order,
			Priority:        req.Priority,
			Type:            req.Type,
			Tags:            req.Tags,
			Assignee:        req.Assignee,
			EstimateMinutes: req.EstimateMinutes,
		}, time.Now().UTC())
		if err != nil {
			s.writeValidationErr(w, err)
			return
		}
		if err := s.boards.Write(b); err != nil {
			s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
			return
		}
		s.broadcastBoardChanged()
		s.notifySupervisorBoardChanged()
		s.writeJSON(w, http.StatusOK, task)

	case http.MethodDelete:
		b, err := s.boards.Read()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, model.ErrBoardCorrupt, err.Error())
			return
		}
		if err := board.DeleteTask(&b, id, time.Now().UTC()); err != nil {
			s.writeValidationErr(w, err)
			return
		}
		if err := s.boards.Write(b); err != nil {
			s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
			return
		}
		s.broadcastBoardChanged()
		s.notifySupervisorBoardChanged()
		w.WriteHeader(http.StatusNoContent)

	default:
		s.methodNotAllowed(w, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (s *Server) taskCommentsHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req CommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrValidation, "malformed request body")
		return
	}
	b, err := s.boards.Read()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrBoardCorrupt, err.Error())
		return
	}
	comment, err := board.AddComment(&b, id, req.Author, req.Body, time.Now().UTC())
	if err != nil {
		s.writeValidationErr(w, err)
		return
	}
	if err := s.boards.Write(b); err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	s.broadcastBoardChanged()
	s.notifySupervisorBoardChanged()
	s.writeJSON(w, http.StatusCreated, comment)
}

func (s *Server) taskContextHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrValidation, "malformed request body")
		return
	}
	b, err := s.boards.Read()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrBoardCorrupt, err.Error())
		return
	}
	team, ok := currentTeamConfig(b)
	if !ok {
		s.writeError(w, http.StatusBadRequest, model.ErrTeamNotConnected, "no team connected")
		return
	}
	entry, err := board.AddContext(&b, id, team.ProjectDir, req.Path, req.Note, time.Now().UTC())
	if err != nil {
		s.writeValidationErr(w, err)
		return
	}
	if err := s.boards.Write(b); err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	s.broadcastBoardChanged()
	s.notifySupervisorBoardChanged()
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) taskRefsHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req RefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrValidation, "malformed request body")
		return
	}
	b, err := s.boards.Read()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrBoardCorrupt, err.Error())
		return
	}
	ref := model.Ref{TaskID: req.TaskID, Type: model.RefType(req.Type)}
	if err := board.AddRef(&b, id, ref, time.Now().UTC()); err != nil {
		s.writeValidationErr(w, err)
		return
	}
	if err := s.boards.Write(b); err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	s.broadcastBoardChanged()
	s.notifySupervisorBoardChanged()
	s.writeJSON(w, http.StatusCreated, b.Tasks[id])
}

func (s *Server) taskRefTargetHandler(w http.ResponseWriter, r *http.Request, id, targetID string) {
	if r.Method != http.MethodDelete {
		s.methodNotAllowed(w, http.MethodDelete)
		return
	}
	b, err := s.boards.Read()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrBoardCorrupt, err.Error())
		return
	}
	if err := board.RemoveRef(&b, id, targetID, time.Now().UTC()); err != nil {
		s.writeValidationErr(w, err)
		return
	}
	if err := s.boards.Write(b); err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	s.broadcastBoardChanged()
	s.notifySupervisorBoardChanged()
	w.WriteHeader(http.StatusNoContent)
}

// searchTasks serves GET /api/tasks/search?q=&column=&limit= per
// spec.md §4.F: case-insensitive substring match on title/description/
// tag, optional column filter, limit default 20 cap 100 (a
// non-numeric limit falls back to the default rather than erroring).
func (s *Server) searchTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	column := model.Column(r.URL.Query().Get("column"))
	limit := parseLimit(r.URL.Query().Get("limit"), 20, 100)

	b, err := s.boards.Read()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrBoardCorrupt, err.Error())
		return
	}
	candidates := sortedTaskSlice(b.Tasks, column)
	matches := make([]model.Task, 0, limit)
	for _, t := range candidates {
		if query != "" && !taskMatchesQuery(t, query) {
			continue
		}
		matches = append(matches, t)
		if len(matches) >= limit {
			break
		}
	}
	s.writeJSON(w, http.StatusOK, matches)
}

func taskMatchesQuery(t model.Task, query string) bool {
	if strings.Contains(strings.ToLower(t.Title), query) || strings.Contains(strings.ToLower(t.Description), query) {
		return true
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}
