package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/clamban/clamban/internal/model"
)

func createTestTask(t *testing.T, ts string, title string) model.Task {
	t.Helper()
	body := fmt.Sprintf(`{"title":%q}`, title)
	resp, err := http.Post(ts+"/api/tasks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task status = %d, want 201", resp.StatusCode)
	}
	var task model.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return task
}

func TestListTasksRequiresIDs(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/tasks")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListTasksBulkFetchByID(t *testing.T) {
	_, ts := newTestServer(t)
	a := createTestTask(t, ts.URL, "task a")
	b := createTestTask(t, ts.URL, "task b")

	resp, err := http.Get(ts.URL + "/api/tasks?ids=" + a.ID + "," + b.ID + ",missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var tasks []model.Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 matched tasks, got %d: %v", len(tasks), tasks)
	}
}

func TestCreateTaskRejectsBlankTitle(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/tasks", "application/json", strings.NewReader(`{"title":""}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTaskByIDHandlerLifecycle(t *testing.T) {
	_, ts := newTestServer(t)
	task := createTestTask(t, ts.URL, "lifecycle task")

	getResp, err := http.Get(ts.URL + "/api/tasks/" + task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", getResp.StatusCode)
	}

	patchReq, err := http.NewRequest(http.MethodPatch, ts.URL+"/api/tasks/"+task.ID, strings.NewReader(`{"title":"renamed"}`))
	if err != nil {
		t.Fatalf("build patch request: %v", err)
	}
	patchResp, err := http.DefaultClient.Do(patchReq)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	defer patchResp.Body.Close()
	if patchResp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d, want 200", patchResp.StatusCode)
	}
	var patched model.Task
	if err := json.NewDecoder(patchResp.Body).Decode(&patched); err != nil {
		t.Fatalf("decode patched task: %v", err)
	}
	if patched.Title != "renamed" {
		t.Fatalf("title = %q, want renamed", patched.Title)
	}

	delReq, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/tasks/"+task.ID, nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	delResp, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", delResp.StatusCode)
	}

	getAfterDelete, err := http.Get(ts.URL + "/api/tasks/" + task.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	defer getAfterDelete.Body.Close()
	if getAfterDelete.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", getAfterDelete.StatusCode)
	}
}

func TestTaskByIDHandlerNotFound(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/tasks/does-not-exist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTaskCommentsHandlerCreatesComment(t *testing.T) {
	_, ts := newTestServer(t)
	task := createTestTask(t, ts.URL, "comment target")

	resp, err := http.Post(ts.URL+"/api/tasks/"+task.ID+"/comments", "application/json", strings.NewReader(`{"author":"bob","body":"looks good"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
}

func TestTaskContextHandlerRequiresConnectedTeam(t *testing.T) {
	_, ts := newTestServer(t)
	task := createTestTask(t, ts.URL, "context target")

	resp, err := http.Post(ts.URL+"/api/tasks/"+task.ID+"/context", "application/json", strings.NewReader(`{"path":"src/a.ts"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (no team connected)", resp.StatusCode)
	}
}

func TestTaskRefsHandlerCreatesSymmetricRefAnd201(t *testing.T) {
	_, ts := newTestServer(t)
	a := createTestTask(t, ts.URL, "ref source")
	b := createTestTask(t, ts.URL, "ref target")

	body := fmt.Sprintf(`{"taskId":%q,"type":"blocks"}`, b.ID)
	resp, err := http.Post(ts.URL+"/api/tasks/"+a.ID+"/refs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	getB, err := http.Get(ts.URL + "/api/tasks/" + b.ID)
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	defer getB.Body.Close()
	var taskB model.Task
	if err := json.NewDecoder(getB.Body).Decode(&taskB); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := false
	for _, ref := range taskB.Refs {
		if ref.TaskID == a.ID && ref.Type == model.RefBlockedBy {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected inverse ref on target task, got %v", taskB.Refs)
	}
}

func TestTaskRefsHandlerTargetNotFound(t *testing.T) {
	_, ts := newTestServer(t)
	a := createTestTask(t, ts.URL, "ref source")

	resp, err := http.Post(ts.URL+"/api/tasks/"+a.ID+"/refs", "application/json", strings.NewReader(`{"taskId":"missing","type":"related"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTaskRefTargetHandlerRemovesRef(t *testing.T) {
	_, ts := newTestServer(t)
	a := createTestTask(t, ts.URL, "ref source")
	b := createTestTask(t, ts.URL, "ref target")

	body := fmt.Sprintf(`{"taskId":%q,"type":"related"}`, b.ID)
	addResp, err := http.Post(ts.URL+"/api/tasks/"+a.ID+"/refs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("add ref: %v", err)
	}
	addResp.Body.Close()

	delReq, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/tasks/"+a.ID+"/refs/"+b.ID, nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	delResp, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatalf("delete ref: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", delResp.StatusCode)
	}
}

func TestSearchTasksMatchesTitleDescriptionAndTag(t *testing.T) {
	_, ts := newTestServer(t)
	createTestTask(t, ts.URL, "fix login bug")
	createTestTask(t, ts.URL, "unrelated task")

	resp, err := http.Get(ts.URL + "/api/tasks/search?q=login")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var matches []model.Task
	if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(matches) != 1 || matches[0].Title != "fix login bug" {
		t.Fatalf("unexpected search matches: %v", matches)
	}
}

func TestSearchTasksRespectsColumnFilter(t *testing.T) {
	_, ts := newTestServer(t)
	createTestTask(t, ts.URL, "backlog task")

	resp, err := http.Get(ts.URL + "/api/tasks/search?column=done")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var matches []model.Task
	if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches in done column, got %v", matches)
	}
}

func TestSearchTasksLimitFallsBackOnNonNumeric(t *testing.T) {
	_, ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		createTestTask(t, ts.URL, fmt.Sprintf("task %d", i))
	}
	resp, err := http.Get(ts.URL + "/api/tasks/search?limit=notanumber")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var matches []model.Task
	if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected all 3 tasks within default limit, got %d", len(matches))
	}
}
