package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/RARPlayzDev/StudyVerse-sub000/internal/board"
	"github.com/RARPlayzDev/StudyVerse-sub000/internal/domain"
)

var (
	testNow   = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)
	testToday = domain.DateOf(testNow)
)

type fakeAuth struct{}

func (fakeAuth) UserIDFromAuthHeader(h string) (string, error) {
	if h != "Bearer good" {
		return "", errors.New("bad auth header")
	}
	return "user1", nil
}

type testServer struct {
	e        *echo.Echo
	store    *memStore
	sessions *board.Sessions
}

func newTestServer(t *testing.T, store *memStore, deduper Deduper) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	sessions := board.NewSessions(store, logger, board.Config{
		SweepInterval: time.Hour,
		WriteTimeout:  time.Second,
		Location:      time.UTC,
		Now:           func() time.Time { return testNow },
	}, time.Minute)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sessions.Close(ctx)
	})

	e := echo.New()
	e.JSONSerializer = SonicSerializer{}
	Register(e, Deps{
		Boards:         sessions,
		Auth:           fakeAuth{},
		Deduper:        deduper,
		Logger:         logger,
		RequestTimeout: time.Second,
	})
	return &testServer{e: e, store: store, sessions: sessions}
}

func (s *testServer) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer good")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) board(t *testing.T) boardResponse {
	t.Helper()
	rec := s.do(http.MethodGet, "/api/board", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get board: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp boardResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode board: %v", err)
	}
	return resp
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func seedTask(id string, status domain.Status, due domain.Date) domain.Task {
	return domain.Task{
		ID:        id,
		Title:     "task " + id,
		Subject:   "Physics",
		StartDate: due.AddDays(-3),
		DueDate:   due,
		Priority:  domain.PriorityHigh,
		Status:    status,
	}
}

func columnIDs(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestGetBoardClassifiesAndSweeps(t *testing.T) {
	store := newMemStore(
		seedTask("a", domain.StatusTodo, testToday.AddDays(2)),
		seedTask("b", domain.StatusInProgress, testToday.AddDays(-1)),
		seedTask("c", domain.StatusDone, testToday.AddDays(-5)),
	)
	srv := newTestServer(t, store, nil)

	resp := srv.board(t)
	if got := columnIDs(resp.Todo); len(got) != 1 || got[0] != "a" {
		t.Fatalf("unexpected todo column: %v", got)
	}
	if got := columnIDs(resp.Done); len(got) != 1 || got[0] != "c" {
		t.Fatalf("unexpected done column: %v", got)
	}

	eventually(t, func() bool {
		b, _ := store.task("b")
		return b.Status == domain.StatusOverdue
	}, "past due task swept to overdue")
	eventually(t, func() bool {
		return len(srv.board(t).Overdue) == 1
	}, "overdue column shows swept task")
}

func TestUnauthorizedRequestIsRejected(t *testing.T) {
	srv := newTestServer(t, newMemStore(), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/board", nil)
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if srv.sessions.Active() != 0 {
		t.Fatalf("expected no session for unauthenticated request")
	}
}

func TestCreateTaskAppliesDefaults(t *testing.T) {
	store := newMemStore()
	srv := newTestServer(t, store, nil)

	rec := srv.do(http.MethodPost, "/api/tasks", `{"title":" Essay ","subject":"English"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if created.ID == "" || created.Title != "Essay" {
		t.Fatalf("unexpected task: %+v", created)
	}
	if created.Status != domain.StatusTodo || created.Priority != domain.PriorityMedium {
		t.Fatalf("expected todo/medium defaults, got %s/%s", created.Status, created.Priority)
	}
	if created.StartDate != testToday || created.DueDate != testToday {
		t.Fatalf("expected dates to default to today, got %s..%s", created.StartDate, created.DueDate)
	}

	resp := srv.board(t)
	if got := columnIDs(resp.Todo); len(got) != 1 || got[0] != created.ID {
		t.Fatalf("created task missing from todo column: %v", got)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	srv := newTestServer(t, newMemStore(), nil)

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"empty title", `{"title":"  ","subject":"Math"}`, "title"},
		{"missing subject", `{"title":"Quiz"}`, "subject"},
		{"bad priority", `{"title":"Quiz","subject":"Math","priority":"urgent"}`, "priority"},
		{"due before start", `{"title":"Quiz","subject":"Math","startDate":"2024-03-12","dueDate":"2024-03-11"}`, "dueDate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := srv.do(http.MethodPost, "/api/tasks", tc.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if got := decodeError(t, rec).Field; got != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, got)
			}
		})
	}
}

func TestCreateTaskRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, newMemStore(), nil)
	for _, body := range []string{`{"title":`, `{"title":"a","subject":"b","status":"done"}`} {
		rec := srv.do(http.MethodPost, "/api/tasks", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestCreateTaskStoreFailureIsBadGateway(t *testing.T) {
	store := newMemStore()
	srv := newTestServer(t, store, nil)
	srv.board(t)
	store.fail(errors.New("table unavailable"))

	rec := srv.do(http.MethodPost, "/api/tasks", `{"title":"Quiz","subject":"Math"}`, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateTaskIdempotencyKeyReplaysResponse(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemStore()
	srv := newTestServer(t, store, NewRedisDeduper(client, time.Minute))
	header := map[string]string{idempotencyKeyHeader: "req-1"}

	first := srv.do(http.MethodPost, "/api/tasks", `{"title":"Quiz","subject":"Math"}`, header)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	second := srv.do(http.MethodPost, "/api/tasks", `{"title":"Quiz","subject":"Math"}`, header)
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed body differs: %s vs %s", first.Body.String(), second.Body.String())
	}
	if n := store.createCount(); n != 1 {
		t.Fatalf("expected a single store create, got %d", n)
	}
}

func TestMoveTaskToDoneStampsDoneAt(t *testing.T) {
	store := newMemStore(seedTask("a", domain.StatusInProgress, testToday.AddDays(1)))
	srv := newTestServer(t, store, nil)

	rec := srv.do(http.MethodPost, "/api/tasks/a/move", `{"status":"done"}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	got, _ := store.task("a")
	if got.Status != domain.StatusDone || got.DoneAt == nil || !got.DoneAt.Equal(testNow) {
		t.Fatalf("unexpected stored task: %+v", got)
	}
}

func TestMoveTaskErrors(t *testing.T) {
	store := newMemStore(seedTask("a", domain.StatusTodo, testToday.AddDays(1)))
	srv := newTestServer(t, store, nil)

	rec := srv.do(http.MethodPost, "/api/tasks/a/move", `{"status":"overdue"}`, nil)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Field != "status" {
		t.Fatalf("expected 400 on status, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = srv.do(http.MethodPost, "/api/tasks/missing/move", `{"status":"done"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestEditTaskUpdatesFields(t *testing.T) {
	store := newMemStore(seedTask("a", domain.StatusTodo, testToday.AddDays(1)))
	srv := newTestServer(t, store, nil)

	rec := srv.do(http.MethodPatch, "/api/tasks/a", `{"title":"Lab report","priority":"low"}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	got, _ := store.task("a")
	if got.Title != "Lab report" || got.Priority != domain.PriorityLow {
		t.Fatalf("unexpected stored task: %+v", got)
	}

	rec = srv.do(http.MethodPatch, "/api/tasks/a", `{"dueDate":"2024-01-01"}`, nil)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Field != "dueDate" {
		t.Fatalf("expected 400 on dueDate, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteTaskTwiceSucceeds(t *testing.T) {
	store := newMemStore(seedTask("a", domain.StatusTodo, testToday.AddDays(1)))
	srv := newTestServer(t, store, nil)

	for i := 0; i < 2; i++ {
		rec := srv.do(http.MethodDelete, "/api/tasks/a", "", nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("delete %d: expected 204, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}
	if _, ok := store.task("a"); ok {
		t.Fatalf("task still stored")
	}
	eventually(t, func() bool { return len(srv.board(t).Todo) == 0 }, "deleted task leaves the board")
}

func TestDragAcrossColumnsMovesTask(t *testing.T) {
	store := newMemStore(
		seedTask("a", domain.StatusTodo, testToday.AddDays(1)),
		seedTask("b", domain.StatusTodo, testToday.AddDays(2)),
	)
	srv := newTestServer(t, store, nil)

	body := `{"taskId":"b","source":{"column":"todo","index":1},"destination":{"column":"inprogress","index":0}}`
	rec := srv.do(http.MethodPost, "/api/board/drag", body, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	got, _ := store.task("b")
	if got.Status != domain.StatusInProgress {
		t.Fatalf("expected b in progress, got %s", got.Status)
	}
}

func TestDragWithinColumnReordersView(t *testing.T) {
	store := newMemStore(
		seedTask("a", domain.StatusTodo, testToday.AddDays(1)),
		seedTask("b", domain.StatusTodo, testToday.AddDays(2)),
	)
	srv := newTestServer(t, store, nil)

	body := `{"taskId":"b","source":{"column":"todo","index":1},"destination":{"column":"todo","index":0}}`
	rec := srv.do(http.MethodPost, "/api/board/drag", body, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := columnIDs(srv.board(t).Todo); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("unexpected todo order: %v", got)
	}

	rec = srv.do(http.MethodPost, "/api/board/drag", `{"taskId":"a","source":{"column":"todo","index":1},"destination":null}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("drop outside columns: expected 204, got %d", rec.Code)
	}
}

func TestStatusForMapsErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&domain.ValidationError{Field: "title", Reason: "empty"}, http.StatusBadRequest},
		{domain.NotFound("x"), http.StatusNotFound},
		{errDuplicateRequest, http.StatusConflict},
		{&domain.StoreError{Op: "update", TaskID: "x", Err: errors.New("boom")}, http.StatusBadGateway},
		{board.ErrClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, newMemStore(), nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
