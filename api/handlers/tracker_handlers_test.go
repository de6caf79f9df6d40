package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"resetwatch/core/pnw"
	"resetwatch/core/store"
	"resetwatch/core/tracker"
	"resetwatch/core/utils"
)

type fakeTracker struct {
	mu          sync.Mutex
	running     bool
	state       tracker.State
	reportCalls int
	lastGroup   *int64
	check       tracker.CheckResult
	discoverErr error
	indexed     chan struct{}
}

func (f *fakeTracker) StartWithContext(context.Context) {
	f.mu.Lock()
	f.running, f.state = true, tracker.StateMonitoring
	f.mu.Unlock()
}

func (f *fakeTracker) StopWithContext(context.Context) error {
	f.mu.Lock()
	f.running, f.state = false, tracker.StateIdle
	f.mu.Unlock()
	return nil
}

func (f *fakeTracker) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeTracker) State() tracker.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == "" {
		return tracker.StateIdle
	}
	return f.state
}

func (f *fakeTracker) RunIndexing(context.Context) (tracker.IndexResult, error) {
	if f.indexed != nil {
		close(f.indexed)
	}
	return tracker.IndexResult{Success: true}, nil
}

func (f *fakeTracker) DiscoverNew(context.Context) (tracker.DiscoverResult, error) {
	if f.discoverErr != nil {
		return tracker.DiscoverResult{Error: f.discoverErr.Error()}, f.discoverErr
	}
	return tracker.DiscoverResult{Success: true, Admitted: 2}, nil
}

func (f *fakeTracker) RunCleanup(context.Context) (int64, error) { return 3, nil }

func (f *fakeTracker) CheckOne(_ context.Context, id int64) tracker.CheckResult {
	res := f.check
	res.EntityID = id
	return res
}

func (f *fakeTracker) GetStats(context.Context) tracker.Stats {
	return tracker.Stats{Running: f.Running(), State: f.State(), MonitoringCount: 7}
}

func (f *fakeTracker) GetResetReport(_ context.Context, groupID *int64) tracker.ResetReport {
	f.mu.Lock()
	f.reportCalls++
	f.lastGroup = groupID
	f.mu.Unlock()
	return tracker.ResetReport{GroupID: groupID, TotalDetections: 4}
}

func (f *fakeTracker) ListEntities(context.Context, *int64) ([]store.Entity, error) {
	return nil, nil
}

func (f *fakeTracker) History(_ context.Context, id int64, limit int) ([]store.StatusSnapshot, error) {
	if id == 500 {
		return nil, errors.New("db down")
	}
	return []store.StatusSnapshot{{EntityID: id}}, nil
}

func (f *fakeTracker) Queue(context.Context, int) ([]store.QueueEntry, error) {
	return []store.QueueEntry{{EntityID: 1, Reason: store.ReasonProtected}}, nil
}

func newTestHandler(f *fakeTracker) *TrackerHandler {
	return NewTrackerHandler(context.Background(), f, time.Minute, utils.NopLogger())
}

func TestReportIsCachedPerGroup(t *testing.T) {
	f := &fakeTracker{}
	h := newTestHandler(f)

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.Report(rr, httptest.NewRequest(http.MethodGet, "/api/tracker/report?group=9", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}
	rr := httptest.NewRecorder()
	h.Report(rr, httptest.NewRequest(http.MethodGet, "/api/tracker/report", nil))
	if f.reportCalls != 2 {
		t.Fatalf("expected one engine call per cache key, got %d", f.reportCalls)
	}
	var body tracker.ResetReport
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TotalDetections != 4 || body.GroupID != nil {
		t.Fatalf("unexpected report %+v", body)
	}
}

func TestReportRejectsBadGroup(t *testing.T) {
	h := newTestHandler(&fakeTracker{})
	rr := httptest.NewRecorder()
	h.Report(rr, httptest.NewRequest(http.MethodGet, "/api/tracker/report?group=abc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCheckMapsResultToStatus(t *testing.T) {
	cases := []struct {
		name   string
		result tracker.CheckResult
		want   int
	}{
		{"ok", tracker.CheckResult{Success: true, Code: tracker.CheckOK}, http.StatusOK},
		{"busy", tracker.CheckResult{Code: tracker.CheckBusy, Error: tracker.ErrBusy.Error()}, http.StatusConflict},
		{"not found", tracker.CheckResult{Code: tracker.CheckNotFound, Error: "nation 9: " + pnw.ErrEntityNotFound.Error()}, http.StatusNotFound},
		{"invalid", tracker.CheckResult{Code: tracker.CheckInvalid, Error: "invalid entity id"}, http.StatusBadRequest},
		{"store", tracker.CheckResult{Code: tracker.CheckStoreFail, Error: "append snapshot: disk full"}, http.StatusInternalServerError},
		{"upstream", tracker.CheckResult{Code: tracker.CheckUpstream, Error: "upstream error"}, http.StatusBadGateway},
		{"upstream text mentioning not found", tracker.CheckResult{Code: tracker.CheckUpstream, Error: "upstream error: route not found"}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(&fakeTracker{check: tc.result})
			rr := httptest.NewRecorder()
			h.Check(rr, httptest.NewRequest(http.MethodPost, "/api/tracker/entities/9/check", nil))
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestCheckRejectsBadID(t *testing.T) {
	h := newTestHandler(&fakeTracker{})
	rr := httptest.NewRecorder()
	h.Check(rr, httptest.NewRequest(http.MethodPost, "/api/tracker/entities/x/check", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHistoryErrorsAreHidden(t *testing.T) {
	h := newTestHandler(&fakeTracker{})
	rr := httptest.NewRecorder()
	h.History(rr, httptest.NewRequest(http.MethodGet, "/api/tracker/entities/500/history", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if got := rr.Body.String(); got != errServerError+"\n" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestEntitiesReturnsEmptyList(t *testing.T) {
	h := newTestHandler(&fakeTracker{})
	rr := httptest.NewRecorder()
	h.Entities(rr, httptest.NewRequest(http.MethodGet, "/api/tracker/entities", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Body.String(); got != "{\"items\":[]}\n" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestIndexRunsAsync(t *testing.T) {
	f := &fakeTracker{indexed: make(chan struct{})}
	h := newTestHandler(f)
	rr := httptest.NewRecorder()
	h.Index(rr, httptest.NewRequest(http.MethodPost, "/api/tracker/index", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	select {
	case <-f.indexed:
	case <-time.After(2 * time.Second):
		t.Fatalf("indexing was not started")
	}
	h.Wait()

	f.state = tracker.StateIndexing
	rr = httptest.NewRecorder()
	h.Index(rr, httptest.NewRequest(http.MethodPost, "/api/tracker/index", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while indexing, got %d", rr.Code)
	}
}

func TestDiscoverBusyAndUpstreamFailure(t *testing.T) {
	h := newTestHandler(&fakeTracker{discoverErr: tracker.ErrBusy})
	rr := httptest.NewRecorder()
	h.Discover(rr, httptest.NewRequest(http.MethodPost, "/api/tracker/discover", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}

	h = newTestHandler(&fakeTracker{discoverErr: pnw.ErrUpstream})
	rr = httptest.NewRecorder()
	h.Discover(rr, httptest.NewRequest(http.MethodPost, "/api/tracker/discover", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func TestStartStop(t *testing.T) {
	f := &fakeTracker{}
	h := newTestHandler(f)
	rr := httptest.NewRecorder()
	h.Start(rr, httptest.NewRequest(http.MethodPost, "/api/tracker/start", nil))
	if rr.Code != http.StatusOK || !f.Running() {
		t.Fatalf("start failed: %d running=%v", rr.Code, f.Running())
	}
	rr = httptest.NewRecorder()
	h.Stop(rr, httptest.NewRequest(http.MethodPost, "/api/tracker/stop", nil))
	if rr.Code != http.StatusOK || f.Running() {
		t.Fatalf("stop failed: %d running=%v", rr.Code, f.Running())
	}
}

func TestParseLimit(t *testing.T) {
	if got := parseLimit("", 10, 100); got != 10 {
		t.Fatalf("default: %d", got)
	}
	if got := parseLimit("5000", 10, 100); got != 100 {
		t.Fatalf("clamp: %d", got)
	}
	if got := parseLimit("-1", 10, 100); got != 10 {
		t.Fatalf("negative: %d", got)
	}
}
