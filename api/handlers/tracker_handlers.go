package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"resetwatch/core/store"
	"resetwatch/core/tracker"
	"resetwatch/core/utils"
)

// TrackerService is the part of *tracker.Engine the HTTP layer drives.
type TrackerService interface {
	StartWithContext(ctx context.Context)
	StopWithContext(ctx context.Context) error
	Running() bool
	State() tracker.State
	RunIndexing(ctx context.Context) (tracker.IndexResult, error)
	DiscoverNew(ctx context.Context) (tracker.DiscoverResult, error)
	RunCleanup(ctx context.Context) (int64, error)
	CheckOne(ctx context.Context, entityID int64) tracker.CheckResult
	GetStats(ctx context.Context) tracker.Stats
	GetResetReport(ctx context.Context, groupID *int64) tracker.ResetReport
	ListEntities(ctx context.Context, groupID *int64) ([]store.Entity, error)
	History(ctx context.Context, entityID int64, limit int) ([]store.StatusSnapshot, error)
	Queue(ctx context.Context, limit int) ([]store.QueueEntry, error)
}

var _ TrackerService = (*tracker.Engine)(nil)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	defaultQueueLimit   = 100
	maxQueueLimit       = 1000
)

type TrackerHandler struct {
	engine  TrackerService
	reports *cache.Cache
	logger  *utils.Logger

	// bg scopes async work started by requests; it outlives the request.
	bg context.Context
	wg sync.WaitGroup
}

func NewTrackerHandler(bg context.Context, engine TrackerService, reportTTL time.Duration, logger *utils.Logger) *TrackerHandler {
	if bg == nil {
		bg = context.Background()
	}
	if reportTTL <= 0 {
		reportTTL = time.Minute
	}
	return &TrackerHandler{
		engine:  engine,
		reports: cache.New(reportTTL, 2*reportTTL),
		logger:  logger,
		bg:      bg,
	}
}

// Wait blocks until async work started by requests has returned.
func (h *TrackerHandler) Wait() {
	h.wg.Wait()
}

func (h *TrackerHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetStats(r.Context()))
}

func (h *TrackerHandler) Report(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseOptionalID(r.URL.Query().Get("group"))
	if err != nil {
		http.Error(w, errBadRequest, http.StatusBadRequest)
		return
	}
	key := "all"
	if groupID != nil {
		key = fmt.Sprintf("group:%d", *groupID)
	}
	if cached, ok := h.reports.Get(key); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}
	report := h.engine.GetResetReport(r.Context(), groupID)
	h.reports.SetDefault(key, report)
	writeJSON(w, http.StatusOK, report)
}

func (h *TrackerHandler) Entities(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseOptionalID(r.URL.Query().Get("group"))
	if err != nil {
		http.Error(w, errBadRequest, http.StatusBadRequest)
		return
	}
	items, err := h.engine.ListEntities(r.Context(), groupID)
	if err != nil {
		h.logger.Errorf("list entities: %v", err)
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []store.Entity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *TrackerHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(pathParams(r)["id"])
	if err != nil {
		http.Error(w, errBadRequest, http.StatusBadRequest)
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), defaultHistoryLimit, maxHistoryLimit)
	items, err := h.engine.History(r.Context(), id, limit)
	if err != nil {
		h.logger.Errorf("history %d: %v", id, err)
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []store.StatusSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity_id": id, "items": items})
}

func (h *TrackerHandler) Queue(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), defaultQueueLimit, maxQueueLimit)
	items, err := h.engine.Queue(r.Context(), limit)
	if err != nil {
		h.logger.Errorf("list queue: %v", err)
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []store.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *TrackerHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.engine.StartWithContext(h.bg)
	writeJSON(w, http.StatusOK, map[string]any{"running": true, "state": h.engine.State()})
}

func (h *TrackerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StopWithContext(r.Context()); err != nil {
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": h.engine.Running(), "state": h.engine.State()})
}

// Index starts a full indexing pass in the background. Progress is reported
// through stats and the events stream.
func (h *TrackerHandler) Index(w http.ResponseWriter, r *http.Request) {
	if h.engine.State() == tracker.StateIndexing {
		http.Error(w, errBusy, http.StatusConflict)
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if _, err := h.engine.RunIndexing(h.bg); err != nil && !errors.Is(err, tracker.ErrBusy) {
			h.logger.Errorf("indexing from api: %v", err)
		}
		h.reports.Flush()
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *TrackerHandler) Discover(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.DiscoverNew(r.Context())
	if errors.Is(err, tracker.ErrBusy) {
		http.Error(w, errBusy, http.StatusConflict)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

func (h *TrackerHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.engine.RunCleanup(r.Context())
	if err != nil {
		h.logger.Errorf("cleanup from api: %v", err)
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (h *TrackerHandler) Check(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(pathParams(r)["id"])
	if err != nil {
		http.Error(w, errBadRequest, http.StatusBadRequest)
		return
	}
	res := h.engine.CheckOne(r.Context(), id)
	switch res.Code {
	case tracker.CheckOK:
		if res.ResetDetected {
			h.reports.Flush()
		}
		writeJSON(w, http.StatusOK, res)
	case tracker.CheckBusy:
		writeJSON(w, http.StatusConflict, res)
	case tracker.CheckNotFound:
		writeJSON(w, http.StatusNotFound, res)
	case tracker.CheckInvalid:
		writeJSON(w, http.StatusBadRequest, res)
	case tracker.CheckStoreFail:
		writeJSON(w, http.StatusInternalServerError, res)
	default:
		writeJSON(w, http.StatusBadGateway, res)
	}
}
