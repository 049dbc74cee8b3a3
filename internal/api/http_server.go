package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"dispatchsync/internal/config"
	"dispatchsync/internal/models"
	"dispatchsync/internal/ordersync"

	"github.com/rs/zerolog"
)

// Syncer is the sync control surface served over HTTP.
type Syncer interface {
	FullSync(ctx context.Context, opts ordersync.FullSyncOptions) (models.SyncSummary, error)
	IncrementalSync(ctx context.Context) (models.SyncSummary, error)
	TagSync(ctx context.Context, opts ordersync.TagSyncOptions) (models.SyncSummary, error)
	Status(ctx context.Context, syncType string) (*models.SyncStatus, error)
	Reset(ctx context.Context, syncType string) error
}

// FailureLister reads recorded store failures.
type FailureLister interface {
	ListSyncFailures(ctx context.Context, syncType string, limit int) ([]models.SyncFailure, error)
}

// Pinger reports store health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

const defaultFailuresLimit = 50

// HTTPServer exposes sync triggers, progress and failures.
type HTTPServer struct {
	cfg      config.APIConfig
	syncer   Syncer
	failures FailureLister
	db       Pinger
	server   *http.Server
	auth     *HTTPAuth
	logger   zerolog.Logger

	// background runs live on baseCtx so a finished request does not cancel them
	baseCtx context.Context
	cancel  context.CancelFunc
	runs    sync.WaitGroup
}

func NewHTTPServer(cfg config.APIConfig, syncer Syncer, failures FailureLister, db Pinger, logger *zerolog.Logger) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "http").Logger()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &HTTPServer{
		cfg:      cfg,
		syncer:   syncer,
		failures: failures,
		db:       db,
		logger:   l,
		baseCtx:  baseCtx,
		cancel:   cancel,
	}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/readyz", srv.handleReadyz)
	mux.HandleFunc("/api/v1/sync/full", srv.handleFullSync)
	mux.HandleFunc("/api/v1/sync/incremental", srv.handleIncrementalSync)
	mux.HandleFunc("/api/v1/sync/tags", srv.handleTagSync)
	mux.HandleFunc("/api/v1/sync/status", srv.handleStatus)
	mux.HandleFunc("/api/v1/sync/reset", srv.handleReset)
	mux.HandleFunc("/api/v1/sync/failures", srv.handleFailures)

	handler := loggingMiddleware(l, srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels background syncs and waits for them.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleFullSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	from, to, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resumeFrom := 0
	if raw := q.Get("resume_from_batch"); raw != "" {
		resumeFrom, err = strconv.Atoi(raw)
		if err != nil || resumeFrom < 0 {
			writeError(w, http.StatusBadRequest, "resume_from_batch must be a non-negative integer")
			return
		}
	}
	opts := ordersync.FullSyncOptions{
		From:            from,
		To:              to,
		Force:           parseBool(q.Get("force")),
		Resume:          parseBool(q.Get("resume")),
		ResumeFromBatch: resumeFrom,
	}
	s.dispatch(w, r, models.SyncModeFull, func(ctx context.Context) (models.SyncSummary, error) {
		return s.syncer.FullSync(ctx, opts)
	})
}

func (s *HTTPServer) handleIncrementalSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.dispatch(w, r, models.SyncModeIncremental, s.syncer.IncrementalSync)
}

func (s *HTTPServer) handleTagSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	from, to, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := ordersync.TagSyncOptions{From: from, To: to, Force: parseBool(q.Get("force"))}
	s.dispatch(w, r, models.SyncModeTags, func(ctx context.Context) (models.SyncSummary, error) {
		return s.syncer.TagSync(ctx, opts)
	})
}

// dispatch runs fn inline when wait=true, otherwise in the background with 202.
func (s *HTTPServer) dispatch(w http.ResponseWriter, r *http.Request, mode models.SyncMode, fn func(context.Context) (models.SyncSummary, error)) {
	if parseBool(r.URL.Query().Get("wait")) {
		summary, err := fn(r.Context())
		if err != nil {
			writeSyncError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}

	syncType := models.SyncTypeOrders
	if mode == models.SyncModeTags {
		syncType = models.SyncTypeOrderTags
	}
	if !parseBool(r.URL.Query().Get("force")) {
		status, err := s.syncer.Status(r.Context(), syncType)
		if err != nil {
			writeSyncError(w, err)
			return
		}
		if leaseHeld(status, time.Now()) {
			writeError(w, http.StatusConflict, ordersync.ErrSyncInProgress.Error())
			return
		}
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		summary, err := fn(s.baseCtx)
		log := s.logger.With().Str("mode", string(mode)).Logger()
		if err != nil {
			log.Error().Err(err).Msg("Background sync failed")
			return
		}
		log.Info().
			Str("run_id", summary.RunID).
			Int("synced", summary.Synced).
			Int("failed", summary.Failed).
			Msg("Background sync finished")
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "mode": string(mode), "sync_type": syncType})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	syncType, err := parseSyncType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := s.syncer.Status(r.Context(), syncType)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	syncType, err := parseSyncType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.syncer.Reset(r.Context(), syncType); err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "sync_type": syncType})
}

func (s *HTTPServer) handleFailures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.failures == nil {
		writeError(w, http.StatusServiceUnavailable, "failures store not configured")
		return
	}

	q := r.URL.Query()
	syncType := ""
	if raw := q.Get("type"); raw != "" {
		var err error
		if syncType, err = parseSyncType(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	limit := defaultFailuresLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	failures, err := s.failures.ListSyncFailures(r.Context(), syncType, limit)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

func writeSyncError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ordersync.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, config.ErrConfig):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "sync cancelled")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func leaseHeld(status *models.SyncStatus, now time.Time) bool {
	if status == nil || status.Status != models.SyncStateInProgress {
		return false
	}
	return status.LeaseExpiresAt != nil && status.LeaseExpiresAt.After(now)
}

func parseSyncType(raw string) (string, error) {
	switch strings.TrimSpace(raw) {
	case "", models.SyncTypeOrders:
		return models.SyncTypeOrders, nil
	case models.SyncTypeOrderTags:
		return models.SyncTypeOrderTags, nil
	default:
		return "", fmt.Errorf("unknown sync type %q", raw)
	}
}

func parseRange(fromRaw, toRaw string) (*time.Time, *time.Time, error) {
	from, err := parseDate("from", fromRaw)
	if err != nil {
		return nil, nil, err
	}
	to, err := parseDate("to", toRaw)
	if err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && from.After(*to) {
		return nil, nil, fmt.Errorf("from must not be after to")
	}
	return from, to, nil
}

func parseDate(name, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s date, expected YYYY-MM-DD", name)
	}
	return &t, nil
}

func parseBool(raw string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && b
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
