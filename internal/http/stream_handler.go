package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/example/session-booking/internal/application"
	"github.com/example/session-booking/internal/slot"
	"github.com/example/session-booking/internal/window"
)

// StreamOptions tunes StreamHandler. Zero values select the defaults.
type StreamOptions struct {
	Location     *time.Location
	RefetchDelay time.Duration
	Heartbeat    time.Duration
	Reconciler   application.ReconcilerOptions
}

type streamClient struct {
	userID    string
	view      *application.WeekView
	refresher *application.Refresher
	cancel    context.CancelFunc
}

// StreamHandler serves live week views as server-sent events. Each connection
// owns its own WeekView kept current by a Reconciler over the change feed.
type StreamHandler struct {
	feed      application.ChangeFeed
	loader    application.WeekLoader
	opts      StreamOptions
	now       func() time.Time
	responder responder
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[uint64]streamClient
	nextID  uint64
}

func NewStreamHandler(feed application.ChangeFeed, loader application.WeekLoader, opts StreamOptions, logger *slog.Logger) *StreamHandler {
	base := defaultLogger(logger)
	if opts.Location == nil {
		opts.Location = window.ReferenceLocation()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 25 * time.Second
	}
	return &StreamHandler{
		feed:      feed,
		loader:    loader,
		opts:      opts,
		now:       time.Now,
		responder: newResponder(base),
		logger:    base,
		clients:   make(map[uint64]streamClient),
	}
}

func (h *StreamHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "StreamHandler", operation, attrs...)
}

// Clients returns the number of open streams.
func (h *StreamHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ObserveLocal applies a mutation committed on behalf of the principal in ctx
// to that principal's open streams and schedules an authoritative refetch.
// Register it with SlotService.Observe.
func (h *StreamHandler) ObserveLocal(ctx context.Context, change application.SlotChange) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok || principal.UserID == "" {
		return
	}
	h.mu.Lock()
	targets := make([]streamClient, 0, 1)
	for _, c := range h.clients {
		if c.userID == principal.UserID {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.view.ApplyLocal(change)
		c.refresher.Schedule()
	}
}

// Shutdown ends every open stream. Register it with http.Server.RegisterOnShutdown
// since streams never go idle on their own.
func (h *StreamHandler) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.cancel()
	}
}

func (h *StreamHandler) register(c streamClient) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.clients[id] = c
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
	}
}

// Stream serves GET /slots/stream?week=YYYY-MM-DD.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.feed == nil || h.loader == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	weekOf, err := parseWeek(r.URL.Query().Get("week"), h.opts.Location, h.now)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	start, end := window.WeekBounds(weekOf, h.opts.Location)
	from, to := slot.DateOf(start, h.opts.Location), slot.DateOf(end, h.opts.Location)
	logger := h.log(r.Context(), "Stream", "week_start", from)

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.WarnContext(r.Context(), "failed to clear write deadline", "error", err)
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.ErrorContext(r.Context(), "stream aborted", "error", errStreamingUnsupported, "cause", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	view := application.NewWeekView(from, to)
	refresher := application.NewRefresher(ctx, view, h.loader, h.opts.RefetchDelay, h.logger)
	ropts := h.opts.Reconciler
	ropts.Refresh = refresher.Refresh
	reconciler := application.NewReconciler(h.feed, view, ropts, h.logger)

	updates := make(chan struct{}, 1)
	states := make(chan application.SubscriptionState, 8)
	defer view.Subscribe(func(application.ViewEvent) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})()
	defer reconciler.OnStateChange(func(state application.SubscriptionState) {
		select {
		case states <- state:
		default:
		}
	})()
	defer h.register(streamClient{userID: principal.UserID, view: view, refresher: refresher, cancel: cancel})()

	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		runErr = reconciler.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	logger.InfoContext(ctx, "stream opened")
	heartbeat := time.NewTicker(h.opts.Heartbeat)
	defer heartbeat.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "stream closed")
			return
		case <-updates:
			err = writeEvent(w, "snapshot", listSlotsResponse{Slots: toSlotDTOs(view.Snapshot())})
		case state := <-states:
			err = writeEvent(w, "state", streamStateEvent{State: string(state)})
		case <-done:
			if runErr != nil {
				logger.WarnContext(ctx, "stream lost its change feed", "error", runErr)
				_ = writeEvent(w, "error", errorResponse{ErrorCode: errorCode(runErr), Message: "live updates disconnected; reload to retry"})
				_ = rc.Flush()
			}
			return
		case <-heartbeat.C:
			_, err = fmt.Fprint(w, ": ping\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			logger.InfoContext(ctx, "stream write failed", "error", err)
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

type streamStateEvent struct {
	State string `json:"state"`
}
