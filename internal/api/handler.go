package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/ordersync/ordersync/ledger"
)

// LedgerSource is the read-only view the status endpoint renders from.
type LedgerSource interface {
	State() ledger.State
}

// Handler serves the JSON status endpoint and the SSE event stream.
type Handler struct {
	streams *StreamController
	ledger  LedgerSource
	logger  *slog.Logger
}

type HandlerOption func(*Handler)

func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(streams *StreamController, source LedgerSource, opts ...HandlerOption) http.Handler {
	h := &Handler{
		streams: streams,
		ledger:  source,
		logger:  slog.Default().WithGroup("api"),
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", h.handleStatus)
	mux.HandleFunc("GET /api/v1/stream", h.handleStream)

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}).Handler(mux)
}

type statusResponse struct {
	Places        int            `json:"places"`
	Cancels       int            `json:"cancels"`
	CancelAlls    int            `json:"cancelAlls"`
	Uncommitted   int            `json:"uncommitted"`
	LatestOrderID string         `json:"latestOrderId,omitempty"`
	PlacesByState map[string]int `json:"placesByState"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := h.ledger.State()

	byState := map[string]int{}
	for _, place := range state.Places {
		byState[place.Status.String()]++
	}

	resp := statusResponse{
		Places:        len(state.Places),
		Cancels:       len(state.Cancels),
		CancelAlls:    len(state.CancelAlls),
		Uncommitted:   len(state.Uncommitted),
		PlacesByState: byState,
	}
	if state.LatestOrder != nil {
		resp.LatestOrderID = state.LatestOrder.ID
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("encode status response", slog.String("error", err.Error()))
	}
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, err := h.streams.Subscribe(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			h.logger.Warn("encode stream event", slog.String("error", err.Error()))
			continue
		}
		if _, err := w.Write([]byte("event: " + string(evt.Type) + "\ndata: ")); err != nil {
			return
		}
		if _, err := w.Write(payload); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

func filterFromQuery(r *http.Request) (StreamFilter, error) {
	var filter StreamFilter
	query := r.URL.Query()

	if market := query.Get("market"); market != "" {
		filter.MarketID = &market
	}
	if eventType := query.Get("type"); eventType != "" {
		t := EventType(eventType)
		filter.Type = &t
	}
	if from := query.Get("from"); from != "" {
		ts, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, err
		}
		filter.ObservedFrom = &ts
	}
	return filter, nil
}
