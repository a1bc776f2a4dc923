package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/example/calinst/internal/caltime"
	httperrors "github.com/example/calinst/internal/http/errors"
	"github.com/example/calinst/internal/recur"
	"github.com/example/calinst/internal/store"
)

// EventService is the slice of the scheduling service the API handlers
// depend on.
type EventService interface {
	CreateEvent(ctx context.Context, ev *store.Event, rule *recur.Rule) (int64, error)
	UpdateEvent(ctx context.Context, ev *store.Event, rule *recur.Rule) error
	DeleteEvent(ctx context.Context, id int64) error
	GetEvent(ctx context.Context, id int64) (*store.Event, *recur.Rule, error)
	ListEvents(ctx context.Context, recordType store.RecordType) ([]store.Event, error)
	Instances(ctx context.Context, eventID int64) ([]store.Instance, error)
	InstancesInRange(ctx context.Context, kind caltime.Kind, from, to caltime.Time) ([]store.Instance, error)
	DeleteOccurrence(ctx context.Context, eventID int64, start caltime.Time) error
	ClearInstances(ctx context.Context, eventID int64) error
	Regenerate(ctx context.Context, eventID int64) error
	CurrentVersion(ctx context.Context) (int64, error)
}

// Handler serves the JSON API.
type Handler struct {
	svc EventService
}

func NewHandler(svc EventService) *Handler {
	return &Handler{svc: svc}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps the domain sentinels onto HTTP statuses.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, recur.ErrInvalidParameter),
		errors.Is(err, caltime.ErrInvalidRange),
		errors.Is(err, caltime.ErrMalformed):
		httperrors.BadRequestError(w, r, err, err.Error())
	case errors.Is(err, store.ErrBusy):
		httperrors.LogError(r, "storage busy", err)
		w.Header().Set("Retry-After", "1")
		http.Error(w, "busy, retry later", http.StatusServiceUnavailable)
	case errors.Is(err, store.ErrNoSpace):
		httperrors.LogError(r, "storage full", err)
		http.Error(w, "insufficient storage", http.StatusInsufficientStorage)
	default:
		httperrors.InternalError(w, r, err, "request failed")
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.BadRequestError(w, r, err, "malformed JSON body")
		return
	}
	ev, rule, err := req.toEvent()
	if err != nil {
		httperrors.BadRequestError(w, r, err, err.Error())
		return
	}

	if _, err := h.svc.CreateEvent(r.Context(), ev, rule); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, responseFromEvent(ev, rule))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}
	ev, rule, err := h.svc.GetEvent(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responseFromEvent(ev, rule))
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	recordType := store.RecordEvent
	if r.URL.Query().Get("type") == "todo" {
		recordType = store.RecordTodo
	}
	events, err := h.svc.ListEvents(r.Context(), recordType)
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for i := range events {
		out = append(out, responseFromEvent(&events[i], nil))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.BadRequestError(w, r, err, "malformed JSON body")
		return
	}
	ev, rule, err := req.toEvent()
	if err != nil {
		httperrors.BadRequestError(w, r, err, err.Error())
		return
	}
	ev.ID = id

	if err := h.svc.UpdateEvent(r.Context(), ev, rule); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responseFromEvent(ev, rule))
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}
	if err := h.svc.DeleteEvent(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) EventInstances(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}
	rows, err := h.svc.Instances(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responseFromInstances(rows))
}

// queryTime reads an occurrence instant from the utime or local query
// parameter.
func queryTime(r *http.Request) (caltime.Time, error) {
	if v := r.URL.Query().Get("utime"); v != "" {
		epoch, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return caltime.Time{}, err
		}
		return caltime.FromEpoch(epoch), nil
	}
	return caltime.ParseCompact(r.URL.Query().Get("local"))
}

func (h *Handler) DeleteOccurrence(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}
	start, err := queryTime(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "utime or local query parameter required")
		return
	}
	if err := h.svc.DeleteOccurrence(r.Context(), id, start); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearInstances(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}
	if err := h.svc.ClearInstances(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Regenerate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}
	if err := h.svc.Regenerate(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	rows, err := h.svc.Instances(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responseFromInstances(rows))
}

func (h *Handler) InstancesInRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	kind := caltime.Absolute
	if q.Get("from") != "" && q.Get("from_utime") == "" {
		kind = caltime.Civil
	}

	var from, to caltime.Time
	var err error
	if kind == caltime.Absolute {
		var fromEpoch, toEpoch int64
		if fromEpoch, err = strconv.ParseInt(q.Get("from_utime"), 10, 64); err != nil {
			httperrors.BadRequestError(w, r, err, "from_utime or from query parameter required")
			return
		}
		if toEpoch, err = strconv.ParseInt(q.Get("to_utime"), 10, 64); err != nil {
			httperrors.BadRequestError(w, r, err, "to_utime query parameter required")
			return
		}
		from, to = caltime.FromEpoch(fromEpoch), caltime.FromEpoch(toEpoch)
	} else {
		if from, err = caltime.ParseCompact(q.Get("from")); err != nil {
			httperrors.BadRequestError(w, r, err, "from query parameter must be compact date-time")
			return
		}
		if to, err = caltime.ParseCompact(q.Get("to")); err != nil {
			httperrors.BadRequestError(w, r, err, "to query parameter must be compact date-time")
			return
		}
	}

	rows, err := h.svc.InstancesInRange(r.Context(), kind, from, to)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responseFromInstances(rows))
}

func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	ver, err := h.svc.CurrentVersion(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"version": ver})
}
