package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/backoffice/internal/domain/event"
	"github.com/xenking/backoffice/internal/eventbus"
)

type statsResponse struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type jobResponse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Event      json.RawMessage `json:"event"`
}

func (s statsResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("waiting")
	e.Int64(s.Waiting)
	e.FieldStart("active")
	e.Int64(s.Active)
	e.FieldStart("delayed")
	e.Int64(s.Delayed)
	e.FieldStart("completed")
	e.Int64(s.Completed)
	e.FieldStart("failed")
	e.Int64(s.Failed)
	e.ObjEnd()
}

func (j jobResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(j.ID)
	e.FieldStart("name")
	e.Str(j.Name)
	e.FieldStart("attempts")
	e.Int(j.Attempts)
	e.FieldStart("enqueued_at")
	encodeTime(e, j.EnqueuedAt)
	optionalTime(e, "finished_at", j.FinishedAt)
	if j.LastError != "" {
		e.FieldStart("last_error")
		e.Str(j.LastError)
	}
	e.FieldStart("event")
	e.Raw(j.Event)
	e.ObjEnd()
}

func toJobResponse(j eventbus.Job) (jobResponse, error) {
	data, err := event.Marshal(j.Envelope)
	if err != nil {
		return jobResponse{}, errors.Wrapf(err, "encode job %s", j.ID)
	}
	resp := jobResponse{
		ID:         j.ID,
		Name:       j.Name,
		Attempts:   j.Attempts,
		EnqueuedAt: j.EnqueuedAt,
		LastError:  j.LastError,
		Event:      data,
	}
	if !j.FinishedAt.IsZero() {
		resp.FinishedAt = &j.FinishedAt
	}
	return resp, nil
}

var errNoInspector = errors.New("event queue inspection is not available")

// EventStats handles GET /api/events/stats.
func (h *Handler) EventStats(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeErrorStatus(w, http.StatusNotImplemented, errNoInspector.Error())
		return
	}
	s, err := h.events.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse(s))
}

// FailedEvents handles GET /api/events/failed?limit, newest first.
func (h *Handler) FailedEvents(w http.ResponseWriter, r *http.Request) {
	h.listJobs(w, r, func(i eventbus.Inspector) jobLister { return i.Failed })
}

// CompletedEvents handles GET /api/events/completed?limit, newest first.
func (h *Handler) CompletedEvents(w http.ResponseWriter, r *http.Request) {
	h.listJobs(w, r, func(i eventbus.Inspector) jobLister { return i.Completed })
}

type jobLister func(ctx context.Context, limit int) ([]eventbus.Job, error)

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request, pick func(eventbus.Inspector) jobLister) {
	if h.events == nil {
		writeErrorStatus(w, http.StatusNotImplemented, errNoInspector.Error())
		return
	}
	page, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jobs, err := pick(h.events)(r.Context(), page.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make(list[jobResponse], 0, len(jobs))
	for _, j := range jobs {
		resp, err := toJobResponse(j)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}
