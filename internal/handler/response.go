package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/backoffice/internal/domain/auth"
	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/pagination"
)

const maxBodyBytes = 1 << 20

// badRequestError marks input that could not be parsed at all.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: errors.Errorf(format, args...).Error()}
}

// encoder is implemented by every response body.
type encoder interface {
	Encode(e *jx.Encoder)
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (r errorResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("code")
	e.Int(r.Code)
	e.FieldStart("message")
	e.Str(r.Message)
	e.ObjEnd()
}

func writeJSON(w http.ResponseWriter, status int, v encoder) {
	var e jx.Encoder
	v.Encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// list encodes as a JSON array, never null.
type list[T encoder] []T

func (l list[T]) Encode(e *jx.Encoder) {
	e.ArrStart()
	for _, v := range l {
		v.Encode(e)
	}
	e.ArrEnd()
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.Format(time.RFC3339Nano))
}

// optionalTime writes the field only when t is set.
func optionalTime(e *jx.Encoder, name string, t *time.Time) {
	if t == nil {
		return
	}
	e.FieldStart(name)
	encodeTime(e, *t)
}

func writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

// statusOf maps the domain error taxonomy onto HTTP statuses.
func statusOf(err error) int {
	var bad *badRequestError
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs and writes err. Internal details are hidden from 5xx
// responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()

	lg := zctx.From(r.Context())
	switch status {
	case http.StatusInternalServerError:
		lg.Error("Request failed", zap.Error(err))
		msg = "internal error"
	case http.StatusServiceUnavailable:
		lg.Warn("Dependency unavailable", zap.Error(err))
		msg = "service temporarily unavailable"
	default:
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeErrorStatus(w, status, msg)
}

// decodeJSON strictly decodes a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	d := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	d.DisallowUnknownFields()
	if err := d.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest("invalid request body: %s", err)
	}
	if d.More() {
		return badRequest("invalid request body: trailing data")
	}
	return nil
}

// pageParams reads page and limit. Missing values default to the first page
// of 20; limit is capped at pagination.MaxLimit.
func pageParams(r *http.Request) (pagination.Params, error) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), pagination.DefaultPage)
	if err != nil {
		return pagination.Params{}, badRequest("page: %s", err)
	}
	limit, err := intParam(q.Get("limit"), pagination.DefaultLimit)
	if err != nil {
		return pagination.Params{}, badRequest("limit: %s", err)
	}
	return pagination.NewParams(page, min(limit, pagination.MaxLimit))
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Errorf("%q is not an integer", v)
	}
	return n, nil
}

func boolParam(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, badRequest("%s: %q is not a boolean", name, v)
	}
	return &b, nil
}

type pageResponse[T encoder] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

func (p pageResponse[T]) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("items")
	list[T](p.Items).Encode(e)
	e.FieldStart("total")
	e.Int64(p.Total)
	e.FieldStart("page")
	e.Int(p.Page)
	e.FieldStart("limit")
	e.Int(p.Limit)
	e.FieldStart("total_pages")
	e.Int(p.TotalPages)
	e.ObjEnd()
}

func toPage[T any, U encoder](res pagination.Result[T], conv func(T) U) pageResponse[U] {
	out := pagination.Map(res, conv)
	return pageResponse[U]{
		Items:      out.Items,
		Total:      out.Total,
		Page:       out.Page,
		Limit:      out.Limit,
		TotalPages: out.TotalPages,
	}
}
