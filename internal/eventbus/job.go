package eventbus

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/backoffice/internal/domain/event"
)

// Job is one queued delivery of an event.
type Job struct {
	ID         string
	Name       string
	Attempts   int
	Envelope   event.Envelope
	EnqueuedAt time.Time
	FinishedAt time.Time
	LastError  string
}

// NewJob wraps e into a job named after its kind.
func NewJob(e event.Envelope, now time.Time) Job {
	return Job{
		ID:         e.ID,
		Name:       string(e.Kind),
		Envelope:   e,
		EnqueuedAt: now,
	}
}

// Marshal encodes the job with its envelope inline.
func (j Job) Marshal() ([]byte, error) {
	env, err := event.Marshal(j.Envelope)
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(j.ID)
	e.FieldStart("name")
	e.Str(j.Name)
	e.FieldStart("attempts")
	e.Int(j.Attempts)
	e.FieldStart("enqueued_at")
	e.Int64(j.EnqueuedAt.UnixMilli())
	if !j.FinishedAt.IsZero() {
		e.FieldStart("finished_at")
		e.Int64(j.FinishedAt.UnixMilli())
	}
	if j.LastError != "" {
		e.FieldStart("last_error")
		e.Str(j.LastError)
	}
	e.FieldStart("data")
	e.Raw(env)
	e.ObjEnd()
	return e.Bytes(), nil
}

// UnmarshalJob decodes a job produced by Marshal.
func UnmarshalJob(data []byte) (Job, error) {
	var (
		j   Job
		env jx.Raw
	)
	if err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			j.ID, err = d.Str()
		case "name":
			j.Name, err = d.Str()
		case "attempts":
			j.Attempts, err = d.Int()
		case "enqueued_at":
			var ms int64
			ms, err = d.Int64()
			j.EnqueuedAt = time.UnixMilli(ms).UTC()
		case "finished_at":
			var ms int64
			ms, err = d.Int64()
			j.FinishedAt = time.UnixMilli(ms).UTC()
		case "last_error":
			j.LastError, err = d.Str()
		case "data":
			env, err = d.Raw()
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "field %q", key)
	}); err != nil {
		return Job{}, errors.Wrap(err, "decode job")
	}

	e, err := event.Unmarshal(env)
	if err != nil {
		return Job{}, err
	}
	j.Envelope = e
	return j, nil
}
