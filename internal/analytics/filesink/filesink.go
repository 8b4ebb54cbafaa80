// Package filesink writes analytics rows as gzip-compressed NDJSON, one file
// per table per process run. It stands in for the warehouse in local runs.
package filesink

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/backoffice/internal/analytics"
)

var _ analytics.Sink = (*Sink)(nil)

type tableFile struct {
	f  *os.File
	gz *pgzip.Writer
}

// Sink appends rows to <dir>/<table>-<run>.ndjson.gz.
type Sink struct {
	dir string
	run string

	mu     sync.Mutex
	files  map[string]*tableFile
	closed bool
}

// New creates dir if needed and returns a Sink writing into it.
func New(dir string, now time.Time) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create analytics dir")
	}
	return &Sink{
		dir:   dir,
		run:   now.UTC().Format("20060102T150405Z"),
		files: make(map[string]*tableFile),
	}, nil
}

// Path returns the file rows of table are written to.
func (s *Sink) Path(table string) string {
	return filepath.Join(s.dir, table+"-"+s.run+".ndjson.gz")
}

// Insert appends row as one JSON line. Redeliveries are not deduplicated;
// readers key on event_id.
func (s *Sink) Insert(_ context.Context, table string, row analytics.Row) error {
	var e jx.Encoder
	if err := encodeRow(&e, row); err != nil {
		return errors.Wrapf(err, "encode %s row", table)
	}
	line := append(e.Bytes(), '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("sink is closed")
	}
	tf, err := s.open(table)
	if err != nil {
		return err
	}
	if _, err := tf.gz.Write(line); err != nil {
		return errors.Wrapf(err, "write %s", table)
	}
	// Flush per row so a crash loses at most the current row.
	if err := tf.gz.Flush(); err != nil {
		return errors.Wrapf(err, "flush %s", table)
	}
	return nil
}

func (s *Sink) open(table string) (*tableFile, error) {
	if tf, ok := s.files[table]; ok {
		return tf, nil
	}
	f, err := os.OpenFile(s.Path(table), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", table)
	}
	tf := &tableFile{f: f, gz: pgzip.NewWriter(f)}
	s.files[table] = tf
	return tf, nil
}

// Close finishes the gzip streams and closes the files.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	var firstErr error
	for table, tf := range s.files {
		if err := tf.gz.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close gzip %s", table)
		}
		if err := tf.f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close %s", table)
		}
	}
	clear(s.files)
	return firstErr
}

func encodeRow(e *jx.Encoder, row analytics.Row) error {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	slices.Sort(cols)

	e.ObjStart()
	for _, c := range cols {
		e.FieldStart(c)
		switch v := row[c].(type) {
		case nil:
			e.Null()
		case string:
			e.Str(v)
		case decimal.Decimal:
			e.Str(v.String())
		case time.Time:
			e.Str(v.UTC().Format(time.RFC3339Nano))
		case int:
			e.Int(v)
		case int64:
			e.Int64(v)
		case bool:
			e.Bool(v)
		default:
			return errors.Errorf("column %q: unsupported value type %T", c, v)
		}
	}
	e.ObjEnd()
	return nil
}
