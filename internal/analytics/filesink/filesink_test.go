package filesink

import (
	"bufio"
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/backoffice/internal/analytics"
	"github.com/xenking/backoffice/internal/domain/event"
)

func readLines(t *testing.T, path string) []map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	var rows []map[string]string
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		row := map[string]string{}
		require.NoError(t, jx.DecodeBytes(sc.Bytes()).Obj(func(d *jx.Decoder, key string) error {
			if d.Next() == jx.Null {
				row[key] = "<null>"
				return d.Null()
			}
			v, err := d.Str()
			row[key] = v
			return err
		}))
		rows = append(rows, row)
	}
	require.NoError(t, sc.Err())
	return rows
}

func TestSink_WritesNDJSON(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	c := analytics.NewConsumer(s)
	ts := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"o-1", "o-2"} {
		require.NoError(t, c.Handle(context.Background(), event.NewOrderCreated(event.OrderCreated{
			OrderID:   id,
			UserID:    "u-1",
			Amount:    decimal.RequireFromString("12.50"),
			Timestamp: ts,
		})))
	}
	require.NoError(t, s.Close())

	path := s.Path(analytics.TableOrders)
	assert.Equal(t, "order_events-20240701T000000Z.ndjson.gz", path[len(dir)+1:])

	rows := readLines(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, "o-1", rows[0]["order_id"])
	assert.Equal(t, "12.5", rows[0]["amount"])
	assert.Equal(t, "<null>", rows[0]["discount_amount"])
	assert.Equal(t, "2024-07-01T12:00:00Z", rows[1]["occurred_at"])

	require.Error(t, s.Insert(context.Background(), analytics.TableOrders, analytics.Row{"a": "b"}), "closed sink")
}

func TestEncodeRow_UnsupportedType(t *testing.T) {
	var e jx.Encoder
	require.Error(t, encodeRow(&e, analytics.Row{"bad": struct{}{}}))
}
