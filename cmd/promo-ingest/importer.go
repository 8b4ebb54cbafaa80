package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/domain/promocode"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

// creator registers promo codes; promocode.Service satisfies it.
type creator interface {
	Create(ctx context.Context, p promocode.Params) (*promocode.PromoCode, error)
}

// exister confirms bloom filter hits against storage.
type exister interface {
	ExistsByCode(ctx context.Context, code string) (bool, error)
}

// Stats counts the outcome of every parsed line.
type Stats struct {
	Created    int64
	Duplicates int64
	Invalid    int64
}

// importer loads promo codes from gzip files. A bloom filter shared by all
// files remembers the codes seen during the run, so repeated codes cost one
// existence check instead of a create attempt.
type importer struct {
	codes    creator
	exists   exister
	defaults promocode.Params
	workers  int

	mu   sync.Mutex
	seen *bloom.BloomFilter

	created    atomic.Int64
	duplicates atomic.Int64
	invalid    atomic.Int64
}

func newImporter(codes creator, exists exister, defaults promocode.Params, workers int) *importer {
	defaults.IsActive = true
	return &importer{
		codes:    codes,
		exists:   exists,
		defaults: defaults,
		workers:  max(workers, 1),
		seen:     bloom.NewWithEstimates(bloomCapacity, bloomFPR),
	}
}

// importFiles streams every file concurrently.
func (imp *importer) importFiles(ctx context.Context, files []string) (Stats, error) {
	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			if err := imp.importFile(ctx, f); err != nil {
				return errors.Wrapf(err, "import file %d", i+1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return imp.stats(), err
	}
	return imp.stats(), nil
}

func (imp *importer) stats() Stats {
	return Stats{
		Created:    imp.created.Load(),
		Duplicates: imp.duplicates.Load(),
		Invalid:    imp.invalid.Load(),
	}
}

func (imp *importer) importFile(ctx context.Context, path string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(imp.workers)

	var count uint64
	err := streamGzFile(ctx, path, func(line string) {
		p, ok, err := parseLine(line, imp.defaults)
		if err != nil {
			imp.invalid.Add(1)
			slog.Debug("skipping invalid line", slog.String("file", path), slog.String("error", err.Error()))
			return
		}
		if !ok {
			return
		}
		count++
		if count%progressEvery == 0 {
			slog.Info("import progress", slog.String("file", path), slog.Uint64("codes", count))
		}
		g.Go(func() error { return imp.add(ctx, p) })
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return err
	}

	slog.Info("file complete", slog.String("file", path), slog.Uint64("total_codes", count))
	return nil
}

// markSeen records code and reports whether the filter may have seen it
// before.
func (imp *importer) markSeen(code string) bool {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.seen.TestOrAddString(code)
}

func (imp *importer) add(ctx context.Context, p promocode.Params) error {
	if imp.markSeen(p.Code) {
		exists, err := imp.exists.ExistsByCode(ctx, p.Code)
		if err != nil {
			return errors.Wrapf(err, "check %s", p.Code)
		}
		if exists {
			imp.duplicates.Add(1)
			return nil
		}
	}

	_, err := imp.codes.Create(ctx, p)
	switch {
	case err == nil:
		imp.created.Add(1)
	case errors.Is(err, errs.ErrConflict):
		imp.duplicates.Add(1)
	case errors.Is(err, errs.ErrValidation):
		imp.invalid.Add(1)
		slog.Debug("skipping invalid code", slog.String("code", p.Code), slog.String("error", err.Error()))
	default:
		return errors.Wrapf(err, "create %s", p.Code)
	}
	return nil
}

// parseLine reads "CODE[,PERCENT[,TOTAL_LIMIT[,PER_USER_LIMIT]]]". Omitted
// fields come from defaults. Blank lines and lines starting with '#' yield
// ok == false.
func parseLine(line string, defaults promocode.Params) (p promocode.Params, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return promocode.Params{}, false, nil
	}

	fields := strings.Split(line, ",")
	if len(fields) > 4 {
		return promocode.Params{}, false, errors.Errorf("line %q: too many fields", line)
	}

	p = defaults
	p.Code = promocode.NormalizeCode(fields[0])
	for i, dst := range []*int{&p.DiscountPercent, &p.TotalLimit, &p.PerUserLimit} {
		if i+1 >= len(fields) {
			break
		}
		v := strings.TrimSpace(fields[i+1])
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return promocode.Params{}, false, errors.Errorf("line %q: field %d is not an integer", line, i+2)
		}
		*dst = n
	}
	return p, true, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
