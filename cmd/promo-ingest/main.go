package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/go-faster/errors"

	"github.com/xenking/backoffice/internal/domain/promocode"
	"github.com/xenking/backoffice/internal/storage/mongostore"
)

func main() {
	var (
		pattern  string
		mongoURI string
		database string
		defaults promocode.Params
		workers  int
	)

	flag.StringVar(&pattern, "files", "data/promocodes*.gz", "glob of gzip files with one promo code per line")
	flag.StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGODB_URI env)")
	flag.StringVar(&database, "mongo-database", "backoffice", "MongoDB database name")
	flag.IntVar(&defaults.DiscountPercent, "discount", 10, "discount percent for lines that omit it")
	flag.IntVar(&defaults.TotalLimit, "total-limit", 1000, "total limit for lines that omit it")
	flag.IntVar(&defaults.PerUserLimit, "per-user-limit", 1, "per-user limit for lines that omit it")
	flag.IntVar(&workers, "workers", 8, "concurrent inserts per file")
	flag.Parse()

	if mongoURI == "" {
		mongoURI = os.Getenv("MONGODB_URI")
	}
	if mongoURI == "" {
		slog.Error("mongo URI is required: set --mongo-uri or MONGODB_URI")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, pattern, mongoURI, database, defaults, workers); err != nil {
		slog.Error("promo ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promo ingest completed successfully")
}

func run(ctx context.Context, pattern, mongoURI, database string, defaults promocode.Params, workers int) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrapf(err, "match %q", pattern)
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", pattern)
	}
	sort.Strings(files)

	slog.Info("connecting to database")

	store, err := mongostore.Connect(ctx, mongoURI, database)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer func() { _ = store.Close(context.WithoutCancel(ctx)) }()

	if err := store.EnsureIndexes(ctx); err != nil {
		return errors.Wrap(err, "ensure indexes")
	}

	// Ingest only creates codes, so the service never touches orders or
	// publishes events.
	codes := store.PromoCodes()
	imp := newImporter(promocode.NewService(codes, store.Orders(), nil), codes, defaults, workers)

	slog.Info("importing promo codes", slog.Int("files", len(files)))
	stats, err := imp.importFiles(ctx, files)
	if err != nil {
		return err
	}

	slog.Info("import finished",
		slog.Int64("created", stats.Created),
		slog.Int64("duplicates", stats.Duplicates),
		slog.Int64("invalid", stats.Invalid),
	)
	return nil
}
