package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/backoffice/internal/domain/auth"
	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/domain/promocode"
	"github.com/xenking/backoffice/internal/domain/user"
	"github.com/xenking/backoffice/internal/storage/mongostore"
)

func main() {
	var (
		mongoURI     string
		database     string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGODB_URI env)")
	flag.StringVar(&database, "mongo-database", "backoffice", "MongoDB database name")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or BACKOFFICE_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or BACKOFFICE_API_KEY_PEPPER env)")
	flag.Parse()

	if mongoURI == "" {
		mongoURI = os.Getenv("MONGODB_URI")
	}
	if mongoURI == "" {
		slog.Error("mongo URI is required: set --mongo-uri or MONGODB_URI")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("BACKOFFICE_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or BACKOFFICE_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("BACKOFFICE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, mongoURI, database, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, mongoURI, database, apiKey, pepper string) error {
	slog.Info("connecting to database")

	store, err := mongostore.Connect(ctx, mongoURI, database)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer func() { _ = store.Close(context.WithoutCancel(ctx)) }()

	slog.Info("ensuring indexes")

	if err := store.EnsureIndexes(ctx); err != nil {
		return errors.Wrap(err, "ensure indexes")
	}

	if err := seedAPIKey(ctx, store.APIKeys(), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	if err := seedUsers(ctx, user.NewService(store.Users())); err != nil {
		return errors.Wrap(err, "seed users")
	}

	// Seeding only creates codes; nothing is applied or published.
	if err := seedPromoCodes(ctx, promocode.NewService(store.PromoCodes(), store.Orders(), nil)); err != nil {
		return errors.Wrap(err, "seed promo codes")
	}

	return nil
}

func seedAPIKey(ctx context.Context, keys auth.Repository, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	key := auth.NewHasher([]byte(pepper)).NewKey("Default admin key", apiKey, []string{"admin"}, time.Now().UTC())
	key.ID = "default"

	if err := keys.Upsert(ctx, key); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", key.ID), slog.String("name", key.Name))

	return nil
}

func seedUsers(ctx context.Context, users *user.Service) error {
	slog.Info("seeding sample users")

	for _, req := range []user.CreateRequest{
		{Email: "alice@example.com", Password: "alice-password", Name: "Alice Example", Phone: "+15550100"},
		{Email: "bob@example.com", Password: "bob-password", Name: "Bob Example"},
	} {
		u, err := users.Create(ctx, req)
		if errors.Is(err, errs.ErrConflict) {
			slog.Info("user already exists", slog.String("email", req.Email))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "create user %s", req.Email)
		}

		slog.Info("created user", slog.String("id", u.ID), slog.String("email", u.Email))
	}

	return nil
}

func seedPromoCodes(ctx context.Context, codes *promocode.Service) error {
	slog.Info("seeding promo codes")

	for _, p := range []promocode.Params{
		{Code: "SUMMER2024", DiscountPercent: 20, TotalLimit: 1000, PerUserLimit: 1, IsActive: true},
		{Code: "WELCOME10", DiscountPercent: 10, TotalLimit: 10000, PerUserLimit: 1, IsActive: true},
		{Code: "VIP50", DiscountPercent: 50, TotalLimit: 10, PerUserLimit: 2, IsActive: false},
	} {
		pc, err := codes.Create(ctx, p)
		if errors.Is(err, errs.ErrConflict) {
			slog.Info("promo code already exists", slog.String("code", p.Code))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "create promo code %s", p.Code)
		}

		slog.Info("created promo code", slog.String("code", pc.Code), slog.Int("discount_percent", pc.DiscountPercent))
	}

	return nil
}
