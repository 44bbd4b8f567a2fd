package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/cloud-kitchen/internal/domain/auth"
	"github.com/xenking/cloud-kitchen/internal/domain/product"
	"github.com/xenking/cloud-kitchen/internal/handler"
	"github.com/xenking/cloud-kitchen/internal/storage/postgres"
)

type options struct {
	databaseURL  string
	productsFile string
	userID       string
	userEmail    string
	token        string
	pepper       string
	tokenTTL     time.Duration
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "db/seed/products.json", "path to products JSON file, optionally gzip-compressed (.gz)")
	flag.StringVar(&opts.userID, "user-id", "demo-user", "ID of the user to provision a session for")
	flag.StringVar(&opts.userEmail, "user-email", "demo@example.com", "email of the provisioned user")
	flag.StringVar(&opts.token, "token", "", "session bearer token to provision (or KITCHEN_SEED_TOKEN env)")
	flag.StringVar(&opts.pepper, "token-pepper", "", "HMAC pepper for token hashing (or KITCHEN_TOKEN_PEPPER env)")
	flag.DurationVar(&opts.tokenTTL, "token-ttl", 30*24*time.Hour, "lifetime of the provisioned session")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.token == "" {
		opts.token = os.Getenv("KITCHEN_SEED_TOKEN")
	}
	if opts.token == "" {
		slog.Error("session token is required: set --token or KITCHEN_SEED_TOKEN")
		os.Exit(1)
	}
	if opts.pepper == "" {
		opts.pepper = os.Getenv("KITCHEN_TOKEN_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products, err := readProducts(opts.productsFile)
	if err != nil {
		return errors.Wrap(err, "read products")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	if err := postgres.NewProductRepository(pool).Upsert(ctx, products); err != nil {
		return errors.Wrap(err, "upsert products")
	}

	slog.Info("provisioning session", slog.String("user_id", opts.userID))

	user := auth.User{ID: opts.userID, Email: opts.userEmail}
	hash := handler.HashToken([]byte(opts.pepper), opts.token)
	if err := postgres.NewSessionRepository(pool).Upsert(ctx, user, hash, time.Now().Add(opts.tokenTTL)); err != nil {
		return errors.Wrap(err, "upsert session")
	}

	return nil
}

func readProducts(path string) ([]product.Product, error) {
	slog.Info("reading products file", slog.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return decodeProducts(jx.Decode(r, 4096))
}

func decodeProducts(d *jx.Decoder) ([]product.Product, error) {
	var products []product.Product
	err := d.Arr(func(d *jx.Decoder) error {
		p := product.Product{Available: true}
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "description":
				p.Description, err = d.Str()
			case "category":
				p.Category, err = d.Str()
			case "image":
				p.ImageName, err = d.Str()
			case "available":
				p.Available, err = d.Bool()
			case "price":
				var n jx.Num
				if n, err = d.Num(); err == nil {
					p.Price, err = decimal.NewFromString(n.String())
				}
			default:
				err = d.Skip()
			}
			return errors.Wrap(err, key)
		}); err != nil {
			return err
		}
		if p.ID == "" || p.Name == "" {
			return errors.New("product requires id and name")
		}
		if p.Price.IsNegative() {
			return errors.Errorf("product %s: negative price", p.ID)
		}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return products, nil
}
