// Command order-export dumps the closed orders of a business day to
// gzip-compressed JSONL files, one file per site, for downstream reporting
// pipelines.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/tallyhq/pos-core/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		sites       string
		date        string
		outDir      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&sites, "sites", "", "comma-separated site ids to export")
	flag.StringVar(&date, "date", "", "business date to export (YYYY-MM-DD, default yesterday)")
	flag.StringVar(&outDir, "out-dir", "export", "directory for the exported files")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if sites == "" {
		slog.Error("at least one site id is required: set --sites")
		os.Exit(1)
	}
	if date == "" {
		date = time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, strings.Split(sites, ","), date, outDir); err != nil {
		slog.Error("order export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("order export completed successfully")
}

func run(ctx context.Context, databaseURL string, sites []string, date, outDir string) error {
	dayStart, err := time.Parse("2006-01-02", date)
	if err != nil {
		return errors.Wrapf(err, "parse date %q", date)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", outDir)
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	store := postgres.NewOrderStore(pool)

	slog.Info("exporting closed orders",
		slog.String("date", date),
		slog.Int("sites", len(sites)),
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, site := range sites {
		site := strings.TrimSpace(site)
		if site == "" {
			continue
		}
		g.Go(exportSite(ctx, store, site, date, dayStart, outDir))
	}

	return g.Wait()
}

// exportSite writes one gzip-compressed JSONL file with the site's closed
// orders for the day.
func exportSite(ctx context.Context, store *postgres.OrderStore, site, date string, dayStart time.Time, outDir string) func() error {
	return func() error {
		orders, err := store.ListClosedByDate(ctx, site, dayStart)
		if err != nil {
			return errors.Wrapf(err, "list closed orders for site %s", site)
		}

		path := filepath.Join(outDir, fmt.Sprintf("orders-%s-%s.jsonl.gz", site, date))
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "create %s", path)
		}
		defer func() { _ = f.Close() }()

		gz := pgzip.NewWriter(f)
		enc := json.NewEncoder(gz)
		for _, o := range orders {
			if err := enc.Encode(o); err != nil {
				return errors.Wrapf(err, "encode order %s", o.ID)
			}
		}
		if err := gz.Close(); err != nil {
			return errors.Wrapf(err, "flush %s", path)
		}
		if err := f.Close(); err != nil {
			return errors.Wrapf(err, "close %s", path)
		}

		slog.Info("site export complete",
			slog.String("site", site),
			slog.Int("orders", len(orders)),
			slog.String("file", path),
		)
		return nil
	}
}
