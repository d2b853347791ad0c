package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"energy-recon/internal/export"
	"energy-recon/internal/ingest"
	"energy-recon/internal/observability/metrics"
	"energy-recon/internal/pipeline"
	"energy-recon/internal/storage/postgres"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := pipeline.LoadConfig()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	m := metrics.New()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
			logger.Printf("metrics server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths := cfg.SourcePaths()
	sourceIDs := make([]string, 0, len(paths))
	for id := range paths {
		sourceIDs = append(sourceIDs, id)
	}
	fetched := ingest.FetchAll(ctx, ingest.NewFileFetcher(paths), sourceIDs, cfg.FetchTimeout())

	runner, err := pipeline.NewRunner(cfg, logger, pipeline.WithMetrics(m))
	if err != nil {
		logger.Fatalf("runner: %v", err)
	}
	res, err := runner.Run(ctx, fetched)
	if err != nil {
		m.RunsTotal.WithLabelValues("error").Inc()
		logger.Fatalf("run: %v", err)
	}

	if err := export.WriteReports(cfg.OutputDir, res); err != nil {
		logger.Fatalf("reports: %v", err)
	}
	if err := writeInvoiceDocuments(cfg.OutputDir, res); err != nil {
		logger.Fatalf("invoice documents: %v", err)
	}

	if cfg.DatabaseURL != "" {
		if err := persist(ctx, cfg.DatabaseURL, res); err != nil {
			logger.Fatalf("persist: %v", err)
		}
	}

	logger.Printf("wrote reports to %s", cfg.OutputDir)
}

func writeInvoiceDocuments(outDir string, res pipeline.Result) error {
	if len(res.Invoices) == 0 {
		return nil
	}

	workbook, err := export.BuildInvoiceXLSX(res.Invoices)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, "invoices.xlsx"), workbook, 0o644); err != nil {
		return err
	}

	for _, rec := range res.Invoices {
		doc, err := export.BuildInvoicePDF(rec)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("%s.pdf", rec.ID())
		if err := os.WriteFile(filepath.Join(outDir, name), doc, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func persist(ctx context.Context, databaseURL string, res pipeline.Result) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	aggRepo, err := postgres.NewAggregateRepository(db)
	if err != nil {
		return err
	}
	if err := aggRepo.SaveAll(ctx, res.Aggregates); err != nil {
		return err
	}

	invRepo, err := postgres.NewInvoiceRepository(db)
	if err != nil {
		return err
	}
	return invRepo.SaveAll(ctx, res.Invoices)
}
