package main

import (
	"context"
	"flag"
	"io/fs"
	"os"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/cashflow-assistant/internal/logger"
	"github.com/dvloznov/cashflow-assistant/migrations"
)

func main() {
	var (
		projectID = flag.String("project", os.Getenv("GCP_PROJECT"), "GCP project ID (or set GCP_PROJECT env)")
		datasetID = flag.String("dataset", "finance", "BigQuery dataset ID")
		appliedBy = flag.String("applied-by", "migrate-cli", "Name recorded in schema_migrations")
		dir       = flag.String("migrations", "", "Read migrations from this directory instead of the embedded set")
		dryRun    = flag.Bool("dry-run", false, "List pending migrations without applying them")
	)
	flag.Parse()

	log := logger.New(logger.Options{Level: os.Getenv("LOG_LEVEL")})

	if *projectID == "" {
		log.Fatal().Msg("-project or GCP_PROJECT is required")
	}

	var fsys fs.FS = migrations.BigQuery
	root := "bigquery"
	if *dir != "" {
		fsys, root = os.DirFS(*dir), "."
	}

	all, skipped, err := ReadMigrations(fsys, root, *projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	for _, name := range skipped {
		log.Warn().Str("file", name).Msg("Skipping file with invalid name")
	}

	ctx := context.Background()
	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	r := &Runner{client: client, projectID: *projectID, datasetID: *datasetID, appliedBy: *appliedBy}
	log = log.With().Str("project", *projectID).Str("dataset", *datasetID).Logger()

	if err := r.EnsureSchemaMigrationsTable(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema_migrations table")
	}
	applied, err := r.Applied(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read applied migrations")
	}
	pending, err := Pending(all, applied)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration history does not match files")
	}

	log.Info().Int("found", len(all)).Int("applied", len(applied)).Int("pending", len(pending)).Msg("Migration status")

	for _, m := range pending {
		mlog := logger.WithFields(log, map[string]interface{}{"version": m.Version, "name": m.Name})
		if *dryRun {
			mlog.Info().Msg("Would apply")
			continue
		}
		if err := r.Apply(ctx, m); err != nil {
			mlog.Fatal().Err(err).Msg("Migration failed")
		}
		mlog.Info().Msg("Applied")
	}

	if len(pending) == 0 {
		log.Info().Msg("No new migrations to apply. Dataset is up to date.")
	}
}
