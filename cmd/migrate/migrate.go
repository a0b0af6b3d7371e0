package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// Migration is one schema file.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Runner applies migrations to one dataset.
type Runner struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	appliedBy string
}

var filenamePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// ReadMigrations loads every NNNN_name.sql file under dir in fsys, in version
// order, with placeholders replaced. The checksum covers the file before
// substitution so the same migration matches across datasets.
func ReadMigrations(fsys fs.FS, dir, projectID, datasetID string) ([]Migration, []string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	var skipped []string
	seen := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := filenamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			skipped = append(skipped, e.Name())
			continue
		}
		version, _ := strconv.Atoi(m[1])
		if prev, ok := seen[version]; ok {
			return nil, nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, e.Name())
		}
		seen[version] = e.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     m[2],
			Filename: e.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, skipped, nil
}

// Pending returns the migrations not yet applied. A recorded migration whose
// checksum differs from the file is an error: applied files must not change.
func Pending(all []Migration, applied []AppliedMigration) ([]Migration, error) {
	done := make(map[int]AppliedMigration, len(applied))
	for _, a := range applied {
		done[a.Version] = a
	}

	var out []Migration
	for _, m := range all {
		a, ok := done[m.Version]
		if !ok {
			out = append(out, m)
			continue
		}
		if a.Checksum != "" && a.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration %04d_%s changed after it was applied", m.Version, m.Name)
		}
	}
	return out, nil
}

func (r *Runner) table(name string) string {
	return "`" + r.projectID + "." + r.datasetID + "." + name + "`"
}

// EnsureSchemaMigrationsTable creates the bookkeeping table.
func (r *Runner) EnsureSchemaMigrationsTable(ctx context.Context) error {
	return r.exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+r.table("schema_migrations")+` (
			version    INT64 NOT NULL,
			name       STRING NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum   STRING,
			applied_by STRING
		)
	`, nil)
}

// Applied lists recorded migrations. A missing table means none.
func (r *Runner) Applied(ctx context.Context) ([]AppliedMigration, error) {
	q := r.client.Query(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + r.table("schema_migrations") + `
		ORDER BY version ASC
	`)
	it, err := q.Read(ctx)
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// Apply runs one migration and records it.
func (r *Runner) Apply(ctx context.Context, m Migration) error {
	if err := r.exec(ctx, m.SQL, nil); err != nil {
		return fmt.Errorf("executing: %w", err)
	}
	err := r.exec(ctx, `
		INSERT INTO `+r.table("schema_migrations")+`
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: r.appliedBy},
	})
	if err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	return nil
}

func (r *Runner) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := r.client.Query(sql)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
