package main

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"

	"github.com/dvloznov/cashflow-assistant/migrations"
)

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_second.sql":         {Data: []byte("SELECT 2")},
		"m/0001_first.sql":          {Data: []byte("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.t` (x INT64)")},
		"m/001_invalid.sql":         {Data: []byte("x")},
		"m/0003_missing_suffix":     {Data: []byte("x")},
		"m/invalid_0004_wrong.sql":  {Data: []byte("x")},
		"m/nested/0005_ignored.sql": {Data: []byte("x")},
	}

	got, skipped, err := ReadMigrations(fsys, "m", "proj", "ds")
	if err != nil {
		t.Fatalf("ReadMigrations: %v", err)
	}

	var names []string
	for _, m := range got {
		names = append(names, m.Filename)
	}
	if diff := cmp.Diff([]string{"0001_first.sql", "0002_second.sql"}, names); diff != "" {
		t.Errorf("migrations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"0003_missing_suffix", "001_invalid.sql", "invalid_0004_wrong.sql"}, skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(got[0].SQL, "`proj.ds.t`") {
		t.Errorf("placeholders not replaced: %s", got[0].SQL)
	}

	// Checksums ignore the target dataset.
	again, _, _ := ReadMigrations(fsys, "m", "other", "elsewhere")
	if again[0].Checksum != got[0].Checksum {
		t.Error("checksum should not depend on project or dataset")
	}
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0001_a.sql": {Data: []byte("x")},
		"m/0001_b.sql": {Data: []byte("y")},
	}
	if _, _, err := ReadMigrations(fsys, "m", "p", "d"); err == nil {
		t.Error("expected duplicate version error")
	}
}

func TestPending(t *testing.T) {
	all := []Migration{
		{Version: 1, Name: "a", Checksum: "c1"},
		{Version: 2, Name: "b", Checksum: "c2"},
		{Version: 3, Name: "c", Checksum: "c3"},
	}

	tests := []struct {
		name    string
		applied []AppliedMigration
		want    []int
		wantErr bool
	}{
		{name: "fresh dataset", want: []int{1, 2, 3}},
		{name: "partially applied", applied: []AppliedMigration{{Version: 1, Checksum: "c1"}}, want: []int{2, 3}},
		{name: "legacy row without checksum", applied: []AppliedMigration{{Version: 1}, {Version: 2}, {Version: 3}}},
		{name: "edited after apply", applied: []AppliedMigration{{Version: 2, Checksum: "old"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pending(all, tt.applied)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			var versions []int
			for _, m := range got {
				versions = append(versions, m.Version)
			}
			if diff := cmp.Diff(tt.want, versions); diff != "" {
				t.Errorf("pending mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	got, skipped, err := ReadMigrations(migrations.BigQuery, "bigquery", "p", "d")
	if err != nil {
		t.Fatal(err)
	}
	if len(skipped) != 0 || len(got) != 3 {
		t.Fatalf("got %d migrations, skipped %v", len(got), skipped)
	}
	for i, m := range got {
		if m.Version != i+1 {
			t.Errorf("migration %d has version %d", i, m.Version)
		}
		if strings.Contains(m.SQL, "{{") {
			t.Errorf("%s still has placeholders", m.Filename)
		}
	}
}
