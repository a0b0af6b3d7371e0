package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/cashflow-assistant/internal/export"
	"github.com/dvloznov/cashflow-assistant/internal/notionsync"
)

var (
	exportBucket string
	exportPrefix string
	notionDryRun bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the session ledger to Cloud Storage",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Load the session ledger back from Cloud Storage",
	Args:  cobra.NoArgs,
	RunE:  runRestore,
}

var syncNotionCmd = &cobra.Command{
	Use:   "sync-notion",
	Short: "Mirror the session ledger into the Notion modifications database",
	Args:  cobra.NoArgs,
	RunE:  runSyncNotion,
}

func init() {
	for _, c := range []*cobra.Command{exportCmd, restoreCmd} {
		c.Flags().StringVar(&exportBucket, "bucket", "", "GCS bucket (defaults to export.bucket)")
		c.Flags().StringVar(&exportPrefix, "prefix", "", "Object prefix (defaults to export.prefix)")
	}
	syncNotionCmd.Flags().BoolVar(&notionDryRun, "dry-run", false, "Preview changes without writing to Notion")
	rootCmd.AddCommand(exportCmd, restoreCmd, syncNotionCmd)
}

func newExporter(cmd *cobra.Command, ledgers export.Ledgers) (*export.Exporter, func() error, error) {
	bucket, prefix := cfg.Export.Bucket, cfg.Export.Prefix
	if exportBucket != "" {
		bucket = exportBucket
	}
	if exportPrefix != "" {
		prefix = exportPrefix
	}
	if bucket == "" {
		return nil, nil, fmt.Errorf("--bucket or GCS_BUCKET is required")
	}
	store, err := export.NewGCSStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return export.NewExporter(ledgers, store, bucket, prefix), store.Close, nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	a, err := build(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	exp, closeStore, err := newExporter(cmd, a.Sessions)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := exp.ExportSession(cmd.Context(), flagSession); err != nil {
		return err
	}
	fmt.Printf("Exported session %s to %s\n", flagSession, exp.URI(flagSession))
	return nil
}

func runRestore(cmd *cobra.Command, _ []string) error {
	a, err := build(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	exp, closeStore, err := newExporter(cmd, a.Sessions)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := exp.Restore(cmd.Context(), flagSession)
	if err != nil {
		return err
	}
	fmt.Printf("Restored %d modification(s) into session %s\n", n, flagSession)
	return nil
}

func runSyncNotion(cmd *cobra.Command, _ []string) error {
	if cfg.Notion.Token == "" || cfg.Notion.DatabaseID == "" {
		return fmt.Errorf("NOTION_TOKEN and NOTION_MODIFICATIONS_DB_ID are required")
	}

	a, err := build(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	mods, err := a.Sessions.Ledger(flagSession).List(cmd.Context())
	if err != nil {
		return err
	}

	syncer := notionsync.NewSyncer(notionsync.NewNotionClient(cfg.Notion.Token), cfg.Notion.DatabaseID, notionDryRun || cfg.Notion.DryRun)
	res, err := syncer.Sync(cmd.Context(), flagSession, mods)
	if err != nil {
		return err
	}

	prefix := ""
	if notionDryRun || cfg.Notion.DryRun {
		prefix = "[dry run] "
	}
	fmt.Printf("%sCreated %d, updated %d, archived %d, failed %d\n", prefix, res.Created, res.Updated, res.Archived, res.Failed)
	return nil
}
