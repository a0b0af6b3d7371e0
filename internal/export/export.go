// Package export copies session ledgers out of the process: feed snapshots
// to a bucket and, optionally, modifications into Notion.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
	"github.com/dvloznov/cashflow-assistant/internal/ledger"
)

// Ledgers lists sessions and hands out their ledgers. *session.Registry
// satisfies it.
type Ledgers interface {
	IDs() []string
	Ledger(sessionID string) ledger.Store
}

// Exporter writes each session's feed to <prefix>/<session>.json.
type Exporter struct {
	ledgers Ledgers
	store   ObjectStore
	bucket  string
	prefix  string
}

// NewExporter creates an Exporter.
func NewExporter(ledgers Ledgers, store ObjectStore, bucket, prefix string) *Exporter {
	return &Exporter{ledgers: ledgers, store: store, bucket: bucket, prefix: prefix}
}

// ObjectName returns where a session's feed is written.
func (e *Exporter) ObjectName(sessionID string) string {
	return path.Join(e.prefix, sessionID+".json")
}

// URI returns the gs:// location of a session's feed.
func (e *Exporter) URI(sessionID string) string {
	return "gs://" + e.bucket + "/" + e.ObjectName(sessionID)
}

// ExportSession writes one session's feed.
func (e *Exporter) ExportSession(ctx context.Context, sessionID string) error {
	feed, err := e.ledgers.Ledger(sessionID).Feed(ctx)
	if err != nil {
		return fmt.Errorf("ExportSession: feed %s: %w", sessionID, err)
	}
	data, err := json.MarshalIndent(feed, "", "  ")
	if err != nil {
		return fmt.Errorf("ExportSession: marshal %s: %w", sessionID, err)
	}
	if err := e.store.Put(ctx, e.bucket, e.ObjectName(sessionID), data); err != nil {
		return fmt.Errorf("ExportSession: %w", err)
	}
	return nil
}

// ExportAll writes every live session and returns how many succeeded along
// with the first error.
func (e *Exporter) ExportAll(ctx context.Context) (int, error) {
	var firstErr error
	n := 0
	for _, id := range e.ledgers.IDs() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := e.ExportSession(ctx, id); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n++
	}
	return n, firstErr
}

// Restore reads a previously exported feed and applies it to the session's
// ledger in one batch.
func (e *Exporter) Restore(ctx context.Context, sessionID string) (int, error) {
	data, err := e.store.Get(ctx, e.bucket, e.ObjectName(sessionID))
	if err != nil {
		return 0, fmt.Errorf("Restore: %w", err)
	}
	var feed domain.ModificationFeed
	if err := json.Unmarshal(data, &feed); err != nil {
		return 0, fmt.Errorf("Restore: decode %s: %w", sessionID, err)
	}
	if len(feed.Modifications) == 0 {
		return 0, nil
	}
	if err := e.ledgers.Ledger(sessionID).ApplyBatch(ctx, feed.Modifications); err != nil {
		return 0, fmt.Errorf("Restore: apply: %w", err)
	}
	return len(feed.Modifications), nil
}
