// Package notionsync mirrors session ledgers into a Notion database, one page
// per modification keyed by its Modification ID.
package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
	"github.com/dvloznov/cashflow-assistant/internal/logger"
)

// Result counts what a sync did, or would do in dry-run mode.
type Result struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}

// Syncer writes ledgers to one database.
type Syncer struct {
	client     NotionService
	databaseID string
	dryRun     bool
}

// NewSyncer creates a Syncer. With dryRun set nothing is written.
func NewSyncer(client NotionService, databaseID string, dryRun bool) *Syncer {
	return &Syncer{client: client, databaseID: databaseID, dryRun: dryRun}
}

// SyncSession implements export.Syncer.
func (s *Syncer) SyncSession(ctx context.Context, sessionID string, mods []domain.CalendarModification) error {
	res, err := s.Sync(ctx, sessionID, mods)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("SyncSession: %d page operations failed", res.Failed)
	}
	return nil
}

// Sync makes the session's pages match mods: existing pages are updated,
// missing ones created and pages for superseded or cleared modifications
// archived. Individual page failures are counted, not returned.
func (s *Syncer) Sync(ctx context.Context, sessionID string, mods []domain.CalendarModification) (Result, error) {
	log := logger.FromContext(ctx).With().Str("session_id", sessionID).Bool("dry_run", s.dryRun).Logger()

	pages, err := queryAllPages(ctx, s.client, s.databaseID)
	if err != nil {
		return Result{}, fmt.Errorf("Sync: %w", err)
	}

	existing := make(map[string]string)
	for _, page := range pages {
		if pageSession(page) != sessionID {
			continue
		}
		existing[pageModificationID(page)] = string(page.ID)
	}

	var res Result
	active := make(map[string]bool, len(mods))
	for _, m := range mods {
		active[m.ModificationID] = true
		props := ModificationToProperties(sessionID, m)

		pageID, ok := existing[m.ModificationID]
		switch {
		case s.dryRun && ok:
			log.Info().Str("modification_id", m.ModificationID).Msg("[DRY RUN] Would update Notion page")
			res.Updated++
		case s.dryRun:
			log.Info().Str("modification_id", m.ModificationID).Msg("[DRY RUN] Would create Notion page")
			res.Created++
		case ok:
			if _, err := s.client.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("modification_id", m.ModificationID).Str("page_id", pageID).Msg("Failed to update Notion page")
				res.Failed++
				continue
			}
			res.Updated++
		default:
			page, err := s.client.CreatePage(ctx, s.databaseID, props)
			if err != nil {
				log.Warn().Err(err).Str("modification_id", m.ModificationID).Msg("Failed to create Notion page")
				res.Failed++
				continue
			}
			log.Debug().Str("modification_id", m.ModificationID).Str("page_id", string(page.ID)).Msg("Created Notion page")
			res.Created++
		}
	}

	for modID, pageID := range existing {
		if active[modID] {
			continue
		}
		if s.dryRun {
			log.Info().Str("modification_id", modID).Msg("[DRY RUN] Would archive stale Notion page")
			res.Archived++
			continue
		}
		if err := s.client.ArchivePage(ctx, pageID); err != nil {
			log.Warn().Err(err).Str("page_id", pageID).Msg("Failed to archive stale Notion page")
			res.Failed++
			continue
		}
		res.Archived++
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("archived", res.Archived).
		Int("failed", res.Failed).
		Msg("Notion sync finished")
	return res, nil
}

func queryAllPages(ctx context.Context, client NotionService, databaseID string) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: 100}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := client.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllPages: %w", err)
		}
		all = append(all, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return all, nil
}
