package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
)

// Block is a cached external busy interval. A nil ProfessionalID blocks the
// whole clinic.
type Block struct {
	ProfessionalID  *uuid.UUID `json:"professional_id,omitempty"`
	ExternalEventID string     `json:"external_event_id"`
	Title           string     `json:"title"`
	Start           time.Time  `json:"start"`
	End             time.Time  `json:"end"`
	AllDay          bool       `json:"all_day"`
}

// Busy converts the block for aggregation.
func (b Block) Busy() scheduling.Block {
	return scheduling.Block{ProfessionalID: b.ProfessionalID, Start: b.Start, End: b.End, AllDay: b.AllDay}
}

// DB abstracts the pgx pool for testing.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// BlockStore caches external blocks per tenant, day and professional.
type BlockStore struct {
	db DB
}

func NewBlockStore(db DB) *BlockStore {
	if db == nil {
		panic("calendar: db required")
	}
	return &BlockStore{db: db}
}

// ReplaceDay swaps the cached blocks of one source (professional or global)
// for one day in a single transaction.
func (s *BlockStore) ReplaceDay(ctx context.Context, tenantID uuid.UUID, professionalID *uuid.UUID, day time.Time, blocks []Block) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("calendar: begin replace: %w", err)
	}
	defer tx.Rollback(ctx)

	date := scheduling.StartOfDay(day).Format("2006-01-02")
	if _, err := tx.Exec(ctx, `
		DELETE FROM external_calendar_blocks
		WHERE tenant_id = $1 AND block_date = $2 AND professional_id IS NOT DISTINCT FROM $3`,
		tenantID, date, professionalID); err != nil {
		return fmt.Errorf("calendar: clear blocks: %w", err)
	}
	for _, b := range blocks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO external_calendar_blocks (id, tenant_id, professional_id, external_event_id, title, starts_at, ends_at, all_day, block_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.New(), tenantID, professionalID, b.ExternalEventID, b.Title, b.Start, b.End, b.AllDay, date); err != nil {
			return fmt.Errorf("calendar: insert block: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("calendar: commit replace: %w", err)
	}
	return nil
}

// ListRange returns the tenant's cached blocks overlapping [from, to) that
// apply to any of professionalIDs or to everyone.
func (s *BlockStore) ListRange(ctx context.Context, tenantID uuid.UUID, professionalIDs []uuid.UUID, from, to time.Time) ([]Block, error) {
	rows, err := s.db.Query(ctx, `
		SELECT professional_id, external_event_id, title, starts_at, ends_at, all_day
		FROM external_calendar_blocks
		WHERE tenant_id = $1 AND starts_at < $3 AND ends_at > $2
		  AND (professional_id IS NULL OR professional_id = ANY($4))
		ORDER BY starts_at`, tenantID, from, to, professionalIDs)
	if err != nil {
		return nil, fmt.Errorf("calendar: list blocks: %w", err)
	}
	defer rows.Close()

	var out []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.ProfessionalID, &b.ExternalEventID, &b.Title, &b.Start, &b.End, &b.AllDay); err != nil {
			return nil, fmt.Errorf("calendar: scan block: %w", err)
		}
		b.Start, b.End = b.Start.In(from.Location()), b.End.In(from.Location())
		out = append(out, b)
	}
	return out, rows.Err()
}
