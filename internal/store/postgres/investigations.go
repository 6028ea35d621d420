package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/graphops/graphix/internal/graphixerr"
	"github.com/graphops/graphix/internal/models"
)

func (s *Store) EnqueueInvestigationRequest(ctx context.Context, uuid string, payload []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO graphix.pending_divergence_investigation_requests (uuid, request)
		VALUES ($1, $2)
		ON CONFLICT (uuid) DO NOTHING`, uuid, payload,
	)
	if err != nil {
		return fmt.Errorf("%w: enqueue investigation request: %v", graphixerr.ErrStoreUnavailable, err)
	}
	return nil
}

// DequeuePendingInvestigationRequests returns up to limit oldest pending
// rows. Rows are left in place until CompleteInvestigation deletes them;
// spec §9 notes the scale this runs at doesn't warrant a lease field, so a
// request in flight stays visible to a second drain pass rather than being
// claimed exclusively.
func (s *Store) DequeuePendingInvestigationRequests(ctx context.Context, limit int) ([]models.PendingDivergenceInvestigationRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT uuid, request, created_at
		FROM graphix.pending_divergence_investigation_requests
		ORDER BY created_at
		LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: dequeue investigation requests: %v", graphixerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []models.PendingDivergenceInvestigationRequest
	for rows.Next() {
		var r models.PendingDivergenceInvestigationRequest
		if err := rows.Scan(&r.UUID, &r.Request, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan pending investigation request: %v", graphixerr.ErrStoreUnavailable, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CompleteInvestigation inserts the report and removes the pending row in a
// single transaction, so a reader never observes both present or both absent
// mid-update (spec §4.3 Done state).
func (s *Store) CompleteInvestigation(ctx context.Context, uuid string, reportJSON []byte) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", graphixerr.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO graphix.divergence_investigation_reports (uuid, report)
		VALUES ($1, $2)
		ON CONFLICT (uuid) DO UPDATE SET report = EXCLUDED.report`, uuid, reportJSON,
	); err != nil {
		return fmt.Errorf("%w: insert investigation report: %v", graphixerr.ErrStoreUnavailable, err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM graphix.pending_divergence_investigation_requests WHERE uuid = $1`, uuid,
	); err != nil {
		return fmt.Errorf("%w: delete pending investigation request: %v", graphixerr.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", graphixerr.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) GetInvestigationReport(ctx context.Context, uuid string) (*models.DivergenceInvestigationReport, error) {
	var r models.DivergenceInvestigationReport
	err := s.db.QueryRow(ctx, `
		SELECT uuid, report, created_at FROM graphix.divergence_investigation_reports WHERE uuid = $1`, uuid,
	).Scan(&r.UUID, &r.Report, &r.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get investigation report: %v", graphixerr.ErrStoreUnavailable, err)
	}
	return &r, nil
}

func (s *Store) HasPendingInvestigation(ctx context.Context, uuid string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM graphix.pending_divergence_investigation_requests WHERE uuid = $1)`, uuid,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: check pending investigation: %v", graphixerr.ErrStoreUnavailable, err)
	}
	return exists, nil
}

func (s *Store) LookupApiToken(ctx context.Context, hashHex string) (*models.ApiToken, error) {
	var t models.ApiToken
	err := s.db.QueryRow(ctx, `
		SELECT public_prefix, hash_hex, permission, notes, created_at
		FROM graphix.api_tokens WHERE hash_hex = $1`, hashHex,
	).Scan(&t.PublicPrefix, &t.HashHex, &t.Permission, &t.Notes, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup api token: %v", graphixerr.ErrStoreUnavailable, err)
	}
	return &t, nil
}
