package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/graphops/graphix/internal/graphixerr"
	"github.com/graphops/graphix/internal/models"
	"github.com/graphops/graphix/internal/store"
)

// RecordObservation upserts Network/Deployment/Block and inserts the PoI
// (idempotent on (deployment, indexer, block)) within one transaction, then
// upserts live_pois so it only ever advances to a PoI that is at least as
// recent as what it already points at — the LivePoi-monotone invariant
// (spec §8 property 1) is enforced by the WHERE clause below, not by
// application-level locking.
func (s *Store) RecordObservation(ctx context.Context, obs store.PoiObservation) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: begin tx: %v", graphixerr.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var networkID int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO graphix.networks (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, obs.NetworkName,
	).Scan(&networkID); err != nil {
		return false, fmt.Errorf("%w: upsert network: %v", graphixerr.ErrStoreUnavailable, err)
	}

	var deploymentID int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO graphix.sg_deployments (ipfs_cid, network_id) VALUES ($1, $2)
		ON CONFLICT (ipfs_cid) DO UPDATE SET ipfs_cid = EXCLUDED.ipfs_cid
		RETURNING id`, obs.DeploymentCid, networkID,
	).Scan(&deploymentID); err != nil {
		return false, fmt.Errorf("%w: upsert deployment: %v", graphixerr.ErrStoreUnavailable, err)
	}

	var indexerID int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO graphix.indexers (address) VALUES ($1)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING id`, obs.IndexerAddr[:],
	).Scan(&indexerID); err != nil {
		return false, fmt.Errorf("%w: upsert indexer: %v", graphixerr.ErrStoreUnavailable, err)
	}

	var blockID int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO graphix.blocks (network_id, hash, number) VALUES ($1, $2, $3)
		ON CONFLICT (network_id, hash) DO UPDATE SET number = EXCLUDED.number
		RETURNING id`, networkID, obs.BlockHash[:], obs.BlockNumber,
	).Scan(&blockID); err != nil {
		return false, fmt.Errorf("%w: upsert block: %v", graphixerr.ErrStoreUnavailable, err)
	}

	var poiID int64
	created := true
	err = tx.QueryRow(ctx, `
		INSERT INTO graphix.pois (deployment_id, indexer_id, block_id, hash) VALUES ($1, $2, $3, $4)
		ON CONFLICT (deployment_id, indexer_id, block_id) DO NOTHING
		RETURNING id`, deploymentID, indexerID, blockID, obs.PoiHash[:],
	).Scan(&poiID)
	if err == pgx.ErrNoRows {
		created = false
		if err := tx.QueryRow(ctx, `
			SELECT id FROM graphix.pois WHERE deployment_id = $1 AND indexer_id = $2 AND block_id = $3`,
			deploymentID, indexerID, blockID,
		).Scan(&poiID); err != nil {
			return false, fmt.Errorf("%w: reselect existing poi: %v", graphixerr.ErrStoreUnavailable, err)
		}
	} else if err != nil {
		return false, fmt.Errorf("%w: insert poi: %v", graphixerr.ErrStoreUnavailable, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO graphix.live_pois (deployment_id, indexer_id, poi_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (deployment_id, indexer_id) DO UPDATE SET poi_id = EXCLUDED.poi_id
		WHERE (SELECT created_at FROM graphix.pois WHERE id = EXCLUDED.poi_id)
		      >= (SELECT created_at FROM graphix.pois WHERE id = graphix.live_pois.poi_id)`,
		deploymentID, indexerID, poiID,
	); err != nil {
		return false, fmt.Errorf("%w: upsert live_pois: %v", graphixerr.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("%w: commit: %v", graphixerr.ErrStoreUnavailable, err)
	}
	return created, nil
}

// CatalogDeployment upserts Network/Deployment alone, for a deployment this
// round couldn't choose a comparison block for (spec §4.1 step 3: a single
// reporter is "still recorded in the deployment catalog").
func (s *Store) CatalogDeployment(ctx context.Context, networkName, deploymentCid string) error {
	var networkID int64
	if err := s.db.QueryRow(ctx, `
		INSERT INTO graphix.networks (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, networkName,
	).Scan(&networkID); err != nil {
		return fmt.Errorf("%w: upsert network: %v", graphixerr.ErrStoreUnavailable, err)
	}

	if _, err := s.db.Exec(ctx, `
		INSERT INTO graphix.sg_deployments (ipfs_cid, network_id) VALUES ($1, $2)
		ON CONFLICT (ipfs_cid) DO UPDATE SET ipfs_cid = EXCLUDED.ipfs_cid`,
		deploymentCid, networkID,
	); err != nil {
		return fmt.Errorf("%w: upsert deployment: %v", graphixerr.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) UpsertIndexerVersion(ctx context.Context, indexerAddr models.Address20, version, commit, errMsg string) error {
	var indexerID int64
	if err := s.db.QueryRow(ctx, `
		INSERT INTO graphix.indexers (address) VALUES ($1)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING id`, indexerAddr[:],
	).Scan(&indexerID); err != nil {
		return fmt.Errorf("%w: upsert indexer: %v", graphixerr.ErrStoreUnavailable, err)
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO graphix.indexer_versions (indexer_id, version, commit, error)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))`,
		indexerID, version, commit, errMsg,
	)
	if err != nil {
		return fmt.Errorf("%w: insert indexer version: %v", graphixerr.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) UpsertIndexerMetadata(ctx context.Context, indexerAddr models.Address20, stakedTokens, allocatedTokens, rewardsEarned, geohash, url string) error {
	var indexerID int64
	if err := s.db.QueryRow(ctx, `
		INSERT INTO graphix.indexers (address) VALUES ($1)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING id`, indexerAddr[:],
	).Scan(&indexerID); err != nil {
		return fmt.Errorf("%w: upsert indexer: %v", graphixerr.ErrStoreUnavailable, err)
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO graphix.indexer_network_subgraph_metadata
			(indexer_id, staked_tokens, allocated_tokens, rewards_earned, geohash, url, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NOW())
		ON CONFLICT (indexer_id) DO UPDATE SET
			staked_tokens = EXCLUDED.staked_tokens,
			allocated_tokens = EXCLUDED.allocated_tokens,
			rewards_earned = EXCLUDED.rewards_earned,
			geohash = EXCLUDED.geohash,
			url = EXCLUDED.url,
			updated_at = NOW()`,
		indexerID, stakedTokens, allocatedTokens, rewardsEarned, geohash, url,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert indexer metadata: %v", graphixerr.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) RecordFailedQuery(ctx context.Context, indexerAddr models.Address20, queryName string, rawQuery, response, errMsg string) error {
	var indexerID int64
	if err := s.db.QueryRow(ctx, `
		INSERT INTO graphix.indexers (address) VALUES ($1)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING id`, indexerAddr[:],
	).Scan(&indexerID); err != nil {
		return fmt.Errorf("%w: upsert indexer: %v", graphixerr.ErrStoreUnavailable, err)
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO graphix.failed_queries (indexer_id, query_name, raw_query, response, error)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)`,
		indexerID, queryName, rawQuery, response, errMsg,
	)
	if err != nil {
		return fmt.Errorf("%w: insert failed_queries: %v", graphixerr.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) RecordConfigSnapshot(ctx context.Context, json []byte) error {
	_, err := s.db.Exec(ctx, `INSERT INTO graphix.config_snapshots (json) VALUES ($1)`, json)
	if err != nil {
		return fmt.Errorf("%w: insert config_snapshots: %v", graphixerr.ErrStoreUnavailable, err)
	}
	return nil
}
