package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/graphops/graphix/internal/graphixerr"
	"github.com/graphops/graphix/internal/models"
	"github.com/graphops/graphix/internal/store"
)

func (s *Store) ListNetworks(ctx context.Context) ([]models.Network, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, caip2, created_at FROM graphix.networks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: list networks: %v", graphixerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []models.Network
	for rows.Next() {
		var n models.Network
		if err := rows.Scan(&n.ID, &n.Name, &n.Caip2, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan network: %v", graphixerr.ErrStoreUnavailable, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) ListDeployments(ctx context.Context, filter store.DeploymentFilter) ([]models.SgDeployment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ipfs_cid, network_id, name, created_at
		FROM graphix.sg_deployments
		WHERE ($1 = '' OR ipfs_cid = $1) AND ($2 = 0 OR network_id = $2)
		ORDER BY id`, filter.IpfsCid, filter.NetworkID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list deployments: %v", graphixerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []models.SgDeployment
	for rows.Next() {
		var d models.SgDeployment
		if err := rows.Scan(&d.ID, &d.IpfsCid, &d.NetworkID, &d.Name, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan deployment: %v", graphixerr.ErrStoreUnavailable, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListIndexers joins in the most recent version row and the metadata row, if
// present, so API consumers don't need a second round trip per indexer.
func (s *Store) ListIndexers(ctx context.Context, filter store.IndexerFilter) ([]models.Indexer, error) {
	var addrFilter []byte
	if filter.Address != (models.Address20{}) {
		addrFilter = filter.Address[:]
	}

	rows, err := s.db.Query(ctx, `
		SELECT i.id, i.address, i.display_name, i.created_at,
		       v.version, v.commit, v.error, v.created_at,
		       m.staked_tokens, m.allocated_tokens, m.rewards_earned, m.geohash, m.url, m.updated_at
		FROM graphix.indexers i
		LEFT JOIN LATERAL (
			SELECT version, commit, error, created_at FROM graphix.indexer_versions
			WHERE indexer_id = i.id ORDER BY created_at DESC LIMIT 1
		) v ON true
		LEFT JOIN graphix.indexer_network_subgraph_metadata m ON m.indexer_id = i.id
		WHERE $1::bytea IS NULL OR i.address = $1
		ORDER BY i.id`, addrFilter,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list indexers: %v", graphixerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []models.Indexer
	for rows.Next() {
		var idx models.Indexer
		var addr []byte
		var version, commit, vErr *string
		var versionCreatedAt sql.NullTime
		var staked, allocated, rewards, geohash, url *string
		var updatedAt sql.NullTime

		if err := rows.Scan(&idx.ID, &addr, &idx.DisplayName, &idx.CreatedAt,
			&version, &commit, &vErr, &versionCreatedAt,
			&staked, &allocated, &rewards, &geohash, &url, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan indexer: %v", graphixerr.ErrStoreUnavailable, err)
		}
		if err := idx.Address.Scan(addr); err != nil {
			return nil, fmt.Errorf("%w: scan indexer address: %v", graphixerr.ErrStoreUnavailable, err)
		}
		if version != nil || commit != nil || vErr != nil {
			idx.Version = &models.IndexerVersion{IndexerID: idx.ID, Version: version, Commit: commit, Error: vErr}
			if versionCreatedAt.Valid {
				idx.Version.CreatedAt = versionCreatedAt.Time
			}
		}
		if staked != nil {
			idx.Metadata = &models.IndexerNetworkSubgraphMetadata{
				IndexerID: idx.ID, StakedTokens: *staked, AllocatedTokens: *allocated,
				RewardsEarned: *rewards, Geohash: geohash, URL: url,
			}
			if updatedAt.Valid {
				idx.Metadata.UpdatedAt = updatedAt.Time
			}
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

func (s *Store) poiQuery(ctx context.Context, table string, filter store.PoiFilter) ([]models.PoI, error) {
	var addrFilter []byte
	if filter.IndexerAddr != (models.Address20{}) {
		addrFilter = filter.IndexerAddr[:]
	}

	query := fmt.Sprintf(`
		SELECT p.id, p.deployment_id, p.indexer_id, p.block_id, p.hash, p.created_at,
		       b.number, b.hash, d.ipfs_cid, i.address
		FROM graphix.%s p
		JOIN graphix.blocks b ON b.id = p.block_id
		JOIN graphix.sg_deployments d ON d.id = p.deployment_id
		JOIN graphix.indexers i ON i.id = p.indexer_id
		WHERE ($1 = '' OR d.ipfs_cid = $1)
		  AND ($2::bytea IS NULL OR i.address = $2)
		  AND ($3 = 0 OR b.number = $3)
		ORDER BY p.created_at DESC`, table)

	rows, err := s.db.Query(ctx, query, filter.DeploymentCid, addrFilter, filter.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", graphixerr.ErrStoreUnavailable, table, err)
	}
	defer rows.Close()

	var out []models.PoI
	for rows.Next() {
		var p models.PoI
		var hash, blockHash, addr []byte
		if err := rows.Scan(&p.ID, &p.DeploymentID, &p.IndexerID, &p.BlockID, &hash, &p.CreatedAt,
			&p.BlockNumber, &blockHash, &p.DeploymentCid, &addr,
		); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", graphixerr.ErrStoreUnavailable, table, err)
		}
		if err := p.Hash.Scan(hash); err != nil {
			return nil, err
		}
		if err := p.BlockHash.Scan(blockHash); err != nil {
			return nil, err
		}
		if err := p.IndexerAddr.Scan(addr); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListPois(ctx context.Context, filter store.PoiFilter) ([]models.PoI, error) {
	return s.poiQuery(ctx, "pois", filter)
}

// ListLivePois runs its own copy of poiQuery's select: live_pois points at
// pois, so we select through it the same way the ordinary pois table is
// queried, just restricted to the rows live_pois references.
func (s *Store) ListLivePois(ctx context.Context, filter store.PoiFilter) ([]models.PoI, error) {
	var addrFilter []byte
	if filter.IndexerAddr != (models.Address20{}) {
		addrFilter = filter.IndexerAddr[:]
	}

	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.deployment_id, p.indexer_id, p.block_id, p.hash, p.created_at,
		       b.number, b.hash, d.ipfs_cid, i.address
		FROM graphix.live_pois lp
		JOIN graphix.pois p ON p.id = lp.poi_id
		JOIN graphix.blocks b ON b.id = p.block_id
		JOIN graphix.sg_deployments d ON d.id = p.deployment_id
		JOIN graphix.indexers i ON i.id = p.indexer_id
		WHERE ($1 = '' OR d.ipfs_cid = $1)
		  AND ($2::bytea IS NULL OR i.address = $2)
		  AND ($3 = 0 OR b.number = $3)
		ORDER BY d.ipfs_cid, i.address`, filter.DeploymentCid, addrFilter, filter.BlockNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list live pois: %v", graphixerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []models.PoI
	for rows.Next() {
		var p models.PoI
		var hash, blockHash, addr []byte
		if err := rows.Scan(&p.ID, &p.DeploymentID, &p.IndexerID, &p.BlockID, &hash, &p.CreatedAt,
			&p.BlockNumber, &blockHash, &p.DeploymentCid, &addr,
		); err != nil {
			return nil, fmt.Errorf("%w: scan live poi: %v", graphixerr.ErrStoreUnavailable, err)
		}
		if err := p.Hash.Scan(hash); err != nil {
			return nil, err
		}
		if err := p.BlockHash.Scan(blockHash); err != nil {
			return nil, err
		}
		if err := p.IndexerAddr.Scan(addr); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LivePoisForDeployment is the set S of spec §4.2: every indexer's live PoI
// for one deployment, in the minimal shape the agreement computation needs.
func (s *Store) LivePoisForDeployment(ctx context.Context, deploymentCid string) ([]models.LivePoiView, error) {
	rows, err := s.db.Query(ctx, `
		SELECT i.id, i.address, b.number, p.hash
		FROM graphix.live_pois lp
		JOIN graphix.pois p ON p.id = lp.poi_id
		JOIN graphix.blocks b ON b.id = p.block_id
		JOIN graphix.sg_deployments d ON d.id = lp.deployment_id
		JOIN graphix.indexers i ON i.id = lp.indexer_id
		WHERE d.ipfs_cid = $1`, deploymentCid,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: live pois for deployment: %v", graphixerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []models.LivePoiView
	for rows.Next() {
		var v models.LivePoiView
		var addr []byte
		var hash []byte
		if err := rows.Scan(&v.IndexerID, &addr, &v.BlockNumber, &hash); err != nil {
			return nil, fmt.Errorf("%w: scan live poi view: %v", graphixerr.ErrStoreUnavailable, err)
		}
		if err := v.IndexerAddr.Scan(addr); err != nil {
			return nil, err
		}
		if err := v.Hash.Scan(hash); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) SetDeploymentName(ctx context.Context, ipfsCid, name string) error {
	tag, err := s.db.Exec(ctx, `UPDATE graphix.sg_deployments SET name = $1 WHERE ipfs_cid = $2`, name, ipfsCid)
	if err != nil {
		return fmt.Errorf("%w: set deployment name: %v", graphixerr.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no deployment with cid %s", graphixerr.ErrInvestigationInputInvalid, ipfsCid)
	}
	return nil
}

// DeleteNetwork removes a network and everything rooted under it. Deployment,
// block, PoI and live PoI rows cascade via ON DELETE CASCADE (schema.sql);
// indexers are left in place since they may be shared by other networks or
// still referenced by an indexer's global version history.
func (s *Store) DeleteNetwork(ctx context.Context, name string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM graphix.networks WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("%w: delete network: %v", graphixerr.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no network named %s", graphixerr.ErrInvestigationInputInvalid, name)
	}
	return nil
}

func (s *Store) ResolveLivePoiByHash(ctx context.Context, hash models.Hash32) (store.ResolvedPoi, error) {
	var r store.ResolvedPoi
	var addr, blockHash []byte
	err := s.db.QueryRow(ctx, `
		SELECT i.id, i.address, d.id, d.ipfs_cid, b.number, b.hash, p.created_at
		FROM graphix.live_pois lp
		JOIN graphix.pois p ON p.id = lp.poi_id
		JOIN graphix.blocks b ON b.id = p.block_id
		JOIN graphix.sg_deployments d ON d.id = lp.deployment_id
		JOIN graphix.indexers i ON i.id = lp.indexer_id
		WHERE p.hash = $1`, hash[:],
	).Scan(&r.IndexerID, &addr, &r.DeploymentID, &r.DeploymentCid, &r.BlockNumber, &blockHash, &r.CreatedAt)
	if err == pgx.ErrNoRows {
		return store.ResolvedPoi{}, fmt.Errorf("%w: poi %s is not any indexer's current live poi", graphixerr.ErrInvestigationInputInvalid, hash)
	}
	if err != nil {
		return store.ResolvedPoi{}, fmt.Errorf("%w: resolve live poi: %v", graphixerr.ErrStoreUnavailable, err)
	}
	if err := r.IndexerAddr.Scan(addr); err != nil {
		return store.ResolvedPoi{}, err
	}
	if err := r.BlockHash.Scan(blockHash); err != nil {
		return store.ResolvedPoi{}, err
	}
	return r, nil
}
