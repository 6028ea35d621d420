//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/graphops/graphix/internal/models"
	"github.com/graphops/graphix/internal/store"
	"github.com/graphops/graphix/internal/store/postgres"
)

func mustOpen(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("GRAPHIX_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SKIP: GRAPHIX_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := postgres.New(ctx, dsn)
	if err != nil {
		t.Skipf("SKIP: database unreachable: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func addr(b byte) models.Address20 {
	var a models.Address20
	a[19] = b
	return a
}

func hash(b byte) models.Hash32 {
	var h models.Hash32
	h[31] = b
	return h
}

// TestRecordObservation_Idempotent asserts property 2 from the testable
// properties: re-observing the same (deployment, indexer, block, poi) tuple
// never creates a second row.
func TestRecordObservation_Idempotent(t *testing.T) {
	t.Parallel()
	s := mustOpen(t)
	ctx := context.Background()

	obs := store.PoiObservation{
		NetworkName:   fmt.Sprintf("test-net-%d", time.Now().UnixNano()),
		DeploymentCid: "Qm-idempotent-test",
		IndexerAddr:   addr(1),
		BlockHash:     hash(1),
		BlockNumber:   100,
		PoiHash:       hash(0xaa),
	}

	created, err := s.RecordObservation(ctx, obs)
	if err != nil {
		t.Fatalf("RecordObservation: %v", err)
	}
	if !created {
		t.Fatalf("expected first observation to be created")
	}

	created, err = s.RecordObservation(ctx, obs)
	if err != nil {
		t.Fatalf("RecordObservation (repeat): %v", err)
	}
	if created {
		t.Fatalf("expected repeat observation to be idempotent, not created")
	}
}

// TestRecordObservation_LivePoiMonotone asserts property 1: live_pois always
// points at the most recently created PoI for the pair, so a later
// observation at a lower block number still becomes the live PoI.
func TestRecordObservation_LivePoiMonotone(t *testing.T) {
	t.Parallel()
	s := mustOpen(t)
	ctx := context.Background()

	network := fmt.Sprintf("test-net-%d", time.Now().UnixNano())
	deployment := "Qm-monotone-test"
	indexer := addr(2)

	if _, err := s.RecordObservation(ctx, store.PoiObservation{
		NetworkName: network, DeploymentCid: deployment, IndexerAddr: indexer,
		BlockHash: hash(10), BlockNumber: 200, PoiHash: hash(0xbb),
	}); err != nil {
		t.Fatalf("RecordObservation (block 200): %v", err)
	}

	if _, err := s.RecordObservation(ctx, store.PoiObservation{
		NetworkName: network, DeploymentCid: deployment, IndexerAddr: indexer,
		BlockHash: hash(5), BlockNumber: 100, PoiHash: hash(0xcc),
	}); err != nil {
		t.Fatalf("RecordObservation (block 100): %v", err)
	}

	live, err := s.LivePoisForDeployment(ctx, deployment)
	if err != nil {
		t.Fatalf("LivePoisForDeployment: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("expected exactly one live poi, got %d", len(live))
	}
	if live[0].BlockNumber != 100 {
		t.Fatalf("expected live poi to move to the later-created block-100 poi, got %d", live[0].BlockNumber)
	}
}
