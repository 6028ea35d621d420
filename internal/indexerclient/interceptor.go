package indexerclient

import (
	"context"

	"github.com/graphops/graphix/internal/models"
)

// Interceptor is the `interceptor` ConfigSource variant (spec §4.1 step 1,
// §9: "composes one underlying IndexerClient with hash substitution —
// implement as a decorator around the transport"). It is test-only: it
// forwards PublicPois to the wrapped target and replaces the Hash of every
// result the target returns with {PoiByte} x 32 (a target error is returned
// as is); every other call goes to the target unchanged.
type Interceptor struct {
	name    string
	poiByte byte
	target  Client
}

// NewInterceptor wraps target, substituting every PublicPois response with a
// synthetic PoI of 32 repeated poiByte bytes.
func NewInterceptor(name string, poiByte byte, target Client) *Interceptor {
	return &Interceptor{name: name, poiByte: poiByte, target: target}
}

func (i *Interceptor) Endpoint() string { return i.name }

func (i *Interceptor) IndexingStatuses(ctx context.Context) ([]IndexingStatus, error) {
	return i.target.IndexingStatuses(ctx)
}

func (i *Interceptor) PublicPois(ctx context.Context, requests []PoiRequest) ([]PoiResult, error) {
	real, err := i.target.PublicPois(ctx, requests)
	if err != nil {
		return nil, err
	}

	var fabricated models.Hash32
	for j := range fabricated {
		fabricated[j] = i.poiByte
	}

	results := make([]PoiResult, len(real))
	for idx, r := range real {
		r.Hash = fabricated
		results[idx] = r
	}
	return results, nil
}

func (i *Interceptor) Version(ctx context.Context) (VersionInfo, error) {
	return i.target.Version(ctx)
}

func (i *Interceptor) BlockCache(ctx context.Context, network string, blockHash models.Hash32) (BlockCacheEntry, error) {
	return i.target.BlockCache(ctx, network, blockHash)
}

func (i *Interceptor) EthCallCache(ctx context.Context, network string, blockHash models.Hash32) ([]EthCallCacheEntry, error) {
	return i.target.EthCallCache(ctx, network, blockHash)
}

func (i *Interceptor) EntityChanges(ctx context.Context, deploymentCid string, block uint64) (EntityChangeSet, error) {
	return i.target.EntityChanges(ctx, deploymentCid, block)
}
