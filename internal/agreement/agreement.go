// Package agreement implements the cross-indexer agreement-ratio computation
// (spec §4.2): a pure function over the current set of live PoIs for a
// deployment, with no store or network dependency of its own.
package agreement

import "github.com/graphops/graphix/internal/models"

// Compute derives one PoiAgreementRatio per live PoI in live, the set S of
// spec §4.2. A deployment with a single live PoI still produces a row: it
// trivially agrees with itself, totalIndexers=1, hasConsensus=true.
func Compute(deploymentCid string, live []models.LivePoiView) []models.PoiAgreementRatio {
	if len(live) == 0 {
		return nil
	}

	counts := make(map[models.Hash32]int, len(live))
	for _, v := range live {
		counts[v.Hash]++
	}

	consensusHash, consensusCount := mode(counts)
	hasConsensus := consensusCount*2 > len(live)

	out := make([]models.PoiAgreementRatio, 0, len(live))
	for _, v := range live {
		agreeing := counts[v.Hash]
		out = append(out, models.PoiAgreementRatio{
			Poi:                  v.Hash,
			DeploymentCid:        deploymentCid,
			BlockNumber:          v.BlockNumber,
			TotalIndexers:        len(live),
			NAgreeingIndexers:    agreeing,
			NDisagreeingIndexers: len(live) - agreeing,
			HasConsensus:         hasConsensus,
			InConsensus:          hasConsensus && v.Hash == consensusHash,
		})
	}
	return out
}

// mode returns the most frequent hash and its count. Ties are broken
// arbitrarily: per spec §4.2, a tie can never produce hasConsensus=true
// anyway (strict majority requires multiplicity > |S|/2, and two candidates
// tied for the max can't both clear that bar), so which one mode() picks
// among ties never affects InConsensus.
func mode(counts map[models.Hash32]int) (models.Hash32, int) {
	var best models.Hash32
	var bestCount int
	for h, c := range counts {
		if c > bestCount {
			best, bestCount = h, c
		}
	}
	return best, bestCount
}
