package poller

import (
	"sort"

	"github.com/graphops/graphix/internal/config"
)

// chooseBlock implements spec §4.1 step 3 for a single deployment given the
// LatestBlock.number each reporting indexer returned. Returns ok=false when
// there are fewer than 2 reporters (the deployment is recorded in the
// catalog but skipped for PoI comparison this round).
func chooseBlock(policy config.BlockChoicePolicy, latestBlocks []uint64) (uint64, bool) {
	if len(latestBlocks) < 2 {
		return 0, false
	}

	switch policy {
	case config.PolicyEarliest:
		min := latestBlocks[0]
		for _, n := range latestBlocks[1:] {
			if n < min {
				min = n
			}
		}
		return min, true

	case config.PolicyMaxSyncedBlocks:
		return maxSyncedBlocks(latestBlocks), true

	default:
		return 0, false
	}
}

// maxSyncedBlocks picks the maximum n such that at least
// floor(len(latestBlocks)/2)+1 reporters have latestBlock >= n. Sorting
// descending and taking the element at the majority-size index directly
// gives that n: it's the smallest value among the top-majority reporters,
// which is exactly the largest n a majority can all clear.
func maxSyncedBlocks(latestBlocks []uint64) uint64 {
	sorted := append([]uint64(nil), latestBlocks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })

	majoritySize := len(sorted)/2 + 1
	return sorted[majoritySize-1]
}
