package game

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prefduel/prefduel/persist"
	"github.com/prefduel/prefduel/service/recommend"
)

func scoredProduct(id persist.DBID, vendor string, score float64) recommend.ScoredProduct {
	return recommend.ScoredProduct{
		Product: &persist.Product{ID: id, Vendor: vendor},
		Score:   score,
	}
}

func TestSortScoredBreaksTiesByDescendingID(t *testing.T) {
	scored := []recommend.ScoredProduct{
		scoredProduct("a", "Pilot", 3.0),
		scoredProduct("c", "Lamy", 3.0),
		scoredProduct("b", "Lamy", 4.0),
	}

	sortScored(scored)

	require.Equal(t, persist.DBID("b"), scored[0].Product.ID)
	require.Equal(t, persist.DBID("c"), scored[1].Product.ID)
	require.Equal(t, persist.DBID("a"), scored[2].Product.ID)
}

func TestRngForIsDeterministicForSameInputs(t *testing.T) {
	r1 := rngFor("game1", 1, "round_candidates")
	r2 := rngFor("game1", 1, "round_candidates")
	require.Equal(t, r1.Int63(), r2.Int63())

	r3 := rngFor("game1", 2, "round_candidates")
	require.NotEqual(t, rngFor("game1", 1, "round_candidates").Int63(), r3.Int63())
}

func manyScored(n int) []recommend.ScoredProduct {
	scored := make([]recommend.ScoredProduct, n)
	for i := 0; i < n; i++ {
		id := persist.DBID(string(rune('a'+i%26)) + string(rune('0'+i/26)))
		scored[i] = scoredProduct(id, "vendor", float64(n-i))
	}
	return scored
}

func TestBuildRoundCandidatesReturnsExactlyTargetCountWhenEnoughProducts(t *testing.T) {
	scored := manyScored(200)
	ids := buildRoundCandidates("game1", 1, scored)
	require.Len(t, ids, RoundCandidateCount)

	seen := make(map[persist.DBID]bool)
	for _, id := range ids {
		require.False(t, seen[id], "duplicate candidate id returned")
		seen[id] = true
	}
}

func TestBuildRoundCandidatesReturnsAllWhenFewerThanTarget(t *testing.T) {
	scored := manyScored(5)
	ids := buildRoundCandidates("game1", 1, scored)
	require.Len(t, ids, 5)
}

func TestBuildRoundCandidatesIsDeterministicForSameInputs(t *testing.T) {
	scored := manyScored(200)
	ids1 := buildRoundCandidates("game1", 3, scored)
	ids2 := buildRoundCandidates("game1", 3, scored)
	require.Equal(t, ids1, ids2)
}

func TestBuildRoundCandidatesDiffersAcrossRounds(t *testing.T) {
	scored := manyScored(200)
	ids1 := buildRoundCandidates("game1", 1, scored)
	ids2 := buildRoundCandidates("game1", 2, scored)
	require.NotEqual(t, ids1, ids2)
}
