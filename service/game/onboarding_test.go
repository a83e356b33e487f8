package game

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prefduel/prefduel/persist"
)

func floatPtr(v float64) *float64 { return &v }

func catalogWithPrices(n int) []*persist.Product {
	vendors := []string{"Pilot", "Lamy", "Pelikan", "Sailor"}
	products := make([]*persist.Product, n)
	for i := 0; i < n; i++ {
		products[i] = &persist.Product{
			ID:       persist.DBID(fmt.Sprintf("p%03d", i)),
			Vendor:   vendors[i%len(vendors)],
			PriceMin: floatPtr(float64(i)),
		}
	}
	return products
}

func TestDiverseOnboardingSampleReturnsEverythingWhenCatalogIsSmall(t *testing.T) {
	catalog := catalogWithPrices(10)
	ids := diverseOnboardingSample(catalog, "game1")
	require.Len(t, ids, 10)
}

func TestDiverseOnboardingSampleCapsAtPoolSize(t *testing.T) {
	catalog := catalogWithPrices(500)
	ids := diverseOnboardingSample(catalog, "game1")
	require.Len(t, ids, OnboardingPoolSize)

	seen := make(map[persist.DBID]bool)
	for _, id := range ids {
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestDiverseOnboardingSampleIsDeterministicPerGame(t *testing.T) {
	catalog := catalogWithPrices(500)
	ids1 := diverseOnboardingSample(catalog, "game1")
	ids2 := diverseOnboardingSample(catalog, "game1")
	require.Equal(t, ids1, ids2)

	ids3 := diverseOnboardingSample(catalog, "game2")
	require.NotEqual(t, ids1, ids3)
}

func TestRoundRobinPickDoesNotExceedTarget(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	bucket := catalogWithPrices(20)
	picks := roundRobinPick(rng, bucket, 8)
	require.Len(t, picks, 8)
}

func TestRoundRobinPickSpreadsAcrossVendorsBeforeRepeating(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	bucket := catalogWithPrices(8) // 4 vendors, 2 items each
	picks := roundRobinPick(rng, bucket, 4)
	require.Len(t, picks, 4)

	seenVendor := make(map[string]bool)
	for _, p := range picks {
		require.False(t, seenVendor[p.Vendor], "vendor %s picked twice before every vendor got one", p.Vendor)
		seenVendor[p.Vendor] = true
	}
}

func TestSortFloatsSortsAscending(t *testing.T) {
	xs := []float64{5, 1, 4, 2, 3}
	sortFloats(xs)
	require.Equal(t, []float64{1, 2, 3, 4, 5}, xs)
}

func TestUniqueIDsDeduplicates(t *testing.T) {
	ids := []persist.DBID{"a", "b", "a"}
	set := uniqueIDs(ids)
	require.Len(t, set, 2)
	require.True(t, set["a"])
	require.True(t, set["b"])
}
