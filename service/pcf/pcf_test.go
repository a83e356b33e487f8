package pcf

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/prefduel/prefduel/persist"
	"github.com/prefduel/prefduel/service/feature"
)

func floatPtr(v float64) *float64 { return &v }

func pen(id, vendor string, priceMin float64, tags ...string) *persist.Product {
	return &persist.Product{
		ID:       persist.DBID(id),
		Category: "fountain_pens",
		Vendor:   vendor,
		Tags:     tags,
		PriceMin: floatPtr(priceMin),
		PriceMax: floatPtr(priceMin + 10),
	}
}

func buildModel(t *testing.T, items []*persist.Product) *Model {
	t.Helper()
	space, err := feature.Build(1, items)
	require.NoError(t, err)
	return New(space)
}

func TestInitStateIsSizedToSpace(t *testing.T) {
	items := []*persist.Product{pen("a", "Pilot", 20, "blue"), pen("b", "Lamy", 40, "black")}
	m := buildModel(t, items)
	state := m.InitState()
	require.Equal(t, m.Space.Width(), len(state.UserVec))
	require.Equal(t, int64(1), state.FeatureSpaceVersion)
	require.False(t, m.Stale(state))
}

func TestStaleDetectsVersionMismatch(t *testing.T) {
	items := []*persist.Product{pen("a", "Pilot", 20, "blue")}
	m := buildModel(t, items)
	state := m.InitState()
	state.FeatureSpaceVersion = 999
	require.True(t, m.Stale(state))
}

func TestUpdateWithSelectionIncrementsCountAndBendsVecTowardItem(t *testing.T) {
	items := []*persist.Product{pen("a", "Pilot", 20, "blue"), pen("b", "Lamy", 40, "black")}
	m := buildModel(t, items)
	state := m.InitState()

	err := m.UpdateWithSelection(&state, items[0], false)
	require.NoError(t, err)
	require.Equal(t, 1, state.Count)

	itemVec, err := m.Space.Vectorize(items[0])
	require.NoError(t, err)
	score := m.ScoreItem(state, itemVec)
	require.Greater(t, score, 3.0)
}

func TestUpdateWithSelectionExceptionWeightDampensMagnitude(t *testing.T) {
	items := []*persist.Product{pen("a", "Pilot", 20, "blue"), pen("b", "Lamy", 40, "black")}

	full := buildModel(t, items)
	fullState := full.InitState()
	require.NoError(t, full.UpdateWithSelection(&fullState, items[0], false))

	exc := buildModel(t, items)
	excState := exc.InitState()
	require.NoError(t, exc.UpdateWithSelection(&excState, items[0], true))

	var fullNorm, excNorm float64
	for i := range fullState.UserVec {
		fullNorm += fullState.UserVec[i] * fullState.UserVec[i]
		excNorm += excState.UserVec[i] * excState.UserVec[i]
	}
	require.Less(t, excNorm, fullNorm)
}

func TestPredictPrefixRatingClampedToRange(t *testing.T) {
	items := []*persist.Product{pen("a", "Pilot", 20, "blue")}
	m := buildModel(t, items)
	state := m.InitState()

	rating := m.PredictPrefixRating(state)
	require.GreaterOrEqual(t, rating, 1.0)
	require.LessOrEqual(t, rating, 5.0)
}

func TestUpdateWithPrefixRatingMovesBiasTowardRating(t *testing.T) {
	items := []*persist.Product{pen("a", "Pilot", 20, "blue")}
	m := buildModel(t, items)
	state := m.InitState()

	before := m.PredictPrefixRating(state)
	m.UpdateWithPrefixRating(&state, 5)
	after := m.PredictPrefixRating(state)
	require.Greater(t, after, before)
}

func TestCoherenceScoreRequiresAtLeastTwoVectors(t *testing.T) {
	items := []*persist.Product{pen("a", "Pilot", 20, "blue"), pen("b", "Lamy", 40, "black")}
	m := buildModel(t, items)

	oneVec, err := m.Space.Vectorize(items[0])
	require.NoError(t, err)
	require.Equal(t, 0.0, m.CoherenceScore([]mat.Vector{oneVec}))

	otherVec, err := m.Space.Vectorize(items[1])
	require.NoError(t, err)
	score := m.CoherenceScore([]mat.Vector{oneVec, otherVec})
	require.GreaterOrEqual(t, score, 0.0)
	require.LessOrEqual(t, score, 1.0)
}

func TestDetectHiddenPreferencesRequiresMinimumSelections(t *testing.T) {
	items := []*persist.Product{
		pen("a", "Pilot", 20, "blue"),
		pen("b", "Lamy", 40, "black"),
		pen("c", "Pelikan", 60, "red"),
	}
	m := buildModel(t, items)
	state := m.InitState()
	require.NoError(t, m.UpdateWithSelection(&state, items[0], false))

	hidden, err := m.DetectHiddenPreferences(state, items[:1], 5)
	require.NoError(t, err)
	require.Nil(t, hidden)
}
