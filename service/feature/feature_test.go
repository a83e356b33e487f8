package feature

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prefduel/prefduel/persist"
)

func floatPtr(v float64) *float64 { return &v }

func pen(id, vendor string, priceMin float64) *persist.Product {
	return &persist.Product{
		ID:       persist.DBID(id),
		Category: "fountain_pens",
		Vendor:   vendor,
		Tags:     []string{"blue"},
		PriceMin: floatPtr(priceMin),
		PriceMax: floatPtr(priceMin + 10),
	}
}

func TestBuildIsDeterministicAcrossInputOrder(t *testing.T) {
	items := []*persist.Product{pen("b", "Pilot", 20), pen("a", "Lamy", 40)}
	reversed := []*persist.Product{items[1], items[0]}

	s1, err := Build(1, items)
	require.NoError(t, err)
	s2, err := Build(1, reversed)
	require.NoError(t, err)

	require.Equal(t, s1.Reverse, s2.Reverse)
	require.Equal(t, s1.Index, s2.Index)
}

func TestBuildRejectsMissingCategory(t *testing.T) {
	items := []*persist.Product{{ID: "a"}}
	_, err := Build(1, items)
	require.Error(t, err)
}

func TestVectorizeSetsTokenAndNumericDimensions(t *testing.T) {
	items := []*persist.Product{pen("a", "Pilot", 20), pen("b", "Lamy", 40)}
	space, err := Build(1, items)
	require.NoError(t, err)

	vec, err := space.Vectorize(items[0])
	require.NoError(t, err)
	require.Equal(t, space.Width(), vec.Len())

	vendorIdx, ok := space.Index["cat::fountain_pens::cat::vendor::pilot"]
	require.True(t, ok)
	require.Equal(t, 1.0, vec.AtVec(vendorIdx))

	otherVendorIdx := space.Index["cat::fountain_pens::cat::vendor::lamy"]
	require.Equal(t, 0.0, vec.AtVec(otherVendorIdx))

	priceIdx, ok := space.Index["cat::fountain_pens::num::price_min_z"]
	require.True(t, ok)
	require.NotEqual(t, 0.0, vec.AtVec(priceIdx))
}

func TestVectorizeDenseMatchesSparse(t *testing.T) {
	items := []*persist.Product{pen("a", "Pilot", 20)}
	space, err := Build(1, items)
	require.NoError(t, err)

	sv, err := space.Vectorize(items[0])
	require.NoError(t, err)
	dv, err := space.VectorizeDense(items[0])
	require.NoError(t, err)

	for i := 0; i < space.Width(); i++ {
		require.Equal(t, sv.AtVec(i), dv.AtVec(i))
	}
}

func TestConstantNumericFieldGetsUnitStddev(t *testing.T) {
	items := []*persist.Product{pen("a", "Pilot", 20), pen("b", "Lamy", 20)}
	space, err := Build(1, items)
	require.NoError(t, err)

	stat := space.NumericStats["cat::fountain_pens::num::price_min_z"]
	require.Equal(t, 1.0, stat.Stddev)
	require.Equal(t, 20.0, stat.Mean)
}
