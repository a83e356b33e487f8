package category

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	id, err := Normalize("")
	require.NoError(t, err)
	require.Equal(t, DefaultCategory, id)

	id, err = Normalize(" Movies ")
	require.NoError(t, err)
	require.Equal(t, "movies", id)

	_, err = Normalize("vinyl_records")
	require.Error(t, err)
	require.IsType(t, UnsupportedCategoryError{}, err)
}

func TestIsNumericFeatureKey(t *testing.T) {
	require.True(t, IsNumericFeatureKey("cat::movies::num::release_year_z"))
	require.False(t, IsNumericFeatureKey("cat::movies::cat::primary_country::usa"))
}

func TestHumanizeFeatureVendor(t *testing.T) {
	label, ok := HumanizeFeature("cat::fountain_pens::cat::vendor::pilot")
	require.True(t, ok)
	require.Equal(t, "Pilot", label)
}

func TestHumanizeFeatureFieldSuffix(t *testing.T) {
	label, ok := HumanizeFeature("cat::movies::cat::primary_country::usa")
	require.True(t, ok)
	require.Equal(t, "Usa Country", label)
}

func TestHumanizeFeatureOption(t *testing.T) {
	label, ok := HumanizeFeature("cat::fountain_pens::multi::option::nib_size|fine")
	require.True(t, ok)
	require.Equal(t, "Fine Nib Size", label)
}

func TestHumanizeFeatureRedundantToken(t *testing.T) {
	_, ok := HumanizeFeature("cat::fountain_pens::multi::tags::fountain_pen")
	require.False(t, ok)
}

func TestHumanizeFeatureNumericIsNotHumanized(t *testing.T) {
	_, ok := HumanizeFeature("cat::movies::num::release_year_z")
	require.False(t, ok)
}

func TestNumericPreferenceLabelSignsBySign(t *testing.T) {
	require.Equal(t, "Higher Price Range", NumericPreferenceLabel("cat::fountain_pens::num::price_min_z", 0.4))
	require.Equal(t, "Lower Price Range", NumericPreferenceLabel("cat::fountain_pens::num::price_min_z", -0.4))
	require.Equal(t, "Newer Releases", NumericPreferenceLabel("cat::movies::num::release_year_z", 0.2))
	require.Equal(t, "Older Releases", NumericPreferenceLabel("cat::movies::num::release_year_z", -0.2))
	require.Equal(t, "Popular Titles", NumericPreferenceLabel("cat::movies::num::popularity_z", 0.1))
}

type fakeItem struct {
	strings map[string]string
	multi   map[string][]string
	options map[string][]string
	numeric map[string]float64
}

func (f fakeItem) StringField(field string) string    { return f.strings[field] }
func (f fakeItem) MultiField(field string) []string   { return f.multi[field] }
func (f fakeItem) OptionsField() map[string][]string  { return f.options }
func (f fakeItem) NumericField(field string) (float64, bool) {
	v, ok := f.numeric[field]
	return v, ok
}

func TestExtractTokensAndNumericsFountainPens(t *testing.T) {
	profile, err := Get("fountain_pens")
	require.NoError(t, err)

	price := 120.0
	item := fakeItem{
		strings: map[string]string{"vendor": "Pilot", "product_type": "Fountain Pen"},
		multi:   map[string][]string{"tags": {"Blue", "fountain pen"}},
		options: map[string][]string{"Nib Size": {"Fine"}},
		numeric: map[string]float64{"price_min": price},
	}

	tokens, numerics := ExtractTokensAndNumerics(item, profile)

	require.Contains(t, tokens, "cat::fountain_pens::cat::vendor::pilot")
	require.Contains(t, tokens, "cat::fountain_pens::multi::tags::blue")
	require.Contains(t, tokens, "cat::fountain_pens::multi::tags::fountain pen")
	require.Contains(t, tokens, "cat::fountain_pens::multi::option::nib size|fine")
	require.Equal(t, price, numerics["cat::fountain_pens::num::price_min_z"])
}
