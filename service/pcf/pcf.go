// Package pcf implements the Prefix Collaborative Filter: the per-session
// online preference profile that absorbs each selection/rating and scores
// candidate items (SPEC_FULL §4.3), grounded on
// _examples/original_source/backend/app/ml/prefix_cf.py's PrefixCFModel
// and on service/recommend/koala/koala.go's cosineSimilarity idiom (sparse
// Dot/Norm over the mat.Vector interface, which dense vectors satisfy too).
package pcf

import (
	"math"
	"sort"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/prefduel/prefduel/persist"
	"github.com/prefduel/prefduel/service/category"
	"github.com/prefduel/prefduel/service/feature"
)

// Tuning constants for hidden-preference discovery. The source toggled
// these between two copies of the model; SPEC_FULL §9 fixes the stricter
// values.
const (
	HiddenMinWeight     = 0.15
	HiddenMinLatency    = 0.10
	HiddenMinSelections = 3
)

const (
	defaultDecay           = 0.85
	defaultExceptionWeight = 0.35
)

// Model scores and updates PCF state against one fixed feature Space. A
// Model is created fresh whenever the Recommender rebuilds its Space.
type Model struct {
	Space *feature.Space
}

// New returns a Model bound to the given feature space.
func New(space *feature.Space) *Model {
	return &Model{Space: space}
}

// InitState returns a zeroed PCF state sized to the current feature space.
func (m *Model) InitState() persist.PCFState {
	return persist.PCFState{
		SchemaVersion:       1,
		FeatureSpaceVersion: m.Space.Version,
		UserVec:             make([]float64, m.Space.Width()),
		Bias:                0,
		Count:               0,
		Decay:               defaultDecay,
		ExceptionWeight:     defaultExceptionWeight,
	}
}

// Stale reports whether a stored state was built against a different
// feature space than this Model's, per the invalidation rule of
// SPEC_FULL §5.
func (m *Model) Stale(state persist.PCFState) bool {
	return state.FeatureSpaceVersion != m.Space.Version || len(state.UserVec) != m.Space.Width()
}

func cosineSimilarity(a, b mat.Vector) float64 {
	denom := sparse.Norm(a, 2) * sparse.Norm(b, 2)
	if denom == 0 {
		return 0
	}
	return sparse.Dot(a, b) / denom
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// UpdateWithSelection folds one selection into the user vector:
// user_vec <- decay*user_vec + w*vectorize(item), where w is the state's
// exception_weight if is_exception else 1.0.
func (m *Model) UpdateWithSelection(state *persist.PCFState, item *persist.Product, isException bool) error {
	itemVec, err := m.Space.VectorizeDense(item)
	if err != nil {
		return err
	}

	weight := 1.0
	if isException {
		weight = state.ExceptionWeight
	}

	userVec := mat.NewVecDense(len(state.UserVec), append([]float64(nil), state.UserVec...))
	userVec.ScaleVec(state.Decay, userVec)
	userVec.AddScaledVec(userVec, weight, itemVec)

	state.UserVec = append(state.UserVec[:0], userVec.RawVector().Data...)
	state.Count++
	return nil
}

// PredictPrefixRating estimates the rating the user would give the prefix
// they've built so far, from the magnitude of their accumulated
// preference plus the learned bias correction.
func (m *Model) PredictPrefixRating(state persist.PCFState) float64 {
	userVec := mat.NewVecDense(len(state.UserVec), state.UserVec)
	norm := sparse.Norm(userVec, 2)
	base := 3.0 + 1.5*math.Tanh(norm/3.0) + state.Bias
	return clamp(base, 1.0, 5.0)
}

// UpdateWithPrefixRating nudges bias toward closing the gap between an
// explicit rating and the model's current prediction.
func (m *Model) UpdateWithPrefixRating(state *persist.PCFState, rating int) {
	predicted := m.PredictPrefixRating(*state)
	errorTerm := float64(rating) - predicted
	state.Bias += 0.25 * errorTerm
}

// ScoreItem scores one candidate item vector against the current user
// state via cosine similarity, scaled into the 1..5 rating range.
func (m *Model) ScoreItem(state persist.PCFState, itemVec mat.Vector) float64 {
	userVec := mat.NewVecDense(len(state.UserVec), state.UserVec)
	similarity := cosineSimilarity(userVec, itemVec)
	return clamp(3.0+1.7*similarity+state.Bias, 1.0, 5.0)
}

// CoherenceScore is the mean pairwise cosine similarity across a set of
// item vectors, rescaled to [0,1]. Fewer than two vectors yields 0.
func (m *Model) CoherenceScore(itemVecs []mat.Vector) float64 {
	if len(itemVecs) < 2 {
		return 0
	}
	var total float64
	var count int
	for i := 0; i < len(itemVecs); i++ {
		for j := i + 1; j < len(itemVecs); j++ {
			denom := sparse.Norm(itemVecs[i], 2) * sparse.Norm(itemVecs[j], 2)
			if denom == 0 {
				continue
			}
			total += sparse.Dot(itemVecs[i], itemVecs[j]) / denom
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return (total/float64(count) + 1.0) / 2.0
}

// HiddenPreference is one feature the user's profile accumulated
// incidentally rather than through deliberate selection density.
type HiddenPreference struct {
	Feature string  `json:"feature"`
	Latency float64 `json:"latency"`
	Weight  float64 `json:"weight"`
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// DetectHiddenPreferences implements the latency algorithm of SPEC_FULL
// §4.3.1: features whose weight in user_vec outstrips how often the user's
// own selections actually carried that feature are "hidden" — reinforced
// by co-occurrence via the decay term rather than targeted directly.
func (m *Model) DetectHiddenPreferences(state persist.PCFState, selectedItems []*persist.Product, topN int) ([]HiddenPreference, error) {
	if state.Count < HiddenMinSelections || len(selectedItems) == 0 {
		return nil, nil
	}

	n := m.Space.Width()
	if n == 0 {
		return nil, nil
	}

	absVec := make([]float64, n)
	maxVal := 0.0
	for i, v := range state.UserVec {
		a := math.Abs(v)
		absVec[i] = a
		if a > maxVal {
			maxVal = a
		}
	}
	if maxVal == 0 {
		return nil, nil
	}

	freqVec := make([]float64, n)
	for _, item := range selectedItems {
		vec, err := m.Space.Vectorize(item)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			if vec.AtVec(i) != 0 {
				freqVec[i]++
			}
		}
	}
	nSel := float64(len(selectedItems))
	for i := range freqVec {
		freqVec[i] /= nSel
	}

	var results []HiddenPreference
	for idx := 0; idx < n; idx++ {
		prefWeight := absVec[idx] / maxVal
		latency := prefWeight - freqVec[idx]
		if prefWeight < HiddenMinWeight || latency < HiddenMinLatency {
			continue
		}
		fname := m.Space.Reverse[idx]
		if category.IsNumericFeatureKey(fname) {
			continue
		}
		results = append(results, HiddenPreference{
			Feature: fname,
			Latency: round4(latency),
			Weight:  round4(prefWeight),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Latency > results[j].Latency })
	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

// HiddenGem is a non-selected catalog item that scores highly against the
// user's hidden-preference dimensions alone.
type HiddenGem struct {
	Score           float64
	Product         *persist.Product
	MatchedFeatures []string
}

// GetHiddenGemProducts implements SPEC_FULL §4.3.2: mask user_vec down to
// the hidden-feature dimensions, then rank non-selected catalog items by
// cosine similarity to that masked vector, requiring at least one matched
// hidden feature.
func (m *Model) GetHiddenGemProducts(state persist.PCFState, selectedItems, allItems []*persist.Product, topN int) ([]HiddenGem, error) {
	hidden, err := m.DetectHiddenPreferences(state, selectedItems, 10)
	if err != nil || len(hidden) == 0 {
		return nil, err
	}

	n := m.Space.Width()
	hiddenIndices := make(map[int]string, len(hidden))
	for _, h := range hidden {
		if idx, ok := m.Space.Index[h.Feature]; ok {
			hiddenIndices[idx] = h.Feature
		}
	}

	hiddenVecData := make([]float64, n)
	for idx := range hiddenIndices {
		if idx < len(state.UserVec) {
			hiddenVecData[idx] = state.UserVec[idx]
		}
	}
	hiddenVec := mat.NewVecDense(n, hiddenVecData)
	hiddenNorm := sparse.Norm(hiddenVec, 2)
	if hiddenNorm == 0 {
		return nil, nil
	}

	selected := make(map[persist.DBID]bool, len(selectedItems))
	for _, p := range selectedItems {
		selected[p.ID] = true
	}

	var scored []HiddenGem
	for _, product := range allItems {
		if selected[product.ID] {
			continue
		}
		itemVec, err := m.Space.Vectorize(product)
		if err != nil {
			return nil, err
		}
		itemNorm := sparse.Norm(itemVec, 2)
		if itemNorm == 0 {
			continue
		}
		sim := sparse.Dot(hiddenVec, itemVec) / (hiddenNorm * itemNorm)

		var matched []string
		for idx, fname := range hiddenIndices {
			if itemVec.AtVec(idx) != 0 {
				matched = append(matched, fname)
			}
		}
		if len(matched) == 0 {
			continue
		}
		scored = append(scored, HiddenGem{Score: sim, Product: product, MatchedFeatures: matched})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topN > 0 && len(scored) > topN {
		scored = scored[:topN]
	}
	return scored, nil
}
