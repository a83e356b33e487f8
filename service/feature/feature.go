// Package feature builds the deterministic feature index over a catalog
// and vectorizes individual products against it (SPEC_FULL §4.2), grounded
// on _examples/original_source/backend/app/ml/prefix_cf.py's FeatureSpace
// and on service/recommend/koala/koala.go's sparse-vector scoring idiom.
package feature

import (
	"fmt"
	"math"
	"sort"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/prefduel/prefduel/persist"
	"github.com/prefduel/prefduel/service/apperror"
	"github.com/prefduel/prefduel/service/category"
)

// Stat is the running mean/stddev of one numeric feature across a catalog.
type Stat struct {
	Mean   float64
	Stddev float64
}

// Space is the feature index built from one catalog snapshot. It is
// immutable once built; a new catalog snapshot produces a new Space with a
// new Version, never a mutation of an existing one (the versioned-swap
// design of SPEC_FULL §5).
type Space struct {
	Version      int64
	Index        map[string]int
	Reverse      []string
	NumericStats map[string]Stat
}

// Width is the dimensionality of any vector produced against this Space.
func (s *Space) Width() int {
	return len(s.Reverse)
}

// Build constructs a Space from a catalog. Items are iterated in stable id
// order so that two independent builds over the same catalog (by id) yield
// an identical feature index, per the determinism contract in SPEC_FULL
// §4.2 and §8.
func Build(version int64, items []*persist.Product) (*Space, error) {
	sorted := make([]*persist.Product, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	index := make(map[string]int)
	var reverse []string
	add := func(tok string) {
		if _, ok := index[tok]; !ok {
			index[tok] = len(reverse)
			reverse = append(reverse, tok)
		}
	}

	numericSamples := make(map[string][]float64)
	var numericKeyOrder []string
	seenNumericKey := make(map[string]bool)

	for _, it := range sorted {
		if it.Category == "" {
			return nil, apperror.SchemaError{Reason: fmt.Sprintf("product %s missing category", it.ID)}
		}
		profile, err := category.Get(it.Category)
		if err != nil {
			return nil, apperror.SchemaError{Reason: err.Error()}
		}
		tokens, numerics := category.ExtractTokensAndNumerics(it, profile)
		for _, tok := range tokens {
			add(tok)
		}
		numericKeys := make([]string, 0, len(numerics))
		for key := range numerics {
			numericKeys = append(numericKeys, key)
		}
		sort.Strings(numericKeys)
		for _, key := range numericKeys {
			if !seenNumericKey[key] {
				seenNumericKey[key] = true
				numericKeyOrder = append(numericKeyOrder, key)
			}
			numericSamples[key] = append(numericSamples[key], numerics[key])
		}
	}

	stats := make(map[string]Stat, len(numericKeyOrder))
	for _, key := range numericKeyOrder {
		samples := numericSamples[key]
		mean := meanOf(samples)
		stddev := stddevOf(samples, mean)
		if stddev == 0 {
			stddev = 1
		}
		stats[key] = Stat{Mean: mean, Stddev: stddev}
		add(key)
	}

	return &Space{Version: version, Index: index, Reverse: reverse, NumericStats: stats}, nil
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

// Vectorize maps a product into a sparse vector over this Space: 1.0 for
// each present token, (value-mean)/stddev for each present numeric
// feature, 0 elsewhere. It returns a *sparse.Vector (rather than a dense
// one) because most tokens are absent for any given item — the scoring
// hot path in service/pcf and service/recommend runs this over every
// uncompleted candidate in the catalog.
func (s *Space) Vectorize(item *persist.Product) (*sparse.Vector, error) {
	profile, err := category.Get(item.Category)
	if err != nil {
		return nil, apperror.SchemaError{Reason: err.Error()}
	}
	tokens, numerics := category.ExtractTokensAndNumerics(item, profile)

	var indices []int
	var data []float64
	seen := make(map[int]bool)

	set := func(idx int, value float64) {
		if seen[idx] {
			return
		}
		seen[idx] = true
		indices = append(indices, idx)
		data = append(data, value)
	}

	for _, tok := range tokens {
		if idx, ok := s.Index[tok]; ok {
			set(idx, 1.0)
		}
	}
	for key, value := range numerics {
		if idx, ok := s.Index[key]; ok {
			stat := s.NumericStats[key]
			set(idx, (value-stat.Mean)/stat.Stddev)
		}
	}

	return sparse.NewVector(s.Width(), indices, data), nil
}

// VectorizeDense is the same mapping as Vectorize but materialized as a
// dense *mat.VecDense, used where the caller needs elementwise arithmetic
// (the PCF user_vec decay update in service/pcf).
func (s *Space) VectorizeDense(item *persist.Product) (*mat.VecDense, error) {
	sv, err := s.Vectorize(item)
	if err != nil {
		return nil, err
	}
	dense := mat.NewVecDense(s.Width(), nil)
	for i := 0; i < s.Width(); i++ {
		dense.SetVec(i, sv.AtVec(i))
	}
	return dense, nil
}
