// Package pbcf implements the offline Prefix-Based Collaborative Filter:
// a non-negative matrix factorization over a sparse (prefix, user)->rating
// matrix with hard-imputation of observed entries, refreshed whenever new
// ratings accumulate (SPEC_FULL §4.4). Grounded on
// _examples/original_source/backend/app/ml/pbcf_nmf.py and
// pbcf_nmf_mongo.py, using gonum.org/v1/gonum/mat for the BLAS-backed
// multiplicative update the teacher's go.mod already carries.
package pbcf

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/prefduel/prefduel/persist"
)

const (
	defaultK     = 6
	defaultIters = 40
	defaultSeed  = 42
	eps          = 1e-6
)

// RatingObservation is one resolved (prefix_key, user) -> rating sample,
// deduplicated to the latest timestamp per SPEC_FULL §4.4's build step.
type RatingObservation struct {
	PrefixKey string
	UserID    persist.DBID
	Rating    int
	CreatedAt time.Time
}

// ResolveObservations joins prefix ratings against each session's
// selection chain to compute the prefix key each rating belongs to,
// mandated by SPEC_FULL §9 to be timestamp-ordered (NOT the sorted-id
// join found in the original recommender_mongo.py's recommend()). This is
// split out as a pure function, independent of any document store, so it
// can be exercised directly in tests.
func ResolveObservations(
	sessionUserID map[persist.DBID]persist.DBID,
	selectionsBySession map[persist.DBID][]persist.Selection,
	ratings []persist.PrefixRating,
) []RatingObservation {
	sorted := make([]persist.PrefixRating, len(ratings))
	copy(sorted, ratings)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	type obsKey struct {
		prefixKey string
		userID    persist.DBID
	}
	latest := make(map[obsKey]RatingObservation)

	for _, rating := range sorted {
		userID, ok := sessionUserID[rating.SessionID]
		if !ok {
			continue
		}

		chain := make([]persist.Selection, 0, len(selectionsBySession[rating.SessionID]))
		for _, sel := range selectionsBySession[rating.SessionID] {
			if !sel.CreatedAt.After(rating.CreatedAt) {
				chain = append(chain, sel)
			}
		}
		if len(chain) == 0 {
			continue
		}
		sort.SliceStable(chain, func(i, j int) bool { return chain[i].CreatedAt.Before(chain[j].CreatedAt) })

		ids := make([]string, len(chain))
		for i, sel := range chain {
			ids[i] = string(sel.ProductID)
		}
		prefixKey := strings.Join(ids, "-")

		k := obsKey{prefixKey: prefixKey, userID: userID}
		if prev, exists := latest[k]; !exists || rating.CreatedAt.After(prev.CreatedAt) {
			latest[k] = RatingObservation{
				PrefixKey: prefixKey,
				UserID:    userID,
				Rating:    rating.Rating,
				CreatedAt: rating.CreatedAt,
			}
		}
	}

	result := make([]RatingObservation, 0, len(latest))
	for _, obs := range latest {
		result = append(result, obs)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PrefixKey != result[j].PrefixKey {
			return result[i].PrefixKey < result[j].PrefixKey
		}
		return result[i].UserID < result[j].UserID
	})
	return result
}

// artifacts is the built, dense ratings matrix and its observed-entry
// mask, ready for factorization.
type artifacts struct {
	prefixKeys []string
	userIDs    []persist.DBID
	ratings    *mat.Dense // P x U, 0 where unobserved
	mask       *mat.Dense // P x U, 1 where observed, 0 otherwise
}

func buildArtifacts(observations []RatingObservation) *artifacts {
	if len(observations) == 0 {
		return nil
	}

	prefixIndex := make(map[string]int)
	var prefixKeys []string
	userIndex := make(map[persist.DBID]int)
	var userIDs []persist.DBID

	for _, obs := range observations {
		if _, ok := prefixIndex[obs.PrefixKey]; !ok {
			prefixIndex[obs.PrefixKey] = len(prefixKeys)
			prefixKeys = append(prefixKeys, obs.PrefixKey)
		}
		if _, ok := userIndex[obs.UserID]; !ok {
			userIndex[obs.UserID] = len(userIDs)
			userIDs = append(userIDs, obs.UserID)
		}
	}

	p, u := len(prefixKeys), len(userIDs)
	if p == 0 || u == 0 {
		return nil
	}

	ratings := mat.NewDense(p, u, nil)
	mask := mat.NewDense(p, u, nil)
	for _, obs := range observations {
		i, j := prefixIndex[obs.PrefixKey], userIndex[obs.UserID]
		ratings.Set(i, j, float64(obs.Rating))
		mask.Set(i, j, 1)
	}

	return &artifacts{prefixKeys: prefixKeys, userIDs: userIDs, ratings: ratings, mask: mask}
}

// hardImpute sets r[i][j] = r0[i][j] wherever mask[i][j] == 1, leaving the
// factorization's own estimate everywhere else. This is the step that
// makes R'[mask] == R[mask] hold at every iteration (SPEC_FULL §8).
func hardImpute(r, r0, mask *mat.Dense) {
	rows, cols := r.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if mask.At(i, j) != 0 {
				r.Set(i, j, r0.At(i, j))
			}
		}
	}
}

func addEpsDense(m *mat.Dense) {
	m.Apply(func(i, j int, v float64) float64 { return v + eps }, m)
}

func randomDense(rng *rand.Rand, rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.Float64() + 0.1
	}
	return mat.NewDense(rows, cols, data)
}

func randomVec(rng *rand.Rand, n int) *mat.VecDense {
	data := make([]float64, n)
	for i := range data {
		data[i] = rng.Float64() + 0.1
	}
	return mat.NewVecDense(n, data)
}

func clampDense(m *mat.Dense, lo, hi float64) {
	m.Apply(func(i, j int, v float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}, m)
}

// Stats summarizes the engine's current fit for the debug surface
// (SPEC_FULL §6, GET /api/debug/pbcf), grounded on pbcf_nmf_mongo.py's
// get_stats().
type Stats struct {
	Trained      bool    `json:"trained"`
	PrefixCount  int     `json:"prefix_count"`
	UserCount    int     `json:"user_count"`
	RatingsCount int     `json:"ratings_count"`
	MissingRatio float64 `json:"missing_ratio"`
	LatentDim    int     `json:"latent_dim"`
}

// Engine owns the current factorization and knows whether it's stale
// relative to the observed rating count (SPEC_FULL §4.4 refresh policy).
type Engine struct {
	K     int
	Iters int
	Seed  int64

	mu                 sync.RWMutex
	art                *artifacts
	w, h               *mat.Dense
	trainedRatingCount int
}

// New returns an untrained Engine with the spec's default hyperparameters.
func New() *Engine {
	return &Engine{K: defaultK, Iters: defaultIters, Seed: defaultSeed}
}

// NeedsRetrain reports whether the observed rating count has changed
// since the last Train call.
func (e *Engine) NeedsRetrain(observationCount int) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return observationCount != e.trainedRatingCount
}

// Train fits W, H from scratch against the given resolved observations.
// Call with ResolveObservations' output. A nil/empty observation set
// leaves the engine untrained.
func (e *Engine) Train(observations []RatingObservation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.trainedRatingCount = len(observations)
	art := buildArtifacts(observations)
	if art == nil {
		e.art = nil
		e.w = nil
		e.h = nil
		return
	}

	p, u := len(art.prefixKeys), len(art.userIDs)
	k := e.K
	minDim := p
	if u < minDim {
		minDim = u
	}
	bound := minDim
	if bound < 2 {
		bound = 2
	}
	if k > bound {
		k = bound
	}

	rng := rand.New(rand.NewSource(e.Seed))
	w := randomDense(rng, p, k)
	h := randomDense(rng, k, u)

	for iter := 0; iter < e.Iters; iter++ {
		r := new(mat.Dense)
		r.Mul(w, h)
		hardImpute(r, art.ratings, art.mask)

		var wt mat.Dense
		wt.CloneFrom(w.T())

		numH := new(mat.Dense)
		numH.Mul(&wt, r)
		wtw := new(mat.Dense)
		wtw.Mul(&wt, w)
		denomH := new(mat.Dense)
		denomH.Mul(wtw, h)
		addEpsDense(denomH)
		ratioH := new(mat.Dense)
		ratioH.DivElem(numH, denomH)
		newH := new(mat.Dense)
		newH.MulElem(h, ratioH)
		h = newH

		var ht mat.Dense
		ht.CloneFrom(h.T())
		numW := new(mat.Dense)
		numW.Mul(r, &ht)
		hht := new(mat.Dense)
		hht.Mul(h, &ht)
		denomW := new(mat.Dense)
		denomW.Mul(w, hht)
		addEpsDense(denomW)
		ratioW := new(mat.Dense)
		ratioW.DivElem(numW, denomW)
		newW := new(mat.Dense)
		newW.MulElem(w, ratioW)
		w = newW
	}

	e.art = art
	e.w = w
	e.h = h
}

// PredictUserRatings folds a known user in against the trained W, H to
// predict their rating for every observed prefix key (SPEC_FULL §4.4
// predict step). Returns nil if the engine is untrained or the user
// never appeared in training.
func (e *Engine) PredictUserRatings(userID persist.DBID) map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.art == nil || e.w == nil {
		return nil
	}

	userIdx := -1
	for i, id := range e.art.userIDs {
		if id == userID {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		return nil
	}

	p, k := e.w.Dims()
	r0 := mat.NewVecDense(p, nil)
	mask := mat.NewVecDense(p, nil)
	for i := 0; i < p; i++ {
		r0.SetVec(i, e.art.ratings.At(i, userIdx))
		mask.SetVec(i, e.art.mask.At(i, userIdx))
	}

	rng := rand.New(rand.NewSource(e.Seed))
	h := randomVec(rng, k)

	for iter := 0; iter < e.Iters; iter++ {
		r := new(mat.VecDense)
		r.MulVec(e.w, h)
		for i := 0; i < p; i++ {
			if mask.AtVec(i) != 0 {
				r.SetVec(i, r0.AtVec(i))
			}
		}

		var wt mat.Dense
		wt.CloneFrom(e.w.T())
		num := new(mat.VecDense)
		num.MulVec(&wt, r)

		wtw := new(mat.Dense)
		wtw.Mul(&wt, e.w)
		denom := new(mat.VecDense)
		denom.MulVec(wtw, h)
		for i := 0; i < k; i++ {
			denom.SetVec(i, denom.AtVec(i)+eps)
		}

		ratio := new(mat.VecDense)
		ratio.DivElemVec(num, denom)
		newH := new(mat.VecDense)
		newH.MulElemVec(h, ratio)
		h = newH
	}

	pred := new(mat.VecDense)
	pred.MulVec(e.w, h)
	predDense := mat.DenseCopyOf(pred)
	clampDense(predDense, 1, 5)

	result := make(map[string]float64, p)
	for i, key := range e.art.prefixKeys {
		result[key] = predDense.At(i, 0)
	}
	return result
}

// Stats reports the current fit for the debug endpoint.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.art == nil {
		return Stats{Trained: false}
	}

	p, u := len(e.art.prefixKeys), len(e.art.userIDs)
	total := p * u
	observed := 0
	for i := 0; i < p; i++ {
		for j := 0; j < u; j++ {
			if e.art.mask.At(i, j) != 0 {
				observed++
			}
		}
	}
	missing := 0.0
	if total > 0 {
		missing = 1 - float64(observed)/float64(total)
	}
	latentDim := 0
	if e.w != nil {
		_, latentDim = e.w.Dims()
	}

	return Stats{
		Trained:      true,
		PrefixCount:  p,
		UserCount:    u,
		RatingsCount: e.trainedRatingCount,
		MissingRatio: missing,
		LatentDim:    latentDim,
	}
}
