// Package recommend holds the Recommender: the single shared facade over
// the current feature space, online PCF model, and offline PBCF engine
// (SPEC_FULL §4.5/§5), grounded on _examples/original_source/backend/app/
// services/recommender_mongo.py's RecommenderMongo, using the teacher's
// AddTo/For context-accessor pair and Run(ctx, ticker) background-refresh
// loop idiom from service/recommend/recommend.go and
// service/recommend/koala/koala_common.go.
package recommend

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/gammazero/workerpool"
	"github.com/gin-gonic/gin"
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/prefduel/prefduel/persist"
	"github.com/prefduel/prefduel/persist/mongodb"
	"github.com/prefduel/prefduel/service/apperror"
	"github.com/prefduel/prefduel/service/feature"
	"github.com/prefduel/prefduel/service/logger"
	"github.com/prefduel/prefduel/service/pbcf"
	"github.com/prefduel/prefduel/service/pcf"
	"github.com/prefduel/prefduel/util"
)

const contextKey = "recommend.instance"

// AddTo stashes the Recommender singleton on a *gin.Context, mirroring the
// teacher's per-request accessor pattern for long-lived singletons.
func AddTo(c *gin.Context, r *Recommender) {
	c.Set(contextKey, r)
}

// For recovers the Recommender stashed by AddTo on the request this
// context descends from. Panics if none was stashed.
func For(ctx context.Context) *Recommender {
	gc := util.MustGetGinContext(ctx)
	return gc.Value(contextKey).(*Recommender)
}

// snapshot is the immutable set of artifacts Refresh swaps in atomically.
// Scoring reads always go through Snapshot() rather than touching the
// Recommender's fields directly, so a refresh mid-request can never hand
// back a space paired with the wrong model or item vectors.
type snapshot struct {
	space       *feature.Space
	model       *pcf.Model
	itemVectors map[persist.DBID]*sparse.Vector
	items       map[persist.DBID]*persist.Product
}

// Recommendation is the result of scoring one session's current prefix
// against the catalog (SPEC_FULL §4.5).
type Recommendation struct {
	Strong                []*persist.Product
	Wildcard              *persist.Product
	CoherenceScore        float64
	PredictedPrefixRating float64
}

// Recommender owns the versioned feature space / PCF model / item-vector
// cache, plus the PBCF engine, and knows how to rebuild all of them from
// the current catalog (SPEC_FULL §4.5, §5).
type Recommender struct {
	products *mongodb.ProductRepository
	sessions *mongodb.SessionRepository
	locker   *redislock.Client

	mu   sync.RWMutex
	snap *snapshot
	pbcf *pbcf.Engine

	pbcfRatingCount int
}

// New returns a Recommender with an untrained PBCF engine and no feature
// space; callers must call Refresh before first use.
func New(products *mongodb.ProductRepository, sessions *mongodb.SessionRepository, locker *redislock.Client) *Recommender {
	return &Recommender{
		products: products,
		sessions: sessions,
		locker:   locker,
		pbcf:     pbcf.New(),
	}
}

// Snapshot returns the Recommender's current artifacts, and false if
// Refresh has never completed.
func (r *Recommender) Snapshot() (*snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap, r.snap != nil
}

// Run is the background refresh loop: one tick rebuilds the feature space
// and PCF model from the current catalog and retrains PBCF if the rating
// count moved, serialized across instances via the distributed lock so
// only one process performs the (expensive) rebuild at a time.
func (r *Recommender) Run(ctx context.Context, ticker *time.Ticker) {
	if err := r.Refresh(ctx); err != nil {
		logger.For(ctx).Errorf("initial recommender refresh failed: %s", err)
	}
	go func() {
		for range ticker.C {
			if err := r.Refresh(ctx); err != nil {
				logger.For(ctx).Errorf("recommender refresh failed: %s", err)
			}
		}
	}()
}

// largeCatalogThreshold is the item count past which vectorizing the
// catalog serially during Refresh would noticeably stall the refresh
// cycle, and a worker pool is used instead (SPEC_FULL §5).
const largeCatalogThreshold = 20000
const vectorizeWorkerCount = 8

type vectorizeResult struct {
	product *persist.Product
	vec     *sparse.Vector
	err     error
}

// vectorizeCatalog builds the item-vector cache for every product, serially
// for ordinary-sized catalogs and via a bounded worker pool once the
// catalog is large enough that per-item vectorization's cost adds up.
func vectorizeCatalog(space *feature.Space, products []*persist.Product) (map[persist.DBID]*sparse.Vector, map[persist.DBID]*persist.Product, error) {
	itemVectors := make(map[persist.DBID]*sparse.Vector, len(products))
	items := make(map[persist.DBID]*persist.Product, len(products))

	if len(products) < largeCatalogThreshold {
		for _, p := range products {
			vec, err := space.Vectorize(p)
			if err != nil {
				return nil, nil, err
			}
			itemVectors[p.ID] = vec
			items[p.ID] = p
		}
		return itemVectors, items, nil
	}

	results := make([]vectorizeResult, len(products))
	pool := workerpool.New(vectorizeWorkerCount)
	for i, p := range products {
		i, p := i, p
		pool.Submit(func() {
			vec, err := space.Vectorize(p)
			results[i] = vectorizeResult{product: p, vec: vec, err: err}
		})
	}
	pool.StopWait()

	for _, result := range results {
		if result.err != nil {
			return nil, nil, result.err
		}
		itemVectors[result.product.ID] = result.vec
		items[result.product.ID] = result.product
	}
	return itemVectors, items, nil
}

// Refresh rebuilds the feature space, PCF model, and item-vector cache
// from the full catalog, then retrains PBCF if new ratings have landed
// (SPEC_FULL §5). Held under a cross-process lock so two server instances
// never rebuild concurrently.
func (r *Recommender) Refresh(ctx context.Context) error {
	if r.locker != nil {
		lock, err := r.locker.Obtain(ctx, "recommender-refresh", 2*time.Minute, nil)
		if err == redislock.ErrNotObtained {
			return nil
		}
		if err != nil {
			return err
		}
		defer lock.Release(ctx)
	}

	products, err := r.products.GetAll(ctx)
	if err != nil {
		return err
	}

	r.mu.RLock()
	var version int64 = 1
	if r.snap != nil {
		version = r.snap.space.Version + 1
	}
	r.mu.RUnlock()

	space, err := feature.Build(version, products)
	if err != nil {
		return err
	}

	itemVectors, items, err := vectorizeCatalog(space, products)
	if err != nil {
		return err
	}

	next := &snapshot{
		space:       space,
		model:       pcf.New(space),
		itemVectors: itemVectors,
		items:       items,
	}

	r.mu.Lock()
	r.snap = next
	r.mu.Unlock()

	return r.refreshPBCF(ctx)
}

// refreshPBCF retrains the offline model only when the number of recorded
// prefix ratings has changed since the last train, per SPEC_FULL §4.4's
// retrain-gate.
func (r *Recommender) refreshPBCF(ctx context.Context) error {
	count, err := r.sessions.PrefixRatingCount(ctx)
	if err != nil {
		return err
	}

	r.mu.RLock()
	stale := int(count) != r.pbcfRatingCount
	r.mu.RUnlock()
	if !stale {
		return nil
	}

	observations, err := r.buildObservations(ctx)
	if err != nil {
		return err
	}
	r.pbcf.Train(observations)
	r.mu.Lock()
	r.pbcfRatingCount = int(count)
	r.mu.Unlock()
	return nil
}

// buildObservations joins every recorded prefix rating against its
// session's timestamp-ordered selection chain to resolve the (prefix_key,
// user) -> rating matrix PBCF trains on.
func (r *Recommender) buildObservations(ctx context.Context) ([]pbcf.RatingObservation, error) {
	ratings, err := r.sessions.GetPrefixRatings(ctx)
	if err != nil {
		return nil, err
	}
	if len(ratings) == 0 {
		return nil, nil
	}

	sessionIDs := make([]persist.DBID, 0, len(ratings))
	seen := make(map[persist.DBID]bool)
	for _, rating := range ratings {
		if !seen[rating.SessionID] {
			seen[rating.SessionID] = true
			sessionIDs = append(sessionIDs, rating.SessionID)
		}
	}

	sessionUserID := make(map[persist.DBID]persist.DBID, len(sessionIDs))
	for _, id := range sessionIDs {
		session, err := r.sessions.GetByID(ctx, id)
		if err != nil {
			continue
		}
		sessionUserID[id] = session.UserID
	}

	selectionsBySession, err := r.sessions.GetSelectionsBySessionIDs(ctx, sessionIDs)
	if err != nil {
		return nil, err
	}
	selectionsByValue := make(map[persist.DBID][]persist.Selection, len(selectionsBySession))
	for id, sels := range selectionsBySession {
		deref := make([]persist.Selection, len(sels))
		for i, s := range sels {
			deref[i] = *s
		}
		selectionsByValue[id] = deref
	}

	ratingValues := make([]persist.PrefixRating, len(ratings))
	for i, rt := range ratings {
		ratingValues[i] = *rt
	}

	return pbcf.ResolveObservations(sessionUserID, selectionsByValue, ratingValues), nil
}

// InitState returns a zeroed PCF state sized to the current feature space,
// for a brand new session that has no stored state yet.
func (r *Recommender) InitState() (persist.PCFState, error) {
	snap, ok := r.Snapshot()
	if !ok {
		return persist.PCFState{}, apperror.ModelNotReadyError{}
	}
	return snap.model.InitState(), nil
}

// LoadState returns the session's stored PCF state, initializing a fresh
// one (sized to the current feature space) if the session has none yet or
// its stored state belongs to a now-stale feature space version.
func (r *Recommender) LoadState(session *persist.Session) (persist.PCFState, error) {
	snap, ok := r.Snapshot()
	if !ok {
		return persist.PCFState{}, apperror.ModelNotReadyError{}
	}
	if len(session.State.UserVec) == 0 || snap.model.Stale(session.State) {
		return snap.model.InitState(), nil
	}
	return session.State, nil
}

// UpdateStateWithSelection folds one product selection into state in
// place, without persisting it. Used when a caller needs to apply several
// updates (e.g. service/game's onboarding batch) before a single save.
func (r *Recommender) UpdateStateWithSelection(state *persist.PCFState, item *persist.Product, isException bool) error {
	snap, ok := r.Snapshot()
	if !ok {
		return apperror.ModelNotReadyError{}
	}
	return snap.model.UpdateWithSelection(state, item, isException)
}

// ApplyPrefixRating nudges state's bias term in place, without persisting.
func (r *Recommender) ApplyPrefixRating(state *persist.PCFState, rating int) error {
	snap, ok := r.Snapshot()
	if !ok {
		return apperror.ModelNotReadyError{}
	}
	snap.model.UpdateWithPrefixRating(state, rating)
	return nil
}

// UpdateWithSelection folds one selection into the session's PCF state and
// persists the result.
func (r *Recommender) UpdateWithSelection(ctx context.Context, session *persist.Session, item *persist.Product, isException bool) (persist.PCFState, error) {
	snap, ok := r.Snapshot()
	if !ok {
		return persist.PCFState{}, apperror.ModelNotReadyError{}
	}
	state, err := r.LoadState(session)
	if err != nil {
		return persist.PCFState{}, err
	}
	if err := snap.model.UpdateWithSelection(&state, item, isException); err != nil {
		return persist.PCFState{}, err
	}
	if err := r.sessions.SaveState(ctx, session.ID, state); err != nil {
		return persist.PCFState{}, err
	}
	return state, nil
}

// UpdateWithPrefixRating nudges the session's bias term toward an explicit
// prefix rating and persists the result.
func (r *Recommender) UpdateWithPrefixRating(ctx context.Context, session *persist.Session, rating int) (persist.PCFState, error) {
	snap, ok := r.Snapshot()
	if !ok {
		return persist.PCFState{}, apperror.ModelNotReadyError{}
	}
	state, err := r.LoadState(session)
	if err != nil {
		return persist.PCFState{}, err
	}
	snap.model.UpdateWithPrefixRating(&state, rating)
	if err := r.sessions.SaveState(ctx, session.ID, state); err != nil {
		return persist.PCFState{}, err
	}
	return state, nil
}

// currentPrefixKey reconstructs the session's prefix key from its actual
// timestamp-ordered selection chain. This MUST stay timestamp-ordered, not
// a lexicographic sort of selected ids: the latter is the bug SPEC_FULL §9
// calls out in the original recommend()'s sorted(selected_product_ids)
// join, which silently desynced from the training-time key format.
func currentPrefixKey(selections []*persist.Selection) string {
	ids := make([]string, len(selections))
	for i, sel := range selections {
		ids[i] = string(sel.ProductID)
	}
	return strings.Join(ids, "-")
}

// Recommend scores every unselected catalog item for a session: PBCF's
// fold-in prediction where available, the online PCF model's cosine score
// otherwise, per SPEC_FULL §4.5's scoring precedence.
func (r *Recommender) Recommend(ctx context.Context, session *persist.Session, limit int) (*Recommendation, error) {
	snap, ok := r.Snapshot()
	if !ok {
		return nil, apperror.ModelNotReadyError{}
	}
	state, err := r.LoadState(session)
	if err != nil {
		return nil, err
	}

	selections, err := r.sessions.GetSelections(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	selected := make(map[persist.DBID]bool, len(selections))
	var selectedVecs []mat.Vector
	var selectedItems []*persist.Product
	for _, sel := range selections {
		selected[sel.ProductID] = true
		if vec, ok := snap.itemVectors[sel.ProductID]; ok {
			selectedVecs = append(selectedVecs, vec)
		}
		if item, ok := snap.items[sel.ProductID]; ok {
			selectedItems = append(selectedItems, item)
		}
	}

	predicted := r.pbcf.PredictUserRatings(session.UserID)
	currentPrefix := currentPrefixKey(selections)

	type scoredItem struct {
		score   float64
		product *persist.Product
	}
	var scored []scoredItem
	for id, vec := range snap.itemVectors {
		if selected[id] {
			continue
		}
		product := snap.items[id]
		if product == nil {
			continue
		}

		var prefixKey string
		if currentPrefix != "" {
			prefixKey = currentPrefix + "-" + string(id)
		} else {
			prefixKey = string(id)
		}

		score, ok := predicted[prefixKey]
		if !ok {
			score = snap.model.ScoreItem(state, vec)
		}
		scored = append(scored, scoredItem{score: score, product: product})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].product.ID < scored[j].product.ID
	})

	strongN := limit
	if strongN > len(scored) {
		strongN = len(scored)
	}
	strong := make([]*persist.Product, strongN)
	for i := 0; i < strongN; i++ {
		strong[i] = scored[i].product
	}

	var wildcard *persist.Product
	if len(scored) > 0 {
		tailSize := len(scored) / 8
		if tailSize < 10 {
			tailSize = 10
		}
		if tailSize > len(scored) {
			tailSize = len(scored)
		}
		tail := scored[len(scored)-tailSize:]
		wildcard = tail[rand.Intn(len(tail))].product
	}

	return &Recommendation{
		Strong:                strong,
		Wildcard:              wildcard,
		CoherenceScore:        snap.model.CoherenceScore(selectedVecs),
		PredictedPrefixRating: snap.model.PredictPrefixRating(state),
	}, nil
}

// PBCFStats reports the offline model's current fit for the debug surface.
func (r *Recommender) PBCFStats(ctx context.Context) (pbcf.Stats, error) {
	if err := r.refreshPBCF(ctx); err != nil {
		return pbcf.Stats{}, err
	}
	return r.pbcf.Stats(), nil
}

// HiddenPreferences surfaces the session's hidden (latent) preference
// features, grounded on pcf.Model.DetectHiddenPreferences.
func (r *Recommender) HiddenPreferences(session *persist.Session, selectedItems []*persist.Product, topN int) ([]pcf.HiddenPreference, error) {
	snap, ok := r.Snapshot()
	if !ok {
		return nil, apperror.ModelNotReadyError{}
	}
	return snap.model.DetectHiddenPreferences(session.State, selectedItems, topN)
}

// HiddenGems surfaces catalog items that score highly against the
// session's hidden-preference dimensions alone.
func (r *Recommender) HiddenGems(session *persist.Session, selectedItems []*persist.Product, topN int) ([]pcf.HiddenGem, error) {
	snap, ok := r.Snapshot()
	if !ok {
		return nil, apperror.ModelNotReadyError{}
	}
	allItems := make([]*persist.Product, 0, len(snap.items))
	for _, item := range snap.items {
		allItems = append(allItems, item)
	}
	return snap.model.GetHiddenGemProducts(session.State, selectedItems, allItems, topN)
}

// ScoredProduct pairs a product with its PCF score against some state.
type ScoredProduct struct {
	Product *persist.Product
	Score   float64
}

// ScoreProducts scores every given product against state, for game's
// round-candidate ranking and pick resolution. It prefers the current
// snapshot's cached item vector and falls back to vectorizing fresh for a
// product outside it (e.g. fetched between refreshes).
func (r *Recommender) ScoreProducts(state persist.PCFState, products []*persist.Product) ([]ScoredProduct, error) {
	snap, ok := r.Snapshot()
	if !ok {
		return nil, apperror.ModelNotReadyError{}
	}
	out := make([]ScoredProduct, len(products))
	for i, p := range products {
		vec, cached := snap.itemVectors[p.ID]
		if !cached {
			var err error
			vec, err = snap.space.Vectorize(p)
			if err != nil {
				return nil, err
			}
		}
		out[i] = ScoredProduct{Product: p, Score: snap.model.ScoreItem(state, vec)}
	}
	return out, nil
}

// CoherenceScore is the mean pairwise cosine similarity across a set of
// products, used for a session's pre/post-round metrics.
func (r *Recommender) CoherenceScore(products []*persist.Product) (float64, error) {
	snap, ok := r.Snapshot()
	if !ok {
		return 0, apperror.ModelNotReadyError{}
	}
	vecs := make([]mat.Vector, 0, len(products))
	for _, p := range products {
		vec, err := snap.space.Vectorize(p)
		if err != nil {
			return 0, err
		}
		vecs = append(vecs, vec)
	}
	return snap.model.CoherenceScore(vecs), nil
}

// PredictPrefixRating estimates the rating a session's PCF state would
// give its own accumulated prefix.
func (r *Recommender) PredictPrefixRating(state persist.PCFState) (float64, error) {
	snap, ok := r.Snapshot()
	if !ok {
		return 0, apperror.ModelNotReadyError{}
	}
	return snap.model.PredictPrefixRating(state), nil
}

// FeatureWeight is one dimension of a PCF state's user vector.
type FeatureWeight struct {
	Raw    string
	Weight float64
}

// FeatureWeights returns every dimension of state's user vector whose
// magnitude clears the noise floor worth surfacing in an explanation
// (0.05, matching the source's feature_weights loop).
func (r *Recommender) FeatureWeights(state persist.PCFState) ([]FeatureWeight, error) {
	snap, ok := r.Snapshot()
	if !ok {
		return nil, apperror.ModelNotReadyError{}
	}
	var out []FeatureWeight
	for idx, w := range state.UserVec {
		if math.Abs(w) <= 0.05 || idx >= len(snap.space.Reverse) {
			continue
		}
		out = append(out, FeatureWeight{Raw: snap.space.Reverse[idx], Weight: w})
	}
	return out, nil
}

// PresentFeatures returns the raw feature keys with a positive value in a
// product's vector, used to find the features two picks have in common.
func (r *Recommender) PresentFeatures(product *persist.Product) ([]string, error) {
	snap, ok := r.Snapshot()
	if !ok {
		return nil, apperror.ModelNotReadyError{}
	}
	vec, err := snap.space.Vectorize(product)
	if err != nil {
		return nil, err
	}
	var out []string
	for idx := 0; idx < snap.space.Width(); idx++ {
		if vec.AtVec(idx) > 0 {
			out = append(out, snap.space.Reverse[idx])
		}
	}
	return out, nil
}

// Catalog returns every product currently in the recommender's snapshot.
func (r *Recommender) Catalog() ([]*persist.Product, error) {
	snap, ok := r.Snapshot()
	if !ok {
		return nil, apperror.ModelNotReadyError{}
	}
	items := make([]*persist.Product, 0, len(snap.items))
	for _, item := range snap.items {
		items = append(items, item)
	}
	return items, nil
}
