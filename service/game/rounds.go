package game

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/prefduel/prefduel/persist"
	"github.com/prefduel/prefduel/service/apperror"
	"github.com/prefduel/prefduel/service/recommend"
)

func isNotFound(err error) bool {
	var nf apperror.NotFoundError
	return errors.As(err, &nf)
}

// sortScored ranks scored candidates by descending score, breaking ties by
// descending id. This mirrors game_service.py's
// `scored.sort(key=lambda item: (item[0], str(item[1]["_id"])), reverse=True)`:
// reversing the whole (score, id) tuple means the lexicographically
// largest id wins a tie, not the smallest.
func sortScored(scored []recommend.ScoredProduct) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Product.ID > scored[j].Product.ID
	})
}

func sliceClip(scored []recommend.ScoredProduct, lo, hi int) []recommend.ScoredProduct {
	if lo > len(scored) {
		lo = len(scored)
	}
	if hi > len(scored) {
		hi = len(scored)
	}
	if lo > hi {
		lo = hi
	}
	return scored[lo:hi]
}

func addFromPool(rng *rand.Rand, pool []recommend.ScoredProduct, target int, selectedIDs *[]persist.DBID, selectedSet map[persist.DBID]bool) {
	items := append([]recommend.ScoredProduct(nil), pool...)
	rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	for _, it := range items {
		pid := it.Product.ID
		if selectedSet[pid] {
			continue
		}
		selectedSet[pid] = true
		*selectedIDs = append(*selectedIDs, pid)
		if len(*selectedIDs) >= target {
			return
		}
	}
}

// buildRoundCandidates assembles this round's 10-candidate set from the
// full ranked list. Each pool's target is a running total of selected ids:
// "likely" picks from the top 20 until 6 are selected, "near-boundary"
// picks from ranks 20-120 until 8 are selected, "diverse" picks from the
// bottom half favoring vendors outside the top-10's until 10 are selected,
// and a fill pass from the full ranked list if any pool came up short (game_service.py's
// _build_round_candidates).
func buildRoundCandidates(gameID persist.DBID, roundNumber int, scored []recommend.ScoredProduct) []persist.DBID {
	rng := rngFor(gameID, roundNumber, "round_candidates")

	if len(scored) <= RoundCandidateCount {
		ids := make([]persist.DBID, len(scored))
		for i, s := range scored {
			ids[i] = s.Product.ID
		}
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		return ids
	}

	var selectedIDs []persist.DBID
	selectedSet := make(map[persist.DBID]bool)

	likely := sliceClip(scored, 0, 20)
	addFromPool(rng, likely, 6, &selectedIDs, selectedSet)

	nearBoundary := sliceClip(scored, 20, 120)
	if len(nearBoundary) == 0 {
		nearBoundary = sliceClip(scored, 6, 120)
	}
	addFromPool(rng, nearBoundary, 8, &selectedIDs, selectedSet)

	likelyVendors := make(map[string]bool)
	for _, s := range sliceClip(scored, 0, 10) {
		likelyVendors[s.Product.Vendor] = true
	}
	tail := sliceClip(scored, len(scored)/2, len(scored))
	var diverse []recommend.ScoredProduct
	for _, s := range tail {
		if !likelyVendors[s.Product.Vendor] {
			diverse = append(diverse, s)
		}
	}
	if len(diverse) < 2 {
		diverse = tail
	}
	addFromPool(rng, diverse, 10, &selectedIDs, selectedSet)

	addFromPool(rng, scored, 10, &selectedIDs, selectedSet)

	if len(selectedIDs) > RoundCandidateCount {
		selectedIDs = selectedIDs[:RoundCandidateCount]
	}
	rng.Shuffle(len(selectedIDs), func(i, j int) { selectedIDs[i], selectedIDs[j] = selectedIDs[j], selectedIDs[i] })
	return selectedIDs
}

func (s *Service) metricsForState(ctx context.Context, state persist.PCFState, selectedIDs []persist.DBID) (persist.RoundMetrics, error) {
	products, err := s.productsByIDs(ctx, selectedIDs)
	if err != nil {
		return persist.RoundMetrics{}, err
	}
	coherence, err := s.recommender.CoherenceScore(products)
	if err != nil {
		return persist.RoundMetrics{}, err
	}
	predicted, err := s.recommender.PredictPrefixRating(state)
	if err != nil {
		return persist.RoundMetrics{}, err
	}
	return persist.RoundMetrics{CoherenceScore: coherence, PredictedPrefixRating: predicted}, nil
}

// RoundView is what the client sees when a round starts (or is
// re-fetched): its candidates and the pre-round snapshot of the session's
// recommender metrics.
type RoundView struct {
	RoundNumber     int           `json:"round_number"`
	Candidates      []ProductCard `json:"candidates"`
	PreRoundMetrics persist.RoundMetrics `json:"pre_round_metrics"`
}

func (s *Service) roundView(ctx context.Context, round *persist.GameRound) (*RoundView, error) {
	products, err := s.productsByIDs(ctx, round.CandidateIDs)
	if err != nil {
		return nil, err
	}
	cards := make([]ProductCard, len(products))
	for i, p := range products {
		cards[i] = productCard(p)
	}
	return &RoundView{RoundNumber: round.RoundNumber, Candidates: cards, PreRoundMetrics: round.PreMetrics}, nil
}

// GetRound returns a previously started round's view without building or
// persisting anything, for a client reloading a round mid-play.
func (s *Service) GetRound(ctx context.Context, gameID persist.DBID, roundNumber int) (*RoundView, error) {
	g, err := s.games.GetByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	round, err := s.games.GetRound(ctx, g.ID, roundNumber)
	if err != nil {
		return nil, err
	}
	return s.roundView(ctx, round)
}

// StartRound returns the candidate set for the game's next round,
// building and persisting it on first request. Re-calling this for a
// round that already exists and hasn't been completed returns the
// persisted candidate set rather than re-rolling it, which is what keeps
// concurrent or retried calls idempotent (game_service.py's start_round).
func (s *Service) StartRound(ctx context.Context, gameID persist.DBID) (*RoundView, error) {
	g, err := s.games.GetByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if len(g.OnboardingSelectedIDs) != OnboardingPickCount {
		return nil, apperror.StateError{Reason: "onboarding is incomplete"}
	}
	if g.CurrentRound >= g.TotalRounds {
		return nil, apperror.StateError{Reason: "game is complete"}
	}

	roundNumber := g.CurrentRound + 1

	existing, err := s.games.GetRound(ctx, g.ID, roundNumber)
	if err == nil {
		if !existing.Completed {
			return s.roundView(ctx, existing)
		}
		return nil, apperror.StateError{Reason: "round has already been completed"}
	}
	if !isNotFound(err) {
		return nil, err
	}

	session, err := s.sessions.GetByID(ctx, g.LearningSessionID)
	if err != nil {
		return nil, err
	}
	state, err := s.recommender.LoadState(session)
	if err != nil {
		return nil, err
	}

	selectedIDs, err := s.currentSelectionSequence(ctx, g, "")
	if err != nil {
		return nil, err
	}
	used := make(map[persist.DBID]bool, len(selectedIDs))
	for _, id := range selectedIDs {
		used[id] = true
	}

	catalog, err := s.products.GetByCategory(ctx, g.Category)
	if err != nil {
		return nil, err
	}
	var candidatesSource []*persist.Product
	for _, p := range catalog {
		if !used[p.ID] {
			candidatesSource = append(candidatesSource, p)
		}
	}
	if len(candidatesSource) < RoundCandidateCount {
		return nil, apperror.StateError{Reason: "not enough products left to generate a round"}
	}

	scored, err := s.recommender.ScoreProducts(state, candidatesSource)
	if err != nil {
		return nil, err
	}
	sortScored(scored)
	candidateIDs := buildRoundCandidates(g.ID, roundNumber, scored)

	preMetrics, err := s.metricsForState(ctx, state, selectedIDs)
	if err != nil {
		return nil, err
	}

	round := &persist.GameRound{
		GameID:       g.ID,
		RoundNumber:  roundNumber,
		CandidateIDs: candidateIDs,
		PreMetrics:   preMetrics,
		Completed:    false,
	}
	if err := s.games.CreateRound(ctx, round); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Lost the race to start this round; return whichever
			// candidate set the winner persisted.
			won, werr := s.games.GetRound(ctx, g.ID, roundNumber)
			if werr != nil {
				return nil, werr
			}
			return s.roundView(ctx, won)
		}
		return nil, err
	}

	g.Status = persist.GameStatusPlaying
	if err := s.games.Save(ctx, g); err != nil {
		return nil, err
	}

	return s.roundView(ctx, round)
}

// PickResult is the full resolution of one round's human pick against the
// AI's prediction (game_service.py's submit_pick response).
type PickResult struct {
	RoundNumber       int           `json:"round_number"`
	HumanPick         ProductCard   `json:"human_pick"`
	AIPick            ProductCard   `json:"ai_pick"`
	AICorrect         bool          `json:"ai_correct"`
	AIExact           bool          `json:"ai_exact"`
	AIRankOfPick      int           `json:"ai_rank_of_pick"`
	AITop3IDs         []persist.DBID `json:"ai_top3_ids"`
	HumanPoints       int           `json:"human_points"`
	AIPoints          int           `json:"ai_points"`
	TotalHumanScore   int           `json:"total_human_score"`
	TotalAIScore      int           `json:"total_ai_score"`
	Explanation       Explanation   `json:"ai_explanation"`
	PostRoundMetrics  persist.RoundMetrics `json:"post_round_metrics"`
	GameComplete      bool          `json:"game_complete"`
}

// SubmitPick resolves one round: scores every candidate against the
// session's current state, records the human pick, folds it into the PCF
// state, and persists the round's full resolution exactly once
// (game_service.py's submit_pick).
func (s *Service) SubmitPick(ctx context.Context, gameID persist.DBID, roundNumber int, productID persist.DBID) (*PickResult, error) {
	g, err := s.games.GetByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.CurrentRound >= g.TotalRounds {
		return nil, apperror.StateError{Reason: "game is already complete"}
	}
	if roundNumber != g.CurrentRound+1 {
		return nil, apperror.ValidationError{Reason: "invalid round number for current game state"}
	}

	round, err := s.games.GetRound(ctx, g.ID, roundNumber)
	if err != nil {
		return nil, err
	}
	if round.Completed {
		return nil, apperror.StateError{Reason: "round has already been completed"}
	}

	inCandidates := false
	for _, id := range round.CandidateIDs {
		if id == productID {
			inCandidates = true
			break
		}
	}
	if !inCandidates {
		return nil, apperror.ValidationError{Reason: "selected product is not in this round's candidate set"}
	}

	candidateProducts, err := s.productsByIDs(ctx, round.CandidateIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[persist.DBID]*persist.Product, len(candidateProducts))
	for _, p := range candidateProducts {
		byID[p.ID] = p
	}
	humanPickProduct, ok := byID[productID]
	if !ok {
		return nil, apperror.ValidationError{Reason: "selected product does not exist"}
	}

	var (
		scored       []recommend.ScoredProduct
		state        persist.PCFState
		session      *persist.Session
		postMetrics  persist.RoundMetrics
		allSelected  []*persist.Product
	)
	err = s.withSessionLock(ctx, g.LearningSessionID, func() error {
		var lerr error
		session, lerr = s.sessions.GetByID(ctx, g.LearningSessionID)
		if lerr != nil {
			return lerr
		}
		state, lerr = s.recommender.LoadState(session)
		if lerr != nil {
			return lerr
		}
		scored, lerr = s.recommender.ScoreProducts(state, candidateProducts)
		if lerr != nil {
			return lerr
		}
		sortScored(scored)

		if lerr = s.recommender.UpdateStateWithSelection(&state, humanPickProduct, false); lerr != nil {
			return lerr
		}
		if _, lerr = s.sessions.AddSelection(ctx, session.ID, productID, false); lerr != nil {
			return lerr
		}
		if lerr = s.sessions.SaveState(ctx, session.ID, state); lerr != nil {
			return lerr
		}
		session.State = state

		selectedIDs, lerr := s.currentSelectionSequence(ctx, g, productID)
		if lerr != nil {
			return lerr
		}
		allSelected, lerr = s.productsByIDs(ctx, selectedIDs)
		if lerr != nil {
			return lerr
		}
		postMetrics, lerr = s.metricsForState(ctx, state, selectedIDs)
		return lerr
	})
	if err != nil {
		return nil, err
	}

	aiPick := scored[0]
	top3N := 3
	if top3N > len(scored) {
		top3N = len(scored)
	}
	aiTop3 := scored[:top3N]
	aiTop3Ids := make([]persist.DBID, len(aiTop3))
	aiCorrect := false
	for i, sc := range aiTop3 {
		aiTop3Ids[i] = sc.Product.ID
		if sc.Product.ID == productID {
			aiCorrect = true
		}
	}
	aiExact := aiPick.Product.ID == productID
	humanPoints, aiPoints := 10, 0
	if aiCorrect {
		humanPoints, aiPoints = 0, 10
	}
	aiRankOfPick := len(scored)
	for i, sc := range scored {
		if sc.Product.ID == productID {
			aiRankOfPick = i + 1
			break
		}
	}

	top5N := 5
	if top5N > len(scored) {
		top5N = len(scored)
	}
	topCandidates := make([]ProductCard, top5N)
	for i := 0; i < top5N; i++ {
		topCandidates[i] = scoredCard(scored[i].Product, scored[i].Score)
	}

	topK := make([]persist.ScoredCandidate, top5N)
	for i := 0; i < top5N; i++ {
		topK[i] = persist.ScoredCandidate{ProductID: scored[i].Product.ID, Score: scored[i].Score}
	}

	explanation, err := s.explainPick(ctx, explainPickInput{
		state:             state,
		candidateCount:    len(candidateProducts),
		humanPick:         humanPickProduct,
		aiPick:            aiPick.Product,
		aiScore:           aiPick.Score,
		aiCorrect:         aiCorrect,
		aiExact:           aiExact,
		aiTop3IDs:         aiTop3Ids,
		productID:         productID,
		topCandidates:     topCandidates,
		allSelectedItems:  allSelected,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updated, err := s.games.CompleteRound(ctx, round.ID, bson.M{
		"human_pick_id":   productID,
		"ai_pick_id":      aiPick.Product.ID,
		"ai_confidence":   aiPick.Score,
		"ai_top_k":        topK,
		"ai_top3_ids":     aiTop3Ids,
		"ai_rank_of_pick": aiRankOfPick,
		"ai_correct":      aiCorrect,
		"ai_exact":        aiExact,
		"human_points":    humanPoints,
		"ai_points":       aiPoints,
		"post_metrics":    postMetrics,
		"completed_at":    now,
	})
	if err != nil {
		return nil, err
	}

	newCurrentRound := g.CurrentRound + 1
	newHumanTotal := g.HumanScore + humanPoints
	newAITotal := g.AIScore + aiPoints
	gameComplete := newCurrentRound >= g.TotalRounds

	g.CurrentRound = newCurrentRound
	g.HumanScore = newHumanTotal
	g.AIScore = newAITotal
	if gameComplete {
		g.Status = persist.GameStatusCompleted
	} else {
		g.Status = persist.GameStatusPlaying
	}
	if err := s.games.Save(ctx, g); err != nil {
		return nil, err
	}

	return &PickResult{
		RoundNumber:      updated.RoundNumber,
		HumanPick:        productCard(humanPickProduct),
		AIPick:           scoredCard(aiPick.Product, aiPick.Score),
		AICorrect:        aiCorrect,
		AIExact:          aiExact,
		AIRankOfPick:     aiRankOfPick,
		AITop3IDs:        aiTop3Ids,
		HumanPoints:      humanPoints,
		AIPoints:         aiPoints,
		TotalHumanScore:  newHumanTotal,
		TotalAIScore:     newAITotal,
		Explanation:      explanation,
		PostRoundMetrics: postMetrics,
		GameComplete:     gameComplete,
	}, nil
}
