package game

import (
	"context"
	"time"

	"github.com/prefduel/prefduel/persist"
	"github.com/prefduel/prefduel/service/apperror"
	"github.com/prefduel/prefduel/service/category"
)

// GameSummaryLite is returned by CreateGame: just enough for the client to
// move straight to the onboarding screen.
type GameSummaryLite struct {
	ID          persist.DBID      `json:"id"`
	PlayerName  string            `json:"player_name"`
	Category    string            `json:"category"`
	Status      persist.GameStatus `json:"status"`
	TotalRounds int               `json:"total_rounds"`
	HumanScore  int               `json:"human_score"`
	AIScore     int               `json:"ai_score"`
	CreatedAt   time.Time         `json:"created_at"`
}

// CreateGame starts a new game: a user, a learning session seeded with a
// fresh PCF state, and a game document in the onboarding status
// (game_service.py's create_game).
func (s *Service) CreateGame(ctx context.Context, playerName, categoryID string) (*GameSummaryLite, error) {
	clean, err := normalizeName(playerName)
	if err != nil {
		return nil, err
	}
	cat, err := category.Normalize(categoryID)
	if err != nil {
		return nil, apperror.ValidationError{Reason: err.Error()}
	}

	state, err := s.recommender.InitState()
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetOrCreateByName(ctx, clean+" (game)")
	if err != nil {
		return nil, err
	}
	session, err := s.sessions.Create(ctx, user.ID, cat, state)
	if err != nil {
		return nil, err
	}

	g := &persist.Game{
		PlayerName:        clean,
		Category:          cat,
		Status:            persist.GameStatusOnboarding,
		TotalRounds:        TotalRounds,
		LearningSessionID: session.ID,
	}
	if err := s.games.Create(ctx, g); err != nil {
		return nil, err
	}

	return &GameSummaryLite{
		ID:          g.ID,
		PlayerName:  g.PlayerName,
		Category:    g.Category,
		Status:      g.Status,
		TotalRounds: g.TotalRounds,
		HumanScore:  g.HumanScore,
		AIScore:     g.AIScore,
		CreatedAt:   g.CreatedAt,
	}, nil
}

// Onboarding is the pool of products offered for the player's initial 10
// picks.
type Onboarding struct {
	GameID   persist.DBID  `json:"game_id"`
	PoolSize int           `json:"pool_size"`
	Products []ProductCard `json:"products"`
}

// GetOnboarding returns the game's onboarding pool, building and
// persisting it on first request (game_service.py's get_onboarding).
func (s *Service) GetOnboarding(ctx context.Context, gameID persist.DBID) (*Onboarding, error) {
	g, err := s.games.GetByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Status == persist.GameStatusCompleted {
		return nil, apperror.StateError{Reason: "game is already completed"}
	}

	poolIDs := g.OnboardingPoolIDs
	if len(poolIDs) == 0 {
		catalog, err := s.products.GetByCategory(ctx, g.Category)
		if err != nil {
			return nil, err
		}
		poolIDs = diverseOnboardingSample(catalog, g.ID)
		g.OnboardingPoolIDs = poolIDs
		if err := s.games.Save(ctx, g); err != nil {
			return nil, err
		}
	}

	products, err := s.productsByIDs(ctx, poolIDs)
	if err != nil {
		return nil, err
	}
	cards := make([]ProductCard, len(products))
	for i, p := range products {
		cards[i] = productCard(p)
	}
	return &Onboarding{GameID: g.ID, PoolSize: len(cards), Products: cards}, nil
}

// diverseOnboardingSample builds the size-OnboardingPoolSize onboarding
// pool: a price-tercile, vendor-round-robin sample of the catalog so the
// player isn't shown 50 near-identical items (game_service.py's
// _diverse_onboarding_sample).
func diverseOnboardingSample(catalog []*persist.Product, gameID persist.DBID) []persist.DBID {
	if len(catalog) <= OnboardingPoolSize {
		ids := make([]persist.DBID, len(catalog))
		for i, p := range catalog {
			ids[i] = p.ID
		}
		return ids
	}

	rng := rngFor(gameID, 0, "onboarding")
	products := append([]*persist.Product(nil), catalog...)
	rng.Shuffle(len(products), func(i, j int) { products[i], products[j] = products[j], products[i] })

	prices := make([]float64, len(products))
	for i, p := range products {
		prices[i] = p.PriceMinOrZero()
	}
	sortFloats(prices)
	q1 := prices[len(prices)/3]
	q2 := prices[(2*len(prices))/3]

	var low, mid, high []*persist.Product
	for _, p := range products {
		price := p.PriceMinOrZero()
		switch {
		case price <= q1:
			low = append(low, p)
		case price <= q2:
			mid = append(mid, p)
		default:
			high = append(high, p)
		}
	}

	chosen := make([]*persist.Product, 0, OnboardingPoolSize)
	chosen = append(chosen, roundRobinPick(rng, low, 17)...)
	chosen = append(chosen, roundRobinPick(rng, mid, 17)...)
	chosen = append(chosen, roundRobinPick(rng, high, 16)...)

	chosenSet := make(map[persist.DBID]bool, len(chosen))
	for _, p := range chosen {
		chosenSet[p.ID] = true
	}
	if len(chosen) < OnboardingPoolSize {
		var remainder []*persist.Product
		for _, p := range products {
			if !chosenSet[p.ID] {
				remainder = append(remainder, p)
			}
		}
		rng.Shuffle(len(remainder), func(i, j int) { remainder[i], remainder[j] = remainder[j], remainder[i] })
		need := OnboardingPoolSize - len(chosen)
		if need > len(remainder) {
			need = len(remainder)
		}
		chosen = append(chosen, remainder[:need]...)
	}

	if len(chosen) > OnboardingPoolSize {
		chosen = chosen[:OnboardingPoolSize]
	}
	rng.Shuffle(len(chosen), func(i, j int) { chosen[i], chosen[j] = chosen[j], chosen[i] })

	ids := make([]persist.DBID, len(chosen))
	for i, p := range chosen {
		ids[i] = p.ID
	}
	return ids
}

// roundRobinPick draws target items from bucket, one vendor at a time in a
// vendor order that is shuffled once and then kept for every pass, so no
// single vendor dominates a price tercile.
func roundRobinPick(rng interface{ Shuffle(int, func(i, j int)); Intn(int) int }, bucket []*persist.Product, target int) []*persist.Product {
	byVendor := make(map[string][]*persist.Product)
	var vendorKeys []string
	for _, p := range bucket {
		vendor := p.Vendor
		if vendor == "" {
			vendor = "Unknown"
		}
		if _, ok := byVendor[vendor]; !ok {
			vendorKeys = append(vendorKeys, vendor)
		}
		byVendor[vendor] = append(byVendor[vendor], p)
	}
	for _, vendor := range vendorKeys {
		items := byVendor[vendor]
		rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	}
	rng.Shuffle(len(vendorKeys), func(i, j int) { vendorKeys[i], vendorKeys[j] = vendorKeys[j], vendorKeys[i] })

	var picks []*persist.Product
	for len(picks) < target && len(vendorKeys) > 0 {
		var next []string
		for _, vendor := range vendorKeys {
			items := byVendor[vendor]
			if len(items) > 0 {
				picks = append(picks, items[len(items)-1])
				byVendor[vendor] = items[:len(items)-1]
				if len(picks) >= target {
					break
				}
			}
			if len(byVendor[vendor]) > 0 {
				next = append(next, vendor)
			}
		}
		vendorKeys = next
	}
	return picks
}

func sortFloats(xs []float64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// OnboardingResult is the metrics returned once a player submits their 10
// onboarding picks.
type OnboardingResult struct {
	Accepted              bool    `json:"accepted"`
	CoherenceScore        float64 `json:"coherence_score"`
	PredictedPrefixRating float64 `json:"predicted_prefix_rating"`
	NextRound             int     `json:"next_round"`
}

// SubmitOnboarding validates and records the player's 10 onboarding picks
// and initial prefix rating, folding all of them into the session's PCF
// state in one pass (game_service.py's submit_onboarding).
func (s *Service) SubmitOnboarding(ctx context.Context, gameID persist.DBID, selectedIDs []persist.DBID, rating int) (*OnboardingResult, error) {
	g, err := s.games.GetByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if len(g.OnboardingSelectedIDs) > 0 {
		return nil, apperror.StateError{Reason: "onboarding already submitted for this game"}
	}
	if len(selectedIDs) != OnboardingPickCount {
		return nil, apperror.ValidationError{Reason: "you must select exactly 10 products"}
	}
	if len(uniqueIDs(selectedIDs)) != OnboardingPickCount {
		return nil, apperror.ValidationError{Reason: "duplicate products are not allowed"}
	}
	if len(g.OnboardingPoolIDs) == 0 {
		return nil, apperror.StateError{Reason: "onboarding pool is not initialized"}
	}
	pool := make(map[persist.DBID]bool, len(g.OnboardingPoolIDs))
	for _, id := range g.OnboardingPoolIDs {
		pool[id] = true
	}
	for _, id := range selectedIDs {
		if !pool[id] {
			return nil, apperror.ValidationError{Reason: "selections must come from the onboarding pool"}
		}
	}

	selectedProducts, err := s.productsByIDs(ctx, selectedIDs)
	if err != nil {
		return nil, err
	}
	if len(selectedProducts) != OnboardingPickCount {
		return nil, apperror.ValidationError{Reason: "one or more selected products were not found"}
	}

	var result *OnboardingResult
	err = s.withSessionLock(ctx, g.LearningSessionID, func() error {
		session, err := s.sessions.GetByID(ctx, g.LearningSessionID)
		if err != nil {
			return err
		}
		state, err := s.recommender.LoadState(session)
		if err != nil {
			return err
		}
		for _, p := range selectedProducts {
			if err := s.recommender.UpdateStateWithSelection(&state, p, false); err != nil {
				return err
			}
		}
		if err := s.recommender.ApplyPrefixRating(&state, rating); err != nil {
			return err
		}

		coherence, err := s.recommender.CoherenceScore(selectedProducts)
		if err != nil {
			return err
		}
		predicted, err := s.recommender.PredictPrefixRating(state)
		if err != nil {
			return err
		}

		base := time.Now()
		for i, id := range selectedIDs {
			if _, err := s.sessions.AddSelectionAt(ctx, session.ID, id, false, base.Add(time.Duration(i)*time.Millisecond)); err != nil {
				return err
			}
		}
		if _, err := s.sessions.AddPrefixRatingAt(ctx, session.ID, rating, nil, base.Add(1000*time.Millisecond)); err != nil {
			return err
		}
		if err := s.sessions.SaveState(ctx, session.ID, state); err != nil {
			return err
		}

		g.Status = persist.GameStatusReady
		g.OnboardingSelectedIDs = selectedIDs
		g.OnboardingRating = rating
		if err := s.games.Save(ctx, g); err != nil {
			return err
		}

		result = &OnboardingResult{
			Accepted:              true,
			CoherenceScore:        coherence,
			PredictedPrefixRating: predicted,
			NextRound:             1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func uniqueIDs(ids []persist.DBID) map[persist.DBID]bool {
	out := make(map[persist.DBID]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
