package game

import (
	"context"
	"fmt"
	"strings"

	"github.com/prefduel/prefduel/persist"
	"github.com/prefduel/prefduel/service/apperror"
	"github.com/prefduel/prefduel/service/category"
	"github.com/prefduel/prefduel/service/pcf"
)

const summaryTopRecommendationCount = 5
const summaryHiddenGemCount = 5
const summaryNarrativeHintCount = 3

// RoundStat is one round's line in a completed game's summary.
type RoundStat struct {
	RoundNumber     int  `json:"round_number"`
	AICorrect       bool `json:"ai_correct"`
	AIExact         bool `json:"ai_exact"`
	HumanPoints     int  `json:"human_points"`
	AIPoints        int  `json:"ai_points"`
	CumulativeHuman int  `json:"cumulative_human_score"`
	CumulativeAI    int  `json:"cumulative_ai_score"`
}

// GameSummary is the full post-game recap (game_service.py's
// get_game_summary).
type GameSummary struct {
	GameID             persist.DBID  `json:"game_id"`
	PlayerName         string        `json:"player_name"`
	Category           string        `json:"category"`
	FinalHumanScore    int           `json:"final_human_score"`
	FinalAIScore       int           `json:"final_ai_score"`
	Rounds             []RoundStat   `json:"rounds"`
	Top3AccuracyRate   float64       `json:"top3_accuracy_rate"`
	ExactAccuracyRate  float64       `json:"exact_accuracy_rate"`
	LearnedPreferences []string      `json:"learned_preferences"`
	LearnedDislikes    []string      `json:"learned_dislikes"`
	TopRecommendations []ProductCard `json:"top_recommendations"`
	HiddenGems         []ProductCard `json:"hidden_gems"`
	Narrative          string        `json:"narrative"`
}

// GetGameSummary builds a completed game's final recap. It requires every
// round to have resolved; a game still in progress has no summary.
func (s *Service) GetGameSummary(ctx context.Context, gameID persist.DBID) (*GameSummary, error) {
	g, err := s.games.GetByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Status != persist.GameStatusCompleted {
		return nil, apperror.StateError{Reason: "game is not yet complete"}
	}

	rounds, err := s.games.GetRounds(ctx, g.ID)
	if err != nil {
		return nil, err
	}

	var roundStats []RoundStat
	cumulativeHuman, cumulativeAI := 0, 0
	var top3Hits, exactHits int
	for _, r := range rounds {
		if !r.Completed {
			continue
		}
		cumulativeHuman += r.HumanPoints
		cumulativeAI += r.AIPoints
		if r.AICorrect {
			top3Hits++
		}
		if r.AIExact {
			exactHits++
		}
		roundStats = append(roundStats, RoundStat{
			RoundNumber:     r.RoundNumber,
			AICorrect:       r.AICorrect,
			AIExact:         r.AIExact,
			HumanPoints:     r.HumanPoints,
			AIPoints:        r.AIPoints,
			CumulativeHuman: cumulativeHuman,
			CumulativeAI:    cumulativeAI,
		})
	}

	var top3Rate, exactRate float64
	if n := len(roundStats); n > 0 {
		top3Rate = float64(top3Hits) / float64(n)
		exactRate = float64(exactHits) / float64(n)
	}

	session, err := s.sessions.GetByID(ctx, g.LearningSessionID)
	if err != nil {
		return nil, err
	}
	weights, err := s.recommender.FeatureWeights(session.State)
	if err != nil {
		return nil, err
	}
	learnedPreferences, learnedDislikes := humanizeWeights(weights)

	selectedIDs, err := s.currentSelectionSequence(ctx, g, "")
	if err != nil {
		return nil, err
	}
	selectedItems, err := s.productsByIDs(ctx, selectedIDs)
	if err != nil {
		return nil, err
	}
	selectedSet := make(map[persist.DBID]bool, len(selectedIDs))
	for _, id := range selectedIDs {
		selectedSet[id] = true
	}

	catalog, err := s.recommender.Catalog()
	if err != nil {
		return nil, err
	}
	var unselected []*persist.Product
	for _, p := range catalog {
		if !selectedSet[p.ID] {
			unselected = append(unselected, p)
		}
	}

	scored, err := s.recommender.ScoreProducts(session.State, unselected)
	if err != nil {
		return nil, err
	}
	sortScored(scored)
	topN := summaryTopRecommendationCount
	if topN > len(scored) {
		topN = len(scored)
	}
	topRecommendations := make([]ProductCard, topN)
	topSet := make(map[persist.DBID]bool, topN)
	for i := 0; i < topN; i++ {
		topRecommendations[i] = scoredCard(scored[i].Product, scored[i].Score)
		topSet[scored[i].Product.ID] = true
	}

	hiddenPreferences, err := s.recommender.HiddenPreferences(session, selectedItems, summaryNarrativeHintCount)
	if err != nil {
		return nil, err
	}
	var gemsPool []*persist.Product
	for _, p := range unselected {
		if !topSet[p.ID] {
			gemsPool = append(gemsPool, p)
		}
	}
	gems, err := s.recommender.HiddenGems(session, selectedItems, summaryHiddenGemCount)
	if err != nil {
		return nil, err
	}
	gemsPoolSet := make(map[persist.DBID]bool, len(gemsPool))
	for _, p := range gemsPool {
		gemsPoolSet[p.ID] = true
	}
	var hiddenGemCards []ProductCard
	for _, gem := range gems {
		if !gemsPoolSet[gem.Product.ID] {
			continue
		}
		hiddenGemCards = append(hiddenGemCards, scoredCard(gem.Product, gem.Score))
		if len(hiddenGemCards) >= summaryHiddenGemCount {
			break
		}
	}

	narrative := buildNarrative(g.PlayerName, hiddenPreferences)

	return &GameSummary{
		GameID:             g.ID,
		PlayerName:         g.PlayerName,
		Category:           g.Category,
		FinalHumanScore:    g.HumanScore,
		FinalAIScore:       g.AIScore,
		Rounds:             roundStats,
		Top3AccuracyRate:   top3Rate,
		ExactAccuracyRate:  exactRate,
		LearnedPreferences: learnedPreferences,
		LearnedDislikes:    learnedDislikes,
		TopRecommendations: topRecommendations,
		HiddenGems:         hiddenGemCards,
		Narrative:          narrative,
	}, nil
}

// buildNarrative turns up to summaryNarrativeHintCount detected hidden
// preferences into a single recap sentence for the summary screen.
func buildNarrative(playerName string, hidden []pcf.HiddenPreference) string {
	if len(hidden) == 0 {
		return fmt.Sprintf("%s, the AI mostly confirmed what your picks already showed.", playerName)
	}
	var labels []string
	for i, hp := range hidden {
		if i >= summaryNarrativeHintCount {
			break
		}
		label := hp.Feature
		if category.IsNumericFeatureKey(hp.Feature) {
			label = category.NumericPreferenceLabel(hp.Feature, hp.Weight)
		} else if humanized, ok := category.HumanizeFeature(hp.Feature); ok {
			label = humanized
		}
		labels = append(labels, label)
	}
	return fmt.Sprintf("%s, beyond your own picks the AI also noticed a pull toward %s.", playerName, strings.Join(labels, ", "))
}
