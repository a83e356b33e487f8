package game

import (
	"context"
	"fmt"
	"sort"

	"github.com/prefduel/prefduel/persist"
	"github.com/prefduel/prefduel/service/category"
	"github.com/prefduel/prefduel/service/recommend"
)

const hiddenPreferenceHintCount = 2
const learnedFeatureCount = 5
const sharedFeatureCount = 6

// Explanation is the narrative the AI attaches to a resolved pick
// (game_service.py's _build_explanation / submit_pick's ai_explanation
// payload).
type Explanation struct {
	Reason                string        `json:"reason"`
	TopCandidates         []ProductCard `json:"top_candidates"`
	LearnedPreferences    []string      `json:"learned_preferences"`
	LearnedDislikes       []string      `json:"learned_dislikes"`
	SharedFeatures        []string      `json:"shared_features"`
	HiddenPreferenceHints []string      `json:"hidden_preference_hints"`
}

type explainPickInput struct {
	state            persist.PCFState
	candidateCount   int
	humanPick        *persist.Product
	aiPick           *persist.Product
	aiScore          float64
	aiCorrect        bool
	aiExact          bool
	aiTop3IDs        []persist.DBID
	productID        persist.DBID
	topCandidates    []ProductCard
	allSelectedItems []*persist.Product
}

// explainPick builds the full ai_explanation payload attached to a
// resolved round: why the AI thinks the human picked what it did, what
// it's learned so far, and what the two picks have in common
// (game_service.py's inlined explanation block inside submit_pick).
func (s *Service) explainPick(ctx context.Context, in explainPickInput) (Explanation, error) {
	reason := pickReason(in.aiExact, in.aiCorrect, in.humanPick, in.aiPick)

	weights, err := s.recommender.FeatureWeights(in.state)
	if err != nil {
		return Explanation{}, err
	}
	learnedPreferences, learnedDislikes := humanizeWeights(weights)

	humanFeatures, err := s.recommender.PresentFeatures(in.humanPick)
	if err != nil {
		return Explanation{}, err
	}
	aiFeatures, err := s.recommender.PresentFeatures(in.aiPick)
	if err != nil {
		return Explanation{}, err
	}
	sharedFeatures := humanizeShared(humanFeatures, aiFeatures)

	hints, err := s.hiddenPreferenceHints(in.state, in.allSelectedItems)
	if err != nil {
		return Explanation{}, err
	}

	return Explanation{
		Reason:                reason,
		TopCandidates:         in.topCandidates,
		LearnedPreferences:    learnedPreferences,
		LearnedDislikes:       learnedDislikes,
		SharedFeatures:        sharedFeatures,
		HiddenPreferenceHints: hints,
	}, nil
}

func pickReason(exact, correct bool, human, ai *persist.Product) string {
	switch {
	case exact:
		return fmt.Sprintf("The AI's top pick was exactly your pick: %q.", human.Title)
	case correct:
		return fmt.Sprintf("You picked %q; the AI had it in its top 3 but favored %q instead.", human.Title, ai.Title)
	default:
		return fmt.Sprintf("You picked %q; the AI expected %q based on what it's learned so far.", human.Title, ai.Title)
	}
}

// humanizeWeights splits a state's feature weights into humanized,
// sign-separated preference/dislike labels, deduped and capped, mirroring
// game_service.py's feature_weights loop but generalizing its
// price-only numeric special case via category.NumericPreferenceLabel.
func humanizeWeights(weights []recommend.FeatureWeight) (preferences, dislikes []string) {
	sort.SliceStable(weights, func(i, j int) bool {
		return abs(weights[i].Weight) > abs(weights[j].Weight)
	})

	seenPref := make(map[string]bool)
	seenDis := make(map[string]bool)
	for _, w := range weights {
		var label string
		if category.IsNumericFeatureKey(w.Raw) {
			label = category.NumericPreferenceLabel(w.Raw, w.Weight)
		} else {
			humanized, ok := category.HumanizeFeature(w.Raw)
			if !ok {
				continue
			}
			label = humanized
		}
		if w.Weight > 0 {
			if seenPref[label] || len(preferences) >= learnedFeatureCount {
				continue
			}
			seenPref[label] = true
			preferences = append(preferences, label)
		} else {
			if seenDis[label] || len(dislikes) >= learnedFeatureCount {
				continue
			}
			seenDis[label] = true
			dislikes = append(dislikes, label)
		}
	}
	return preferences, dislikes
}

// humanizeShared intersects two products' raw present-feature tokens,
// humanizes and dedups the result, and caps it at sharedFeatureCount.
func humanizeShared(a, b []string) []string {
	bSet := make(map[string]bool, len(b))
	for _, f := range b {
		bSet[f] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, f := range a {
		if !bSet[f] || category.IsNumericFeatureKey(f) {
			continue
		}
		label, ok := category.HumanizeFeature(f)
		if !ok || seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
		if len(out) >= sharedFeatureCount {
			break
		}
	}
	return out
}

// hiddenPreferenceHints turns the session's detected hidden preferences
// into up to hiddenPreferenceHintCount templated sentences, giving the
// player a glimpse of what the AI has picked up on that isn't obvious
// from their own selections (game_service.py's hidden-preference
// narrative hints).
func (s *Service) hiddenPreferenceHints(state persist.PCFState, selectedItems []*persist.Product) ([]string, error) {
	session := &persist.Session{State: state}
	hidden, err := s.recommender.HiddenPreferences(session, selectedItems, hiddenPreferenceHintCount)
	if err != nil {
		return nil, err
	}
	var hints []string
	for _, hp := range hidden {
		label := hp.Feature
		if category.IsNumericFeatureKey(hp.Feature) {
			label = category.NumericPreferenceLabel(hp.Feature, hp.Weight)
		} else if humanized, ok := category.HumanizeFeature(hp.Feature); ok {
			label = humanized
		}
		hints = append(hints, fmt.Sprintf("You seem to gravitate toward %s, even though you haven't picked it directly yet.", label))
		if len(hints) >= hiddenPreferenceHintCount {
			break
		}
	}
	return hints, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
