package game

import (
	"context"
	"time"

	"github.com/prefduel/prefduel/persist"
)

// GameStatusView is the lightweight poll response for a game in progress
// (game_service.py's get_game_status).
type GameStatusView struct {
	ID           persist.DBID       `json:"id"`
	Status       persist.GameStatus `json:"status"`
	CurrentRound int                `json:"current_round"`
	TotalRounds  int                `json:"total_rounds"`
	HumanScore   int                `json:"human_score"`
	AIScore      int                `json:"ai_score"`
}

// GetGameStatus returns a game's current state-machine position and score,
// for clients polling between rounds.
func (s *Service) GetGameStatus(ctx context.Context, gameID persist.DBID) (*GameStatusView, error) {
	g, err := s.games.GetByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return &GameStatusView{
		ID:           g.ID,
		Status:       g.Status,
		CurrentRound: g.CurrentRound,
		TotalRounds:  g.TotalRounds,
		HumanScore:   g.HumanScore,
		AIScore:      g.AIScore,
	}, nil
}

// LeaderboardEntry is one row of the top-scores board.
type LeaderboardEntry struct {
	PlayerName string    `json:"player_name"`
	Category   string    `json:"category"`
	HumanScore int       `json:"human_score"`
	AIScore    int       `json:"ai_score"`
	CreatedAt  time.Time `json:"created_at"`
}

// GetLeaderboard returns the highest human-scoring completed games, capped
// at limit (game_service.py's get_leaderboard).
func (s *Service) GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	games, err := s.games.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, len(games))
	for i, g := range games {
		entries[i] = LeaderboardEntry{
			PlayerName: g.PlayerName,
			Category:   g.Category,
			HumanScore: g.HumanScore,
			AIScore:    g.AIScore,
			CreatedAt:  g.CreatedAt,
		}
	}
	return entries, nil
}

// PlayerHistoryEntry is one past game in a player's history, with its
// round-level AI accuracy summarized.
type PlayerHistoryEntry struct {
	ID            persist.DBID       `json:"id"`
	Category      string             `json:"category"`
	Status        persist.GameStatus `json:"status"`
	HumanScore    int                `json:"human_score"`
	AIScore       int                `json:"ai_score"`
	AICorrectRounds int              `json:"ai_correct_rounds"`
	TotalRounds   int                `json:"total_rounds"`
	CreatedAt     time.Time          `json:"created_at"`
}

// GetPlayerHistory returns a player's past games, most recent first, each
// annotated with how many rounds the AI correctly predicted
// (game_service.py's get_player_history).
func (s *Service) GetPlayerHistory(ctx context.Context, playerName string, limit int) ([]PlayerHistoryEntry, error) {
	games, err := s.games.GetByPlayerName(ctx, playerName, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]PlayerHistoryEntry, 0, len(games))
	for _, g := range games {
		rounds, err := s.games.GetRounds(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		correct := 0
		for _, r := range rounds {
			if r.Completed && r.AICorrect {
				correct++
			}
		}
		entries = append(entries, PlayerHistoryEntry{
			ID:              g.ID,
			Category:        g.Category,
			Status:          g.Status,
			HumanScore:      g.HumanScore,
			AIScore:         g.AIScore,
			AICorrectRounds: correct,
			TotalRounds:     g.TotalRounds,
			CreatedAt:       g.CreatedAt,
		})
	}
	return entries, nil
}
