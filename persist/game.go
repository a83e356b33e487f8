package persist

import "time"

// GameStatus is the game's position in its state machine (SPEC_FULL §4.6).
type GameStatus string

const (
	GameStatusOnboarding GameStatus = "onboarding"
	GameStatusReady      GameStatus = "ready"
	GameStatusPlaying    GameStatus = "playing"
	GameStatusCompleted  GameStatus = "completed"
)

// Game is one play-through: a player, a category, and a learning session
// that backs the AI's per-round predictions.
type Game struct {
	ID       DBID       `bson:"_id" json:"id"`
	PlayerName string   `bson:"player_name" json:"player_name"`
	Category string     `bson:"category" json:"category"`
	Status   GameStatus `bson:"status" json:"status"`

	CurrentRound int `bson:"current_round" json:"current_round"`
	TotalRounds  int `bson:"total_rounds" json:"total_rounds"`
	HumanScore   int `bson:"human_score" json:"human_score"`
	AIScore      int `bson:"ai_score" json:"ai_score"`

	LearningSessionID DBID `bson:"learning_session_id" json:"learning_session_id"`

	OnboardingPoolIDs     []DBID `bson:"onboarding_pool_ids" json:"onboarding_pool_ids"`
	OnboardingSelectedIDs []DBID `bson:"onboarding_selected_ids" json:"onboarding_selected_ids"`
	OnboardingRating      int    `bson:"onboarding_rating" json:"onboarding_rating"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// ScoredCandidate pairs a product id with the AI's score for it at the
// moment a round was decided; stored in AITopK.
type ScoredCandidate struct {
	ProductID DBID    `bson:"product_id" json:"product_id"`
	Score     float64 `bson:"score" json:"score"`
}

// RoundMetrics snapshots the recommender's view of a session immediately
// before or after a round's pick is resolved.
type RoundMetrics struct {
	CoherenceScore        float64 `bson:"coherence_score" json:"coherence_score"`
	PredictedPrefixRating float64 `bson:"predicted_prefix_rating" json:"predicted_prefix_rating"`
}

// GameRound is one round's candidate set and its resolution. The
// (game_id, round_number) pair is unique and a round transitions from
// Completed=false to Completed=true at most once (SPEC_FULL §5).
type GameRound struct {
	ID           DBID   `bson:"_id" json:"id"`
	GameID       DBID   `bson:"game_id" json:"game_id"`
	RoundNumber  int    `bson:"round_number" json:"round_number"`
	CandidateIDs []DBID `bson:"candidate_ids" json:"candidate_ids"`

	PreMetrics  RoundMetrics `bson:"pre_metrics" json:"pre_metrics"`
	PostMetrics RoundMetrics `bson:"post_metrics" json:"post_metrics"`

	HumanPickID   DBID             `bson:"human_pick_id,omitempty" json:"human_pick_id,omitempty"`
	AIPickID      DBID             `bson:"ai_pick_id,omitempty" json:"ai_pick_id,omitempty"`
	AIConfidence  float64          `bson:"ai_confidence" json:"ai_confidence"`
	AITopK       []ScoredCandidate `bson:"ai_top_k,omitempty" json:"ai_top_k,omitempty"`
	AITop3IDs    []DBID            `bson:"ai_top3_ids,omitempty" json:"ai_top3_ids,omitempty"`
	AIRankOfPick int               `bson:"ai_rank_of_pick,omitempty" json:"ai_rank_of_pick,omitempty"`
	AICorrect    bool              `bson:"ai_correct" json:"ai_correct"`
	AIExact      bool              `bson:"ai_exact" json:"ai_exact"`
	HumanPoints  int               `bson:"human_points" json:"human_points"`
	AIPoints     int               `bson:"ai_points" json:"ai_points"`

	Completed   bool       `bson:"completed" json:"completed"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
}
