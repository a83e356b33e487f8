package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/prefduel/prefduel/persist"
	"github.com/prefduel/prefduel/service/apperror"
)

const (
	gameColName      = "games"
	gameRoundColName = "game_rounds"
)

// GameRepository stores games and their per-round history.
type GameRepository struct {
	games      *storage
	gameRounds *storage
}

// NewGameMongoRepository returns a GameRepository and ensures the unique
// (game_id, round_number) index exists.
func NewGameMongoRepository(ctx context.Context, client *mongo.Client) (*GameRepository, error) {
	r := &GameRepository{
		games:      newStorage(client, 0, gameColName),
		gameRounds: newStorage(client, 0, gameRoundColName),
	}
	_, err := r.gameRounds.createIndex(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "game_id", Value: 1}, {Key: "round_number", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return r, err
}

// Create inserts a new game in the onboarding status.
func (r *GameRepository) Create(ctx context.Context, game *persist.Game) error {
	game.ID = persist.GenerateID()
	game.CreatedAt = time.Now()
	game.UpdatedAt = game.CreatedAt
	_, err := r.games.insert(ctx, game)
	return err
}

// GetByID returns a game by id.
func (r *GameRepository) GetByID(ctx context.Context, id persist.DBID) (*persist.Game, error) {
	var result []*persist.Game
	if err := r.games.find(ctx, bson.M{"_id": id}, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, apperror.NotFoundError{Entity: "game", ID: string(id)}
	}
	return result[0], nil
}

// Save overwrites the full game document, stamping updated_at.
func (r *GameRepository) Save(ctx context.Context, game *persist.Game) error {
	game.UpdatedAt = time.Now()
	return r.games.update(ctx, bson.M{"_id": game.ID}, game)
}

// Leaderboard returns the highest human-scoring completed games, capped at
// limit.
func (r *GameRepository) Leaderboard(ctx context.Context, limit int) ([]*persist.Game, error) {
	var result []*persist.Game
	opts := options.Find().
		SetSort(bson.D{{Key: "human_score", Value: -1}, {Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))
	err := r.games.find(ctx, bson.M{"status": persist.GameStatusCompleted}, &result, opts)
	return result, err
}

// GetByPlayerName returns a player's games, most recent first, capped at
// limit.
func (r *GameRepository) GetByPlayerName(ctx context.Context, name string, limit int) ([]*persist.Game, error) {
	var result []*persist.Game
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	err := r.games.find(ctx, bson.M{"player_name": name}, &result, opts)
	return result, err
}

// CreateRound inserts a new round for a game. The unique (game_id,
// round_number) index turns a concurrent double-start into a write error
// rather than a silently duplicated round (SPEC_FULL §5).
func (r *GameRepository) CreateRound(ctx context.Context, round *persist.GameRound) error {
	round.ID = persist.GenerateID()
	round.CreatedAt = time.Now()
	_, err := r.gameRounds.insert(ctx, round)
	return err
}

// GetRound returns one round of a game by round number.
func (r *GameRepository) GetRound(ctx context.Context, gameID persist.DBID, roundNumber int) (*persist.GameRound, error) {
	var result []*persist.GameRound
	err := r.gameRounds.find(ctx, bson.M{"game_id": gameID, "round_number": roundNumber}, &result)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, apperror.NotFoundError{Entity: "game_round", ID: string(gameID)}
	}
	return result[0], nil
}

// GetRounds returns every round of a game, in round-number order.
func (r *GameRepository) GetRounds(ctx context.Context, gameID persist.DBID) ([]*persist.GameRound, error) {
	var result []*persist.GameRound
	opts := options.Find().SetSort(bson.D{{Key: "round_number", Value: 1}})
	err := r.gameRounds.find(ctx, bson.M{"game_id": gameID}, &result, opts)
	return result, err
}

// SaveRound overwrites a round's non-completion fields (e.g. its persisted
// candidate set on first start). It must never be used to perform the
// completed:false->true transition; CompleteRound owns that.
func (r *GameRepository) SaveRound(ctx context.Context, round *persist.GameRound) error {
	return r.gameRounds.update(ctx, bson.M{"_id": round.ID}, round)
}

// CompleteRound atomically transitions a round from completed=false to
// completed=true while setting its resolution fields, returning the
// updated document. If the round is already completed (a duplicate
// submit racing a prior one), the filter matches nothing and
// apperror.StateError is returned instead of silently double-scoring it
// (SPEC_FULL §5).
func (r *GameRepository) CompleteRound(ctx context.Context, roundID persist.DBID, fields bson.M) (*persist.GameRound, error) {
	fields = bson.M(copyWith(fields, bson.M{"completed": true}))
	var result persist.GameRound
	err := r.gameRounds.findOneAndUpdate(ctx,
		bson.M{"_id": roundID, "completed": false},
		fields,
		&result,
	)
	if err == ErrDocumentNotFound {
		return nil, apperror.StateError{Reason: "round has already been completed"}
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func copyWith(base, extra bson.M) bson.M {
	out := make(bson.M, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
