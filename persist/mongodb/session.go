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
	sessionColName       = "sessions"
	selectionColName     = "selections"
	prefixRatingColName  = "prefix_ratings"
)

// SessionRepository stores learning sessions and their append-only
// selection/prefix-rating logs. Selections and ratings live in their own
// collections (SPEC_FULL §6) so the pick history stays the canonical
// record a session's PCF state can always be recomputed from.
type SessionRepository struct {
	sessions       *storage
	selections     *storage
	prefixRatings  *storage
}

// NewSessionMongoRepository returns a SessionRepository.
func NewSessionMongoRepository(client *mongo.Client) *SessionRepository {
	return &SessionRepository{
		sessions:      newStorage(client, 0, sessionColName),
		selections:    newStorage(client, 0, selectionColName),
		prefixRatings: newStorage(client, 0, prefixRatingColName),
	}
}

// Create inserts a new session with the given initial PCF state.
func (r *SessionRepository) Create(ctx context.Context, userID persist.DBID, category string, state persist.PCFState) (*persist.Session, error) {
	session := &persist.Session{
		ID:        persist.GenerateID(),
		UserID:    userID,
		Category:  category,
		State:     state,
		CreatedAt: time.Now(),
	}
	if _, err := r.sessions.insert(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetByID returns a session by id.
func (r *SessionRepository) GetByID(ctx context.Context, id persist.DBID) (*persist.Session, error) {
	var result []*persist.Session
	if err := r.sessions.find(ctx, bson.M{"_id": id}, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, apperror.NotFoundError{Entity: "session", ID: string(id)}
	}
	return result[0], nil
}

// SaveState overwrites a session's PCF state blob.
func (r *SessionRepository) SaveState(ctx context.Context, id persist.DBID, state persist.PCFState) error {
	return r.sessions.update(ctx, bson.M{"_id": id}, bson.M{"state": state})
}

// AddSelection appends a selection to a session's pick log.
func (r *SessionRepository) AddSelection(ctx context.Context, sessionID, productID persist.DBID, isException bool) (*persist.Selection, error) {
	return r.AddSelectionAt(ctx, sessionID, productID, isException, time.Now())
}

// AddSelectionAt is AddSelection with an explicit timestamp, used by
// onboarding to lay down a session's 10 picks with monotonically
// increasing timestamps in one batch, so PBCF's timestamp-ordered
// prefix-key resolution sees them in the order the player actually chose
// them rather than in insertion order.
func (r *SessionRepository) AddSelectionAt(ctx context.Context, sessionID, productID persist.DBID, isException bool, createdAt time.Time) (*persist.Selection, error) {
	sel := &persist.Selection{
		ID:          persist.GenerateID(),
		SessionID:   sessionID,
		ProductID:   productID,
		IsException: isException,
		CreatedAt:   createdAt,
	}
	if _, err := r.selections.insert(ctx, sel); err != nil {
		return nil, err
	}
	return sel, nil
}

// GetSelections returns a session's selections in the order they were
// made, which PBCF's prefix-key resolution depends on (SPEC_FULL §9).
func (r *SessionRepository) GetSelections(ctx context.Context, sessionID persist.DBID) ([]*persist.Selection, error) {
	var result []*persist.Selection
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	err := r.selections.find(ctx, bson.M{"session_id": sessionID}, &result, opts)
	return result, err
}

// AddPrefixRating appends a prefix rating to a session.
func (r *SessionRepository) AddPrefixRating(ctx context.Context, sessionID persist.DBID, rating int, tags []string) (*persist.PrefixRating, error) {
	return r.AddPrefixRatingAt(ctx, sessionID, rating, tags, time.Now())
}

// AddPrefixRatingAt is AddPrefixRating with an explicit timestamp, so
// onboarding can stamp the rating just after its batch of selections
// (SPEC_FULL §9's prefix-key resolution needs the rating's timestamp to
// sort after every selection it rates).
func (r *SessionRepository) AddPrefixRatingAt(ctx context.Context, sessionID persist.DBID, rating int, tags []string, createdAt time.Time) (*persist.PrefixRating, error) {
	pr := &persist.PrefixRating{
		ID:        persist.GenerateID(),
		SessionID: sessionID,
		Rating:    rating,
		Tags:      tags,
		CreatedAt: createdAt,
	}
	if _, err := r.prefixRatings.insert(ctx, pr); err != nil {
		return nil, err
	}
	return pr, nil
}

// GetPrefixRatings returns every prefix rating ever recorded, across all
// sessions, which PBCF trains against.
func (r *SessionRepository) GetPrefixRatings(ctx context.Context) ([]*persist.PrefixRating, error) {
	var result []*persist.PrefixRating
	err := r.prefixRatings.find(ctx, bson.M{}, &result)
	return result, err
}

// GetSelectionsBySessionIDs returns every selection belonging to any of the
// given sessions, keyed by session id, for PBCF's prefix-key resolution
// across the whole catalog of past sessions.
func (r *SessionRepository) GetSelectionsBySessionIDs(ctx context.Context, sessionIDs []persist.DBID) (map[persist.DBID][]*persist.Selection, error) {
	var all []*persist.Selection
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if err := r.selections.find(ctx, bson.M{"session_id": bson.M{"$in": sessionIDs}}, &all, opts); err != nil {
		return nil, err
	}
	bySession := make(map[persist.DBID][]*persist.Selection)
	for _, s := range all {
		bySession[s.SessionID] = append(bySession[s.SessionID], s)
	}
	return bySession, nil
}

// PrefixRatingCount returns the total number of prefix ratings recorded,
// used to gate PBCF retraining (SPEC_FULL §4.4).
func (r *SessionRepository) PrefixRatingCount(ctx context.Context) (int64, error) {
	return r.prefixRatings.count(ctx, bson.M{})
}
