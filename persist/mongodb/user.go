package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/prefduel/prefduel/persist"
	"github.com/prefduel/prefduel/service/apperror"
)

const userColName = "users"

// UserRepository stores player identities.
type UserRepository struct {
	storage *storage
}

// NewUserMongoRepository returns a UserRepository.
func NewUserMongoRepository(client *mongo.Client) *UserRepository {
	return &UserRepository{storage: newStorage(client, 0, userColName)}
}

// GetOrCreateByName returns the user with the given name, creating one if
// it doesn't exist yet. Player names are not required to be unique across
// games in SPEC_FULL, but reusing the same learner identity for a repeat
// name keeps leaderboard history coherent.
func (r *UserRepository) GetOrCreateByName(ctx context.Context, name string) (*persist.User, error) {
	var existing []*persist.User
	if err := r.storage.find(ctx, bson.M{"name": name}, &existing); err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	user := &persist.User{ID: persist.GenerateID(), Name: name, CreatedAt: time.Now()}
	if _, err := r.storage.insert(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetByID returns a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id persist.DBID) (*persist.User, error) {
	var result []*persist.User
	if err := r.storage.find(ctx, bson.M{"_id": id}, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, apperror.NotFoundError{Entity: "user", ID: string(id)}
	}
	return result[0], nil
}
