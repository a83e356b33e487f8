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

const productColName = "products"

// ProductRepository stores the catalog: one document per (category,
// source_id) pair, uniquely indexed (SPEC_FULL §6).
type ProductRepository struct {
	storage *storage
}

// NewProductMongoRepository returns a ProductRepository and ensures its
// unique (category, source_id) index exists.
func NewProductMongoRepository(ctx context.Context, client *mongo.Client) (*ProductRepository, error) {
	r := &ProductRepository{storage: newStorage(client, 0, productColName)}
	_, err := r.storage.createIndex(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "category", Value: 1}, {Key: "source_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return r, err
}

// Upsert inserts or updates a product, keyed by (category, source_id).
func (r *ProductRepository) Upsert(ctx context.Context, p *persist.Product) (persist.DBID, error) {
	return r.storage.upsert(ctx, bson.M{"category": p.Category, "source_id": p.SourceID}, p)
}

// BulkUpsert upserts many products through the worker-pool batch path,
// used by catalog ingestion to land a TMDB or vendor page at a time.
func (r *ProductRepository) BulkUpsert(ctx context.Context, products []*persist.Product) error {
	now := time.Now()
	updates := make([]updateModel, len(products))
	for i, p := range products {
		p.LastUpdated = now
		asBSON, err := bson.MarshalWithRegistry(CustomRegistry, p)
		if err != nil {
			return err
		}
		fields := bson.M{}
		if err := bson.UnmarshalWithRegistry(CustomRegistry, asBSON, &fields); err != nil {
			return err
		}
		delete(fields, "_id")
		delete(fields, "created_at")
		updates[i] = updateModel{
			query:   bson.M{"category": p.Category, "source_id": p.SourceID},
			setDocs: bson.M{"$set": fields, "$setOnInsert": bson.M{"_id": persist.GenerateID(), "created_at": now}},
		}
	}
	return r.storage.bulkUpdate(ctx, updates, true)
}

// GetByID returns one product by id.
func (r *ProductRepository) GetByID(ctx context.Context, id persist.DBID) (*persist.Product, error) {
	var result []*persist.Product
	if err := r.storage.find(ctx, bson.M{"_id": id}, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, apperror.NotFoundError{Entity: "product", ID: string(id)}
	}
	return result[0], nil
}

// GetByCategory returns every product in a category, used to source
// onboarding/round candidates.
func (r *ProductRepository) GetByCategory(ctx context.Context, category string) ([]*persist.Product, error) {
	var result []*persist.Product
	err := r.storage.find(ctx, bson.M{"category": category}, &result)
	return result, err
}

// GetAll returns the full catalog across every category, used to build
// the single shared feature space (SPEC_FULL §4.5).
func (r *ProductRepository) GetAll(ctx context.Context) ([]*persist.Product, error) {
	var result []*persist.Product
	err := r.storage.find(ctx, bson.M{}, &result)
	return result, err
}

// GetByIDs returns the products matching the given ids, in no particular
// order; missing ids are simply absent from the result.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []persist.DBID) ([]*persist.Product, error) {
	var result []*persist.Product
	err := r.storage.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, &result)
	return result, err
}

// Count returns the number of products in a category.
func (r *ProductRepository) Count(ctx context.Context, category string) (int64, error) {
	return r.storage.count(ctx, bson.M{"category": category})
}
