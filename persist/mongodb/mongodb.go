// Package mongodb implements the document-store adapter behind the
// persist interfaces: a thin storage{version, collection} wrapper per
// collection and a small CRUD method set shared by every concrete store,
// grounded on the teacher's persist/mongodb package (mongodb.go's
// storage/updateModel/bulkUpdate idiom). The NFT-domain custom BSON codecs
// (Address, TokenMetadata, CreationTime/LastUpdatedTime) have no analog
// here; persist.DBID only needs a string codec so it round-trips as a
// plain BSON string without a zero-value default of "" ever hitting the
// wire unresolved.
package mongodb

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/prefduel/prefduel/persist"
	"github.com/prefduel/prefduel/util"
)

// DBName is the database holding every PrefDuel collection.
const DBName = "prefduel"

var idType = reflect.TypeOf(persist.DBID(""))

// CustomRegistry is the BSON encoding/decoding registry used by every
// storage in this package.
var CustomRegistry = createCustomRegistry().Build()

// ErrDocumentNotFound is returned by update/push/pull when the query
// matched no documents.
var ErrDocumentNotFound = errors.New("document not found")

// storage is the currently accessed collection plus the schema version it
// was opened against.
type storage struct {
	version    int64
	collection *mongo.Collection
}

type updateModel struct {
	query   bson.M
	setDocs interface{}
}

// NewClient connects to mongo and verifies the connection with a ping.
func NewClient(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}
	return client, nil
}

func newStorage(client *mongo.Client, version int64, collName string) *storage {
	db := client.Database(DBName, options.Database().SetRegistry(CustomRegistry))
	return &storage{version: version, collection: db.Collection(collName)}
}

func (m *storage) insert(ctx context.Context, doc interface{}, opts ...*options.InsertOneOptions) (persist.DBID, error) {
	defer util.Track("mongo.insert."+m.collection.Name(), time.Now())
	res, err := m.collection.InsertOne(ctx, doc, opts...)
	if err != nil {
		return "", err
	}
	if id, ok := res.InsertedID.(string); ok {
		return persist.DBID(id), nil
	}
	return "", nil
}

func (m *storage) update(ctx context.Context, query bson.M, update interface{}, opts ...*options.UpdateOptions) error {
	defer util.Track("mongo.update."+m.collection.Name(), time.Now())
	res, err := m.collection.UpdateMany(ctx, query, bson.D{{Key: "$set", Value: update}}, opts...)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// push appends value(s) onto an array field of the matched document(s).
func (m *storage) push(ctx context.Context, query bson.M, field string, value interface{}) error {
	defer util.Track("mongo.push."+m.collection.Name(), time.Now())
	up := bson.D{
		{Key: "$push", Value: bson.M{field: bson.M{"$each": value}}},
	}
	res, err := m.collection.UpdateMany(ctx, query, up)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (m *storage) pull(ctx context.Context, query bson.M, field string, value bson.M) error {
	defer util.Track("mongo.pull."+m.collection.Name(), time.Now())
	up := bson.D{{Key: "$pull", Value: bson.M{field: value}}}
	res, err := m.collection.UpdateMany(ctx, query, up)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// upsert updates the matched document or inserts a new one, generating a
// fresh DBID for the inserted case.
func (m *storage) upsert(ctx context.Context, query bson.M, doc interface{}, opts ...*options.UpdateOptions) (persist.DBID, error) {
	defer util.Track("mongo.upsert."+m.collection.Name(), time.Now())

	asBSON, err := bson.MarshalWithRegistry(CustomRegistry, doc)
	if err != nil {
		return "", err
	}
	asMap := bson.M{}
	if err := bson.UnmarshalWithRegistry(CustomRegistry, asBSON, &asMap); err != nil {
		return "", err
	}
	delete(asMap, "_id")
	for k := range query {
		delete(asMap, k)
	}

	opts = append(opts, &options.UpdateOptions{Upsert: boolPtr(true)})
	res, err := m.collection.UpdateOne(ctx, query,
		bson.M{"$setOnInsert": bson.M{"_id": persist.GenerateID()}, "$set": asMap}, opts...)
	if err != nil {
		return "", err
	}
	if id, ok := res.UpsertedID.(string); ok {
		return persist.DBID(id), nil
	}
	return "", nil
}

// bulkUpdate batches updates through a fixed-size worker pool, mirroring
// how the catalog ingest path needs to write thousands of products per
// refresh without serializing every write.
func (m *storage) bulkUpdate(ctx context.Context, updates []updateModel, isUpsert bool) error {
	defer util.Track("mongo.bulkUpdate."+m.collection.Name(), time.Now())

	wp := workerpool.New(10)
	errs := make(chan error, 1)

	const batchSize = 50
	for i := 0; i < len(updates); i += batchSize {
		end := i + batchSize
		if end > len(updates) {
			end = len(updates)
		}
		batch := updates[i:end]

		models := make([]mongo.WriteModel, len(batch))
		for j, u := range batch {
			models[j] = &mongo.UpdateOneModel{Filter: u.query, Update: u.setDocs, Upsert: &isUpsert}
		}

		wp.Submit(func() {
			start := time.Now()
			res, err := m.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
			if err != nil {
				select {
				case errs <- err:
				default:
				}
				return
			}
			logrus.WithFields(logrus.Fields{
				"collection": m.collection.Name(),
				"upserted":   res.UpsertedCount,
				"modified":   res.ModifiedCount,
				"duration":   time.Since(start),
			}).Debug("bulk write complete")
		})
	}

	go func() {
		defer close(errs)
		wp.StopWait()
	}()

	if err, ok := <-errs; ok && err != nil {
		return err
	}
	return nil
}

func (m *storage) find(ctx context.Context, filter bson.M, result interface{}, opts ...*options.FindOptions) error {
	defer util.Track("mongo.find."+m.collection.Name(), time.Now())
	cur, err := m.collection.Find(ctx, filter, opts...)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	return cur.All(ctx, result)
}

func (m *storage) aggregate(ctx context.Context, pipeline mongo.Pipeline, result interface{}, opts ...*options.AggregateOptions) error {
	defer util.Track("mongo.aggregate."+m.collection.Name(), time.Now())
	cur, err := m.collection.Aggregate(ctx, pipeline, opts...)
	if err != nil {
		return err
	}
	return cur.All(ctx, result)
}

func (m *storage) count(ctx context.Context, filter bson.M, opts ...*options.CountOptions) (int64, error) {
	defer util.Track("mongo.count."+m.collection.Name(), time.Now())
	if len(filter) == 0 {
		return m.collection.EstimatedDocumentCount(ctx)
	}
	return m.collection.CountDocuments(ctx, filter, opts...)
}

func (m *storage) delete(ctx context.Context, filter bson.M, opts ...*options.DeleteOptions) error {
	defer util.Track("mongo.delete."+m.collection.Name(), time.Now())
	_, err := m.collection.DeleteMany(ctx, filter, opts...)
	return err
}

// findOneAndUpdate performs the compare-and-set update the in-process
// update() can't: the query fully determines whether the $set is applied,
// and the caller learns which happened from ErrDocumentNotFound rather
// than from a separately-fetched MatchedCount. Used for the round
// completed:false->true transition, where two racing writers must not
// both believe they completed the round.
func (m *storage) findOneAndUpdate(ctx context.Context, query bson.M, update interface{}, result interface{}) error {
	defer util.Track("mongo.findOneAndUpdate."+m.collection.Name(), time.Now())
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := m.collection.FindOneAndUpdate(ctx, query, bson.D{{Key: "$set", Value: update}}, opts).Decode(result)
	if err == mongo.ErrNoDocuments {
		return ErrDocumentNotFound
	}
	return err
}

func (m *storage) createIndex(ctx context.Context, index mongo.IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	defer util.Track("mongo.createIndex."+m.collection.Name(), time.Now())
	return m.collection.Indexes().CreateOne(ctx, index, opts...)
}

func boolPtr(b bool) *bool { return &b }

func idEncodeValue(ec bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != idType {
		return bsoncodec.ValueEncoderError{Name: "idEncodeValue", Types: []reflect.Type{idType}, Received: val}
	}
	id := val.Interface().(persist.DBID)
	if id == "" {
		id = persist.GenerateID()
	}
	return vw.WriteString(string(id))
}

func createCustomRegistry() *bsoncodec.RegistryBuilder {
	var primitiveCodecs bson.PrimitiveCodecs
	rb := bsoncodec.NewRegistryBuilder()
	bsoncodec.DefaultValueEncoders{}.RegisterDefaultEncoders(rb)
	bsoncodec.DefaultValueDecoders{}.RegisterDefaultDecoders(rb)
	rb.RegisterTypeEncoder(idType, bsoncodec.ValueEncoderFunc(idEncodeValue))
	primitiveCodecs.RegisterPrimitiveCodecs(rb)
	return rb
}
