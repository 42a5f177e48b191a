package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/amishk599/jobtracker/internal/model"
)

// Default MongoDB database and collection names.
const (
	DefaultMongoDatabase   = "job_tracker"
	DefaultMongoCollection = "jobs"
)

// mongoRecord is the document shape stored in the jobs collection.
type mongoRecord struct {
	ID           primitive.ObjectID      `bson:"_id"`
	ExternalID   string                  `bson:"external_id"`
	Title        string                  `bson:"title"`
	Organisation string                  `bson:"organisation"`
	Department   string                  `bson:"department"`
	Grade        string                  `bson:"grade"`
	Locations    []string                `bson:"locations"`
	Remuneration model.RemunerationRange `bson:"remuneration_range"`
	StartDate    string                  `bson:"start_date"`
	CloseDate    string                  `bson:"close_date"`
	DurationDays int                     `bson:"duration_days"`
	SourceURI    string                  `bson:"source_uri"`
	FetchedAt    time.Time               `bson:"fetched_at"`
}

func (d mongoRecord) stored() model.StoredRecord {
	return model.StoredRecord{
		ID: model.RecordID(d.ID.Hex()),
		JobRecord: model.JobRecord{
			ExternalID:   d.ExternalID,
			Title:        d.Title,
			Organisation: d.Organisation,
			Department:   d.Department,
			Grade:        d.Grade,
			Locations:    nonNil(d.Locations),
			Remuneration: d.Remuneration,
			StartDate:    d.StartDate,
			CloseDate:    d.CloseDate,
			DurationDays: d.DurationDays,
			SourceURI:    d.SourceURI,
			FetchedAt:    d.FetchedAt.UTC(),
		},
	}
}

// MongoStore persists job records in a MongoDB collection. Record ids are
// ObjectIDs assigned client-side, so their hex form sorts in creation order.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ model.Store = (*MongoStore)(nil)

// NewMongoStore connects to uri, verifies the connection, and ensures the
// external_id index exists on database.collection.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "external_id", Value: 1}},
		Options: options.Index().SetName("idx_external_id"),
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating external_id index: %w", err)
	}

	return &MongoStore{client: client, coll: coll}, nil
}

// InsertMany performs one unordered bulk insert. Documents the server rejects
// are reported individually; the rest are written.
func (s *MongoStore) InsertMany(ctx context.Context, records []model.JobRecord) (model.InsertResult, error) {
	var (
		res     model.InsertResult
		docs    []any
		pending []model.StoredRecord
	)
	for _, r := range records {
		if r.ExternalID == "" {
			res.Failed = append(res.Failed, model.InsertFailure{ExternalID: r.ExternalID, Err: errEmptyExternalID})
			continue
		}
		doc := mongoRecord{
			ID:           primitive.NewObjectID(),
			ExternalID:   r.ExternalID,
			Title:        r.Title,
			Organisation: r.Organisation,
			Department:   r.Department,
			Grade:        r.Grade,
			Locations:    nonNil(r.Locations),
			Remuneration: r.Remuneration,
			StartDate:    r.StartDate,
			CloseDate:    r.CloseDate,
			DurationDays: r.DurationDays,
			SourceURI:    r.SourceURI,
			FetchedAt:    r.FetchedAt,
		}
		docs = append(docs, doc)
		pending = append(pending, doc.stored())
	}
	if len(docs) == 0 {
		return res, nil
	}

	_, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		res.Inserted = append(res.Inserted, pending...)
		return res, nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		return res, fmt.Errorf("inserting %d records: %w", len(docs), err)
	}
	rejected := make(map[int]error, len(bwe.WriteErrors))
	for _, we := range bwe.WriteErrors {
		rejected[we.Index] = we
	}
	for i, rec := range pending {
		if werr, ok := rejected[i]; ok {
			res.Failed = append(res.Failed, model.InsertFailure{ExternalID: rec.ExternalID, Err: werr})
			continue
		}
		res.Inserted = append(res.Inserted, rec)
	}
	return res, nil
}

// DuplicateGroups aggregates the collection by external_id server-side.
func (s *MongoStore) DuplicateGroups(ctx context.Context) ([]model.DuplicateGroup, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$external_id"},
			{Key: "members", Value: bson.D{{Key: "$push", Value: bson.D{
				{Key: "id", Value: "$_id"},
				{Key: "fetched_at", Value: "$fetched_at"},
			}}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$match", Value: bson.D{{Key: "count", Value: bson.D{{Key: "$gt", Value: 1}}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline, options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return nil, fmt.Errorf("grouping duplicates: %w", err)
	}

	var rows []struct {
		ExternalID string `bson:"_id"`
		Members    []struct {
			ID        primitive.ObjectID `bson:"id"`
			FetchedAt time.Time          `bson:"fetched_at"`
		} `bson:"members"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decoding duplicate groups: %w", err)
	}

	groups := make([]model.DuplicateGroup, 0, len(rows))
	for _, row := range rows {
		g := model.DuplicateGroup{ExternalID: row.ExternalID, Members: make([]model.GroupMember, len(row.Members))}
		for i, m := range row.Members {
			g.Members[i] = model.GroupMember{ID: model.RecordID(m.ID.Hex()), FetchedAt: m.FetchedAt.UTC()}
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// DeleteMany removes the given ids with one $in filter.
func (s *MongoStore) DeleteMany(ctx context.Context, ids []model.RecordID) (int64, error) {
	oids := parseObjectIDs(ids)
	if len(oids) == 0 {
		return 0, nil
	}
	res, err := s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return 0, fmt.Errorf("deleting %d records: %w", len(oids), err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) Find(ctx context.Context, ids []model.RecordID) ([]model.StoredRecord, error) {
	oids := parseObjectIDs(ids)
	if len(oids) == 0 {
		return nil, nil
	}
	return s.find(ctx, bson.M{"_id": bson.M{"$in": oids}})
}

func (s *MongoStore) List(ctx context.Context) ([]model.StoredRecord, error) {
	return s.find(ctx, bson.M{})
}

func (s *MongoStore) Wipe(ctx context.Context) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("wiping jobs collection: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) find(ctx context.Context, filter bson.M) ([]model.StoredRecord, error) {
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("querying jobs collection: %w", err)
	}
	var docs []mongoRecord
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding job records: %w", err)
	}
	out := make([]model.StoredRecord, len(docs))
	for i, d := range docs {
		out[i] = d.stored()
	}
	return out, nil
}

func parseObjectIDs(ids []model.RecordID) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(string(id))
		if err != nil {
			continue
		}
		out = append(out, oid)
	}
	return out
}
