package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
)

const defaultMongoCollection = "conversations"
const defaultMongoTimeout = 5 * time.Second

// mongoDocument is the BSON-side wrapper of fileRecord: the whole record is
// stored as one marshaled JSON blob in Payload, with the id, phase and
// update time copied out as native BSON fields.
type mongoDocument struct {
	ID        string `bson:"_id"`
	Phase     string `bson:"phase"`
	Payload   []byte `bson:"payload"`
	UpdatedAt string `bson:"updated_at"`
}

// MongoPersister stores one document per conversation in a MongoDB
// collection, upserting on every save (spec.md §4.2, §6.4's "opaque record"
// persistence contract).
type MongoPersister struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// MongoOptions configures a MongoPersister.
type MongoOptions struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// NewMongoPersister wraps an existing *mongo.Client and ensures the backing
// collection has a unique index on conversation id.
func NewMongoPersister(ctx context.Context, opts MongoOptions) (*MongoPersister, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultMongoCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultMongoTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collection)

	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	index := mongo.IndexModel{Keys: bson.D{{Key: "_id", Value: 1}}}
	if _, err := coll.Indexes().CreateOne(ictx, index); err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindPersistence, "ensure conversation index", err)
	}
	return &MongoPersister{coll: coll, timeout: timeout}, nil
}

func (p *MongoPersister) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

// SaveConversation upserts the conversation's record, keyed on its ID.
func (p *MongoPersister) SaveConversation(ctx context.Context, c *Conversation) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(toRecord(c))
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.KindPersistence, "marshal conversation", err)
	}
	doc := mongoDocument{
		ID:        string(c.ID),
		Phase:     string(c.Phase),
		Payload:   payload,
		UpdatedAt: c.UpdatedAt.Format(rfc3339Nano),
	}
	filter := bson.M{"_id": doc.ID}
	update := bson.M{"$set": doc}
	_, err = p.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.KindPersistence, "upsert conversation", err)
	}
	return nil
}

// LoadAllConversations streams every stored document and decodes its
// payload, skipping records that fail to parse rather than aborting the
// whole recovery pass.
func (p *MongoPersister) LoadAllConversations(ctx context.Context) ([]*Conversation, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	cur, err := p.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindPersistence, "query conversations", err)
	}
	defer cur.Close(ctx)

	out := make([]*Conversation, 0)
	for cur.Next(ctx) {
		var doc mongoDocument
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(doc.Payload, &rec); err != nil {
			continue
		}
		c, err := fromRecord(rec)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	if err := cur.Err(); err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindPersistence, "iterate conversations", err)
	}
	return out, nil
}

// DeleteConversation removes the conversation's document. Missing documents
// are not an error.
func (p *MongoPersister) DeleteConversation(ctx context.Context, id ID) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	_, err := p.coll.DeleteOne(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.KindPersistence, "delete conversation", err)
	}
	return nil
}
