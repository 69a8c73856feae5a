package session

import (
	"context"
	"micropay/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	SessionRepo struct {
		collection *mongo.Collection
	}
)

func NewSessionRepo(db *mongo.Database) *SessionRepo {
	return &SessionRepo{
		collection: db.Collection("sessions"),
	}
}

// EnsureIndexes makes channel_id unique so SaveSession can upsert on it.
func (r *SessionRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "channel_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "state", Value: 1}},
		},
	})
	return err
}

// SaveSession inserts or updates the record of rec.ChannelID. The creation
// time of an existing record is kept.
func (r *SessionRepo) SaveSession(ctx context.Context, rec *model.SessionRecord) error {
	filter := bson.M{
		"channel_id": rec.ChannelID,
	}

	set := bson.M{
		"sender":     rec.Sender,
		"receiver":   rec.Receiver,
		"state":      rec.State,
		"updated_at": rec.UpdatedAt,
	}
	if rec.BestValue != "" {
		set["best_value"] = rec.BestValue
	}
	if rec.ClaimTx != "" {
		set["claim_tx"] = rec.ClaimTx
	}

	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": rec.CreatedAt},
	}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (r *SessionRepo) ListActive(ctx context.Context, receiver common.Address) ([]*model.SessionRecord, error) {
	filter := bson.M{
		"receiver": receiver.Hex(),
		"state":    bson.M{"$ne": model.SessionClosed},
	}

	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}

	var recs []*model.SessionRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}

	return recs, nil
}
