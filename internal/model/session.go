package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SessionState string

const (
	SessionActive     SessionState = "active"
	SessionTerminated SessionState = "terminated"
	SessionClosed     SessionState = "closed"
)

type (
	// SessionRecord is the persisted view of a payee session.
	SessionRecord struct {
		ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
		ChannelID string             `bson:"channel_id" json:"channel_id"`
		Sender    string             `bson:"sender" json:"sender"`
		Receiver  string             `bson:"receiver" json:"receiver"`
		State     SessionState       `bson:"state" json:"state"`
		BestValue string             `bson:"best_value,omitempty" json:"best_value,omitempty"`
		ClaimTx   string             `bson:"claim_tx,omitempty" json:"claim_tx,omitempty"`
		CreatedAt time.Time          `bson:"created_at" json:"created_at"`
		UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
	}
)
