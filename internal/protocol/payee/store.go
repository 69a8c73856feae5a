package payee

import (
	"context"
	"micropay/internal/model"

	"github.com/ethereum/go-ethereum/common"
)

type (
	// ProofStore keeps the best proof of each channel across restarts.
	ProofStore interface {
		SaveProof(ctx context.Context, p *model.Payment) error
		// LoadProof returns nil, nil when no proof is stored.
		LoadProof(ctx context.Context, id model.ChannelID) (*model.Payment, error)
		DeleteProof(ctx context.Context, id model.ChannelID) error
	}

	// SessionStore keeps session records.
	SessionStore interface {
		SaveSession(ctx context.Context, rec *model.SessionRecord) error
		ListActive(ctx context.Context, receiver common.Address) ([]*model.SessionRecord, error)
	}
)
