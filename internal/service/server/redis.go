package server

import (
	"context"
	"encoding/json"
	"fmt"
	"micropay/internal/model"
	"micropay/internal/protocol/payee"
	"micropay/internal/service/redis"

	"github.com/pkg/errors"
)

// ProofStore keeps the best proof of each channel under one key and the
// accepted proofs in order under a second one.
type ProofStore struct {
	redisService *redis.RedisService
}

var _ payee.ProofStore = (*ProofStore)(nil)

func NewProofStore(redisSvc *redis.RedisService) *ProofStore {
	return &ProofStore{redisService: redisSvc}
}

func bestKey(id model.ChannelID) string {
	return fmt.Sprintf("proof:best:%s", id.Hex())
}

func historyKey(id model.ChannelID) string {
	return fmt.Sprintf("proof:history:%s", id.Hex())
}

func (s *ProofStore) SaveProof(ctx context.Context, p *model.Payment) error {
	data, err := json.Marshal(p.ToSerialized())
	if err != nil {
		return err
	}
	if err := s.redisService.Set(ctx, bestKey(p.ChannelID), data, 0); err != nil {
		return errors.Wrap(err, "save best proof")
	}
	return errors.Wrap(s.redisService.RPush(ctx, historyKey(p.ChannelID), data), "append proof history")
}

func (s *ProofStore) LoadProof(ctx context.Context, id model.ChannelID) (*model.Payment, error) {
	v, ok, err := s.redisService.Get(ctx, bestKey(id))
	if err != nil {
		return nil, errors.Wrap(err, "load best proof")
	}
	if !ok {
		return nil, nil
	}
	return decodeProof(v)
}

// DeleteProof drops the best proof. The history is kept.
func (s *ProofStore) DeleteProof(ctx context.Context, id model.ChannelID) error {
	return s.redisService.Del(ctx, bestKey(id))
}

// History lists the accepted proofs of a channel, oldest first.
func (s *ProofStore) History(ctx context.Context, id model.ChannelID) ([]*model.Payment, error) {
	vals, err := s.redisService.LRange(ctx, historyKey(id))
	if err != nil {
		return nil, errors.Wrap(err, "load proof history")
	}

	res := make([]*model.Payment, 0, len(vals))
	for _, v := range vals {
		p, err := decodeProof(v)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func decodeProof(v string) (*model.Payment, error) {
	var sp model.SerializedPayment
	if err := json.Unmarshal([]byte(v), &sp); err != nil {
		return nil, errors.Wrap(err, "decode proof")
	}
	return model.FromSerialized(sp)
}
