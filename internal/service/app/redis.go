package app

import (
	"context"
	"encoding/json"
	"fmt"
	"micropay/internal/protocol/payer"
	"micropay/internal/service/redis"

	"github.com/ethereum/go-ethereum/common"
)

// ChannelStore remembers the channel a payer opened to an endpoint so later
// invocations can attach to it.
type ChannelStore struct {
	redisService *redis.RedisService
}

func NewChannelStore(redisSvc *redis.RedisService) *ChannelStore {
	return &ChannelStore{redisService: redisSvc}
}

func channelKey(sender common.Address, endpoint string) string {
	return fmt.Sprintf("payer:%s:channel:%s", sender.Hex(), endpoint)
}

func (c *ChannelStore) SaveChannel(ctx context.Context, sender common.Address, endpoint string, ch *payer.Channel) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return c.redisService.Set(ctx, channelKey(sender, endpoint), data, 0)
}

// GetChannel returns nil, nil when no channel was saved.
func (c *ChannelStore) GetChannel(ctx context.Context, sender common.Address, endpoint string) (*payer.Channel, error) {
	v, ok, err := c.redisService.Get(ctx, channelKey(sender, endpoint))
	if err != nil || !ok {
		return nil, err
	}

	var ch payer.Channel
	if err := json.Unmarshal([]byte(v), &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *ChannelStore) DeleteChannel(ctx context.Context, sender common.Address, endpoint string) error {
	return c.redisService.Del(ctx, channelKey(sender, endpoint))
}
