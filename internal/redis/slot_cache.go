package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/doctor-appointment-scheduling/internal/appointment"
)

// SlotCache stores generated slot listings as JSON under
// slots:{doctor}:{date}. Entries expire after the TTL given to Set.
type SlotCache struct {
	client *redis.Client
}

var _ appointment.SlotCache = (*SlotCache)(nil)

func NewSlotCache(client *redis.Client) *SlotCache {
	return &SlotCache{client: client}
}

func slotKey(doctorID uuid.UUID, date string) string {
	return fmt.Sprintf("slots:%s:%s", doctorID, date)
}

func (c *SlotCache) Get(ctx context.Context, doctorID uuid.UUID, date string) ([]appointment.Slot, bool, error) {
	raw, err := c.client.Get(ctx, slotKey(doctorID, date)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cached slots: %w", err)
	}

	var slots []appointment.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, false, fmt.Errorf("decode cached slots: %w", err)
	}
	return slots, true, nil
}

func (c *SlotCache) Set(ctx context.Context, doctorID uuid.UUID, date string, slots []appointment.Slot, ttl time.Duration) error {
	raw, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}
	if err := c.client.Set(ctx, slotKey(doctorID, date), raw, ttl).Err(); err != nil {
		return fmt.Errorf("set cached slots: %w", err)
	}
	return nil
}

func (c *SlotCache) Invalidate(ctx context.Context, doctorID uuid.UUID, dates ...string) error {
	if len(dates) == 0 {
		return nil
	}
	keys := make([]string, len(dates))
	for i, d := range dates {
		keys[i] = slotKey(doctorID, d)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate cached slots: %w", err)
	}
	return nil
}
