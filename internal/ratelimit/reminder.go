package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/orgkit/internal/config"
)

const (
	keyReminderCooldown = "invite:reminder:cooldown:%s"
	keyReminderCount    = "invite:reminder:count:%s"

	reminderCountTTL = 30 * 24 * time.Hour
)

// ReminderThrottle limits reminder emails per invitation. Without a redis
// address it is disabled and every reminder is allowed through.
type ReminderThrottle struct {
	client *redis.Client
	policy *config.InvitationPolicyHolder
}

func NewReminderThrottle(cfg config.Config, policy *config.InvitationPolicyHolder) *ReminderThrottle {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return &ReminderThrottle{policy: policy}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	return &ReminderThrottle{client: client, policy: policy}
}

func (t *ReminderThrottle) Enabled() bool {
	return t != nil && t.client != nil
}

// Allow reports whether one more reminder may go out for the invitation key.
// A granted call starts the cooldown and consumes one reminder from the cap.
func (t *ReminderThrottle) Allow(ctx context.Context, inviteKey string) (bool, error) {
	if !t.Enabled() {
		return true, nil
	}

	p := t.policy.Get()

	countKey := fmt.Sprintf(keyReminderCount, inviteKey)
	if p.MaxReminders > 0 {
		sent, err := t.client.Get(ctx, countKey).Int()
		if err != nil && err != redis.Nil {
			return false, err
		}
		if sent >= p.MaxReminders {
			return false, nil
		}
	}

	cooldown := time.Duration(p.ReminderCooldownHours) * time.Hour
	if cooldown > 0 {
		key := fmt.Sprintf(keyReminderCooldown, inviteKey)
		ok, err := t.client.SetNX(ctx, key, "1", cooldown).Result()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	pipe := t.client.TxPipeline()
	pipe.Incr(ctx, countKey)
	pipe.Expire(ctx, countKey, reminderCountTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}
