package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// InvitationPolicy tunes the invitation flows without a redeploy.
type InvitationPolicy struct {
	// ReminderCooldownHours is the minimum gap between reminder emails to
	// the same invitee.
	ReminderCooldownHours int `mapstructure:"reminderCooldownHours"`
	// MaxReminders caps how many reminders one invitation may generate.
	MaxReminders int `mapstructure:"maxReminders"`
	// NotifyActiveInvitees controls the courtesy email sent when an
	// already active user is added directly.
	NotifyActiveInvitees bool `mapstructure:"notifyActiveInvitees"`
}

func DefaultInvitationPolicy() InvitationPolicy {
	return InvitationPolicy{
		ReminderCooldownHours: 24,
		MaxReminders:          3,
		NotifyActiveInvitees:  true,
	}
}

// InvitationPolicyHolder serves the current policy and hot-reloads it when
// the config file changes.
type InvitationPolicyHolder struct {
	current atomic.Value // holds InvitationPolicy
}

func NewInvitationPolicyHolder() (*InvitationPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("invitations")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/orgkit/config") // Volume-mounted config
	v.AddConfigPath("/etc/orgkit")            // System config
	v.AddConfigPath(".")                      // Current directory (dev mode)

	v.SetEnvPrefix("ORGKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultInvitationPolicy()
		v.SetDefault("invitations.reminderCooldownHours", defaults.ReminderCooldownHours)
		v.SetDefault("invitations.maxReminders", defaults.MaxReminders)
		v.SetDefault("invitations.notifyActiveInvitees", defaults.NotifyActiveInvitees)
	}

	var policy InvitationPolicy
	if err := v.UnmarshalKey("invitations", &policy); err != nil {
		return nil, err
	}
	if err := validateInvitationPolicy(policy); err != nil {
		return nil, err
	}

	holder := &InvitationPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated InvitationPolicy
		if err := v.UnmarshalKey("invitations", &updated); err != nil {
			log.Printf("[invitation-policy] reload failed: %v", err)
			return
		}
		if err := validateInvitationPolicy(updated); err != nil {
			log.Printf("[invitation-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[invitation-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// StaticInvitationPolicy wraps a fixed policy, with no file watching.
func StaticInvitationPolicy(policy InvitationPolicy) *InvitationPolicyHolder {
	holder := &InvitationPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *InvitationPolicyHolder) Get() InvitationPolicy {
	return h.current.Load().(InvitationPolicy)
}

func validateInvitationPolicy(policy InvitationPolicy) error {
	if policy.ReminderCooldownHours < 0 {
		return errors.New("invitations.reminderCooldownHours cannot be negative")
	}
	if policy.MaxReminders < 0 {
		return errors.New("invitations.maxReminders cannot be negative")
	}
	return nil
}
