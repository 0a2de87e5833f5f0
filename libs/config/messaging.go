package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Messaging holds the outbox, inbox and consumer knobs for one service.
type Messaging struct {
	Outbox   OutboxSettings
	Inbox    InboxSettings
	Consumer ConsumerSettings
}

type OutboxSettings struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetry     int
	CycleTimeout time.Duration
	LeaseTTL     time.Duration
}

type InboxSettings struct {
	Enabled bool
}

type ConsumerSettings struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DeadLetter     bool
}

// LoadMessaging resolves messaging settings for service. Sources, lowest
// precedence first: built-in defaults, the YAML/JSON file named by
// MESSAGING_CONFIG_FILE, MESSAGING_* environment variables. Keys under
// services.<service> override the global keys, so
// MESSAGING_SERVICES_HOTEL_SERVICE_INBOX_ENABLED=false only affects
// hotel-service.
func LoadMessaging(service string) (Messaging, error) {
	v := viper.New()
	v.SetEnvPrefix("MESSAGING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.batch_size", 20)
	v.SetDefault("outbox.max_retry", 5)
	v.SetDefault("outbox.cycle_timeout", 30*time.Second)
	v.SetDefault("outbox.lease_ttl", 15*time.Second)
	v.SetDefault("inbox.enabled", true)
	v.SetDefault("consumer.max_attempts", 5)
	v.SetDefault("consumer.initial_backoff", 200*time.Millisecond)
	v.SetDefault("consumer.max_backoff", 5*time.Second)
	v.SetDefault("consumer.dead_letter", true)

	if path := strings.TrimSpace(os.Getenv("MESSAGING_CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Messaging{}, fmt.Errorf("read messaging config %s: %w", path, err)
		}
	}

	key := func(k string) string {
		scoped := "services." + service + "." + k
		if service != "" && v.IsSet(scoped) {
			return scoped
		}
		return k
	}

	cfg := Messaging{
		Outbox: OutboxSettings{
			PollInterval: v.GetDuration(key("outbox.poll_interval")),
			BatchSize:    v.GetInt(key("outbox.batch_size")),
			MaxRetry:     v.GetInt(key("outbox.max_retry")),
			CycleTimeout: v.GetDuration(key("outbox.cycle_timeout")),
			LeaseTTL:     v.GetDuration(key("outbox.lease_ttl")),
		},
		Inbox: InboxSettings{
			Enabled: v.GetBool(key("inbox.enabled")),
		},
		Consumer: ConsumerSettings{
			MaxAttempts:    v.GetInt(key("consumer.max_attempts")),
			InitialBackoff: v.GetDuration(key("consumer.initial_backoff")),
			MaxBackoff:     v.GetDuration(key("consumer.max_backoff")),
			DeadLetter:     v.GetBool(key("consumer.dead_letter")),
		},
	}
	if err := cfg.validate(); err != nil {
		return Messaging{}, err
	}
	return cfg, nil
}

func (m Messaging) validate() error {
	switch {
	case m.Outbox.PollInterval <= 0:
		return fmt.Errorf("outbox.poll_interval must be positive (got %s)", m.Outbox.PollInterval)
	case m.Outbox.BatchSize <= 0:
		return fmt.Errorf("outbox.batch_size must be positive (got %d)", m.Outbox.BatchSize)
	case m.Outbox.MaxRetry <= 0:
		return fmt.Errorf("outbox.max_retry must be positive (got %d)", m.Outbox.MaxRetry)
	case m.Consumer.MaxAttempts <= 0:
		return fmt.Errorf("consumer.max_attempts must be positive (got %d)", m.Consumer.MaxAttempts)
	}
	return nil
}
