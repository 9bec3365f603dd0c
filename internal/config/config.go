package config

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server Server
	DB     DB
	Redis  Redis
	JWT    JWT
	Sync   Sync
	Gate   Gate
	Inbox  Inbox
	State  State
}

type Server struct {
	Addr string
}

type DB struct {
	DSN string
}

type Redis struct {
	Addr string
}

type JWT struct {
	Secret    string
	ExpiresIn time.Duration
}

// Sync holds the cadences of the timer-driven reconciliation sources. The
// conversation poll is faster than the inbox poll because an open conversation
// has tighter latency expectations than the inbox list.
type Sync struct {
	ConversationPoll time.Duration
	InboxPoll        time.Duration
	MarkReadBackstop time.Duration
	BadgeForeground  time.Duration
	BadgeBackground  time.Duration
}

// Gate configures the unlock gate. OperatorBypass lets the distinguished
// operator identity send past the mutual-consent check; it defaults to off
// and every bypassed send is logged.
type Gate struct {
	OperatorBypass bool
	OperatorID     int
}

type Inbox struct {
	MaxSuggestions     int
	SuggestionMinScore float64
}

// State is where per-device local state (dismissed suggestions) is kept.
type State struct {
	Dir string
}

func LoadConfig(filename string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(filename)
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Defaults plus environment are enough to run.
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		slog.Error("unable to unmarshal config", "err", err)
		return nil, err
	}

	// Secrets come from the environment, never the yaml file.
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.DB.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}

	if c.DB.DSN == "" {
		return nil, errors.New("DB_DSN is not set")
	}
	if c.JWT.Secret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("jwt.expiresin", 24*time.Hour)

	v.SetDefault("sync.conversationpoll", 3*time.Second)
	v.SetDefault("sync.inboxpoll", 15*time.Second)
	v.SetDefault("sync.markreadbackstop", 5*time.Second)
	v.SetDefault("sync.badgeforeground", 10*time.Second)
	v.SetDefault("sync.badgebackground", 60*time.Second)

	v.SetDefault("gate.operatorbypass", false)
	v.SetDefault("gate.operatorid", 0)

	v.SetDefault("inbox.maxsuggestions", 5)
	v.SetDefault("inbox.suggestionminscore", 0.75)

	v.SetDefault("state.dir", "./state")
}
