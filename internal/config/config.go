package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the intervention API.
type Config struct {
	AppName             string
	AppEnv              string
	AppPort             string
	DatabaseURL         string
	RedisURL            string
	NATSURL             string
	AMQPURL             string
	AMQPExchange        string
	AMQPRoutingKey      string
	NotificationChannel string
	MentorWebhookURL    string
	MentorNotifyTimeout time.Duration
	AutoUnlockAfter     time.Duration
	StudentLockTTL      time.Duration
	StatusStreamRefresh time.Duration
	CheckInRateLimit    int
	JWTSecret           string
	CORSOrigins         string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// MentorAuthEnabled reports whether mentor routes require a bearer token.
func (c Config) MentorAuthEnabled() bool {
	return c.JWTSecret != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Intervention API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("amqp.exchange", "gema.mentor")
	v.SetDefault("amqp.routing_key", "intervention.opened")
	v.SetDefault("notification.channel", "gema")
	v.SetDefault("mentor.notify_timeout", "5s")
	v.SetDefault("intervention.auto_unlock", "12h")
	v.SetDefault("student.lock_ttl", "10s")
	v.SetDefault("status_stream.refresh", "1m")
	v.SetDefault("checkin.rate_limit", 30)
	v.SetDefault("cors.origins", "*")

	notifyTimeout, err := parseDuration(v, "mentor.notify_timeout")
	if err != nil {
		return Config{}, err
	}
	autoUnlock, err := parseDuration(v, "intervention.auto_unlock")
	if err != nil {
		return Config{}, err
	}
	lockTTL, err := parseDuration(v, "student.lock_ttl")
	if err != nil {
		return Config{}, err
	}
	streamRefresh, err := parseDuration(v, "status_stream.refresh")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:             v.GetString("app.name"),
		AppEnv:              v.GetString("app.env"),
		AppPort:             v.GetString("app.port"),
		DatabaseURL:         v.GetString("database.url"),
		RedisURL:            v.GetString("redis.url"),
		NATSURL:             v.GetString("nats.url"),
		AMQPURL:             v.GetString("amqp.url"),
		AMQPExchange:        v.GetString("amqp.exchange"),
		AMQPRoutingKey:      v.GetString("amqp.routing_key"),
		NotificationChannel: v.GetString("notification.channel"),
		MentorWebhookURL:    v.GetString("mentor.webhook_url"),
		MentorNotifyTimeout: notifyTimeout,
		AutoUnlockAfter:     autoUnlock,
		StudentLockTTL:      lockTTL,
		StatusStreamRefresh: streamRefresh,
		CheckInRateLimit:    v.GetInt("checkin.rate_limit"),
		JWTSecret:           v.GetString("jwt.secret"),
		CORSOrigins:         v.GetString("cors.origins"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be provided")
	}

	if cfg.AutoUnlockAfter <= 0 {
		return Config{}, fmt.Errorf("intervention auto unlock must be positive")
	}

	if cfg.CheckInRateLimit <= 0 {
		cfg.CheckInRateLimit = 30
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}
