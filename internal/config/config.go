package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	// 客户端轮询节奏，随 /api/v1/sync 下发，保证各端使用同一套固定间隔。
	ConversationPollSeconds int
	MessagePollSeconds      int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	return Config{
		Port:                    getenv("APP_PORT", "8080"),
		DatabaseDSN:             getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatsphere port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:               getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:                     getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes:   getint("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:     getint("REFRESH_TOKEN_TTL_DAYS", 7),
		ConversationPollSeconds: getint("CONVERSATION_POLL_SECONDS", 5),
		MessagePollSeconds:      getint("MESSAGE_POLL_SECONDS", 2),
	}
}

// Validate 检查配置是否可用于启动，dev 之外不允许默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("database dsn is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == "dev-secret-change-me" {
		return errors.New("default jwt secret is not allowed outside dev")
	}
	if cfg.ConversationPollSeconds <= 0 || cfg.MessagePollSeconds <= 0 {
		return errors.New("poll intervals must be positive")
	}
	return nil
}
