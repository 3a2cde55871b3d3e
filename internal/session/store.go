package session

import (
	"strings"

	"github.com/openroutes/github-oauth/internal/config"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// NewStateStore selects a state store from the configuration: Redis when an
// address is configured, process memory otherwise.
func NewStateStore(cfg *config.Config) StateStore {
	addr := strings.TrimSpace(cfg.Session.RedisAddr)
	if addr == "" {
		return NewMemoryStateStore()
	}
	log.WithField("backend", "redis").Debug("using redis state store")
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Session.RedisPassword,
		DB:       cfg.Session.RedisDB,
	})
	return NewRedisStateStore(client)
}
