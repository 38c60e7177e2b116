package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/agenthubhq/agenthub/internal/pkg/env"
)

// apiLimiter rate-limits the API surface. Counters live in Redis so the
// limit holds across instances; keying prefers the API key over the client
// IP so NATed tenants are not throttled collectively.
func apiLimiter() fiber.Handler {
	max := env.GetEnvInt("API_RATE_LIMIT_MAX", 120)

	storage := redis.New(redis.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnvInt("CACHE_PORT", 6379),
		Database: 1,
		Reset:    false,
	})

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			if key := c.Get("X-API-Key"); key != "" {
				return key
			}
			if auth := c.Get(fiber.HeaderAuthorization); auth != "" {
				return auth
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		},
	})
}
