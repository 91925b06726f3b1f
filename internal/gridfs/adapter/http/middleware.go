package http

import (
	"context"
	"strings"
	"time"

	"gridfs-store/internal/gridfs/domain/repository"
	"gridfs-store/internal/shared/contextkeys"
	"gridfs-store/internal/shared/logger"
	"gridfs-store/internal/shared/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// Middleware bundles the request guards of the file API
type Middleware struct {
	tokens    repository.TokenService
	log       logger.Logger
	rateLimit int
}

// NewMiddleware creates the file API middleware. A nil token service disables authentication.
func NewMiddleware(tokens repository.TokenService, rateLimit int, log logger.Logger) *Middleware {
	return &Middleware{
		tokens:    tokens,
		log:       log.WithComponent("http_middleware"),
		rateLimit: rateLimit,
	}
}

// CORS middleware
func (m *Middleware) CORS() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,DELETE,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders: "Content-Disposition,Content-Length,ETag,X-Request-ID",
		MaxAge:        86400,
	})
}

// RequestID tags every request and its user context with an id
func (m *Middleware) RequestID() fiber.Handler {
	return requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		ContextKey: string(contextkeys.RequestIDKey),
	})
}

// WithRequestContext copies the request id into the user context so loggers pick it up
func (m *Middleware) WithRequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id, ok := c.Locals(string(contextkeys.RequestIDKey)).(string); ok && id != "" {
			c.SetUserContext(utils.WithRequestID(c.UserContext(), id))
		}
		return c.Next()
	}
}

// RateLimiter limits requests per client IP per minute. A zero limit disables it.
func (m *Middleware) RateLimiter() fiber.Handler {
	if m.rateLimit <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:               m.rateLimit,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.Get("X-Forwarded-For", c.IP())
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		},
	})
}

// Protect requires a bearer token allowed to write the bucket named by the ":bucket" param
func (m *Middleware) Protect() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.tokens == nil {
			return c.Next()
		}

		token, err := m.extractToken(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		claims, err := m.tokens.ValidateToken(c.UserContext(), token)
		if err != nil {
			m.log.WithContext(c.UserContext()).Debugf("Rejected token: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		bucket := c.Params("bucket")
		if bucket != "" && !claims.CanWrite(bucket) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Bucket access denied",
			})
		}

		ctx := c.UserContext()
		ctx = utils.WithUserID(ctx, claims.UserID)
		ctx = context.WithValue(ctx, contextkeys.ClaimsKey, claims)
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// extractToken reads the bearer token from the Authorization header or the "token" query parameter
func (m *Middleware) extractToken(c *fiber.Ctx) (string, error) {
	if authHeader := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer "), nil
	}
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", fiber.NewError(fiber.StatusUnauthorized, "No authentication token found")
}
