package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RequestLogger logs one line per request. Errors are resolved through the
// app's error handler first so the logged status is the one sent. Paths under
// skipPrefix (metrics scrapes, health probes) are logged at debug.
func RequestLogger(logger *slog.Logger, skipPrefix ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if err := c.Next(); err != nil {
			if hErr := c.App().ErrorHandler(c, err); hErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		level := slog.LevelInfo
		path := c.Path()
		for _, prefix := range skipPrefix {
			if strings.HasPrefix(path, prefix) {
				level = slog.LevelDebug
				break
			}
		}

		logger.Log(c.UserContext(), level, "request",
			"method", c.Method(),
			"path", path,
			"status", c.Response().StatusCode(),
			"latency", time.Since(start),
			"ip", c.IP(),
		)
		return nil
	}
}
