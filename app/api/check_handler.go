package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const healthTimeout = 2 * time.Second

type Pinger interface {
	Ping(context.Context) error
}

type QueueInspector interface {
	Pinger
	Length(context.Context) (int64, error)
}

type CheckHandler struct {
	db    Pinger
	queue QueueInspector
}

func NewCheckHandler(db Pinger, queue QueueInspector) *CheckHandler {
	return &CheckHandler{
		db:    db,
		queue: queue,
	}
}

// HandleHealthy reports ok only when Postgres and Redis both answer.
func (h *CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	result := fiber.Map{"result": "ok", "postgres": "ok", "redis": "ok"}
	healthy := true

	if err := h.db.Ping(ctx); err != nil {
		result["postgres"] = err.Error()
		healthy = false
	}
	if err := h.queue.Ping(ctx); err != nil {
		result["redis"] = err.Error()
		healthy = false
	} else if n, err := h.queue.Length(ctx); err == nil {
		result["queue_length"] = n
	}

	if !healthy {
		result["result"] = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(result)
	}
	return c.JSON(result)
}
