package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"webrag/types"
)

type Submitter interface {
	Submit(ctx context.Context, urls []string) ([]types.URL, error)
}

type IngestHandler struct {
	submitter Submitter
}

func NewIngestHandler(submitter Submitter) *IngestHandler {
	return &IngestHandler{
		submitter: submitter,
	}
}

// HandleIngest accepts a batch of URLs and answers 202 with no body once the
// jobs are queued.
func (h *IngestHandler) HandleIngest(c *fiber.Ctx) error {
	var params types.IngestRequest
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if len(params.URLs) == 0 {
		return ErrClient(types.ErrEmptyURLList)
	}

	if errs := types.Validate(&params); len(errs) > 0 {
		return NewValidationError(errs)
	}

	if _, err := h.submitter.Submit(c.UserContext(), params.URLs); err != nil {
		if errors.Is(err, types.ErrEmptyURLList) {
			return ErrClient(err)
		}
		return err
	}

	// SendStatus would write the status text as a body.
	c.Status(fiber.StatusAccepted)
	return nil
}
