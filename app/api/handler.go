package api

import (
	"bufio"
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"webrag/model"
	"webrag/types"
)

type Answerer interface {
	Answer(ctx context.Context, query string) (string, error)
	AnswerStream(ctx context.Context, query string) (<-chan model.StreamEvent, error)
}

type QueryHandler struct {
	agent  Answerer
	logger *slog.Logger
}

func NewQueryHandler(agent Answerer, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{
		agent:  agent,
		logger: logger,
	}
}

func (h *QueryHandler) parse(c *fiber.Ctx) (string, error) {
	var params types.QueryRequest
	if c.BodyParser(&params) != nil {
		return "", ErrBadRequest()
	}
	if errs := types.Validate(&params); len(errs) > 0 {
		return "", ErrClient(types.ErrEmptyQuery)
	}
	return params.Query, nil
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	query, err := h.parse(c)
	if err != nil {
		return err
	}

	answer, err := h.agent.Answer(c.UserContext(), query)
	if err != nil {
		if errors.Is(err, types.ErrEmptyQuery) {
			return ErrClient(err)
		}
		return err
	}

	return c.JSON(types.QueryResponse{Answer: answer})
}

// HandleQueryStream writes the answer as plain text fragments while the
// model produces them. A write failure means the client went away and stops
// generation.
func (h *QueryHandler) HandleQueryStream(c *fiber.Ctx) error {
	query, err := h.parse(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.UserContext())
	events, err := h.agent.AnswerStream(ctx, query)
	if err != nil {
		cancel()
		if errors.Is(err, types.ErrEmptyQuery) {
			return ErrClient(err)
		}
		return err
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		for ev := range events {
			if ev.Err != nil {
				h.logger.Error("answer stream failed", "error", ev.Err)
				_, _ = w.WriteString("\n[error] answer generation failed")
				_ = w.Flush()
				return
			}
			if _, err := w.WriteString(ev.Text); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				h.logger.Debug("client disconnected during stream", "error", err)
				return
			}
		}
	})
	return nil
}
