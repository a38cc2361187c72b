package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/RARPlayzDev/StudyVerse-sub000/internal/board"
	"github.com/RARPlayzDev/StudyVerse-sub000/internal/domain"
)

const (
	maxBodySize           = 64 << 10
	defaultRequestTimeout = 30 * time.Second
	idempotencyKeyHeader  = "Idempotency-Key"
	streamRoute           = "/api/stream"
)

// Deps are the collaborators of the HTTP surface. Deduper may be nil.
type Deps struct {
	Boards         Boards
	Auth           Authenticator
	Deduper        Deduper
	Logger         *log.Logger
	RequestTimeout time.Duration
}

type handler struct {
	boards  Boards
	deduper Deduper
	logger  *log.Logger
	timeout time.Duration
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = log.StandardLogger()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	h := &handler{
		boards:  deps.Boards,
		deduper: deps.Deduper,
		logger:  deps.Logger,
		timeout: deps.RequestTimeout,
	}

	e.GET("/healthz", healthz)

	g := e.Group("/api", RequestMetrics(deps.Logger), GzipRequestMiddleware(), Authenticate(deps.Auth))
	g.GET("/board", h.getBoard)
	g.POST("/tasks", h.createTask)
	g.PATCH("/tasks/:id", h.editTask)
	g.POST("/tasks/:id/move", h.moveTask)
	g.DELETE("/tasks/:id", h.deleteTask)
	g.POST("/board/drag", h.dragTask)
	g.GET("/stream", h.streamBoard)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// withBoard acquires the caller's board, waits for its first snapshot and
// runs fn under the request timeout.
func (h *handler) withBoard(c echo.Context, fn func(ctx context.Context, m *board.Manager) error) error {
	m, release, err := h.boards.Acquire(ownerFrom(c))
	if err != nil {
		return h.fail(c, "session", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	start := time.Now()
	err = m.Ready(ctx)
	metricsFrom(c).ObserveReady(time.Since(start))
	if err != nil {
		return h.fail(c, "ready", err)
	}
	return fn(ctx, m)
}

// decodeBody reads a JSON body into v. When it reports false the 400
// response has already been written.
func decodeBody(c echo.Context, v any) (bool, error) {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		metricsFrom(c).SetErrorStage("decode")
		return false, c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	return true, nil
}

func (h *handler) getBoard(c echo.Context) error {
	return h.withBoard(c, func(ctx context.Context, m *board.Manager) error {
		cols := m.Columns()
		metrics := metricsFrom(c)
		metrics.SetTasksReturned(cols.Len())

		start := time.Now()
		err := c.JSON(http.StatusOK, newBoardResponse(cols))
		metrics.ObserveEncode(time.Since(start))
		return err
	})
}

func (h *handler) createTask(c echo.Context) error {
	var fields domain.NewTask
	if ok, err := decodeBody(c, &fields); !ok {
		return err
	}

	owner := ownerFrom(c)
	key := c.Request().Header.Get(idempotencyKeyHeader)
	if key != "" && h.deduper != nil {
		added, stored, err := h.deduper.Claim(c.Request().Context(), owner, key)
		if err != nil {
			// Fall through without deduplication rather than refuse the write.
			h.logger.WithError(err).WithField("owner", owner).Warn("idempotency check failed")
			key = ""
		} else if !added {
			if stored != nil {
				return c.JSONBlob(http.StatusCreated, stored)
			}
			return h.fail(c, "idempotency", errDuplicateRequest)
		}
	} else {
		key = ""
	}

	return h.withBoard(c, func(ctx context.Context, m *board.Manager) error {
		start := time.Now()
		task, err := m.Create(ctx, fields)
		metricsFrom(c).ObserveOp(time.Since(start))
		if err != nil {
			if key != "" {
				if rerr := h.deduper.Release(context.WithoutCancel(ctx), owner, key); rerr != nil {
					h.logger.WithError(rerr).WithField("owner", owner).Warn("failed to release idempotency key")
				}
			}
			return h.fail(c, "create", err)
		}

		body, err := sonic.Marshal(task)
		if err != nil {
			return h.fail(c, "encode_response", err)
		}
		if key != "" {
			if err := h.deduper.Complete(context.WithoutCancel(ctx), owner, key, body); err != nil {
				h.logger.WithError(err).WithField("owner", owner).Warn("failed to store idempotent response")
			}
		}
		return c.JSONBlob(http.StatusCreated, body)
	})
}

func (h *handler) editTask(c echo.Context) error {
	var upd domain.TaskUpdate
	if ok, err := decodeBody(c, &upd); !ok {
		return err
	}
	id := c.Param("id")
	return h.withBoard(c, func(ctx context.Context, m *board.Manager) error {
		return h.respond(c, "edit", m.Edit(ctx, id, upd))
	})
}

func (h *handler) moveTask(c echo.Context) error {
	var req moveRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}
	id := c.Param("id")
	return h.withBoard(c, func(ctx context.Context, m *board.Manager) error {
		return h.respond(c, "move", m.Move(ctx, id, req.Status))
	})
}

func (h *handler) deleteTask(c echo.Context) error {
	id := c.Param("id")
	return h.withBoard(c, func(ctx context.Context, m *board.Manager) error {
		return h.respond(c, "delete", m.Delete(ctx, id))
	})
}

func (h *handler) dragTask(c echo.Context) error {
	var req dragRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}
	return h.withBoard(c, func(ctx context.Context, m *board.Manager) error {
		return h.respond(c, "drag", m.Drop(ctx, req.drag()))
	})
}

func (h *handler) respond(c echo.Context, stage string, err error) error {
	if err != nil {
		return h.fail(c, stage, err)
	}
	return c.NoContent(http.StatusNoContent)
}
