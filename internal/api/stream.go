package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

var (
	sseDataPrefix = []byte("data: ")
	sseTerminator = []byte("\n\n")
)

// streamBoard pushes the classified board as server-sent events, once on
// connect and again after every change to the owner's view.
func (h *handler) streamBoard(c echo.Context) error {
	m, release, err := h.boards.Acquire(ownerFrom(c))
	if err != nil {
		return h.fail(c, "session", err)
	}
	defer release()

	readyCtx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	start := time.Now()
	err = m.Ready(readyCtx)
	cancel()
	metricsFrom(c).ObserveReady(time.Since(start))
	if err != nil {
		return h.fail(c, "ready", err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	updates, stop := m.Updates()
	defer stop()

	ctx := c.Request().Context()
	sent := 0
	for {
		cols := m.Columns()
		data, err := sonic.Marshal(newBoardResponse(cols))
		if err != nil {
			metricsFrom(c).SetErrorStage("encode")
			return err
		}
		for _, chunk := range [][]byte{sseDataPrefix, data, sseTerminator} {
			if _, err := res.Write(chunk); err != nil {
				metricsFrom(c).SetErrorStage("write")
				return nil
			}
		}
		flusher.Flush()
		sent++
		metricsFrom(c).SetTasksReturned(cols.Len())

		select {
		case <-ctx.Done():
			return nil
		case _, open := <-updates:
			if !open {
				h.logger.WithField("owner", m.Owner()).WithField("events_sent", sent).Debug("board session ended, closing stream")
				return nil
			}
		}
	}
}
