package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/threadsage/server/internal/agent/model"
	"github.com/threadsage/server/internal/agent/pipeline"
	errx "github.com/threadsage/server/internal/core/error"
	logx "github.com/threadsage/server/pkg/logger"
)

// UserHeader carries the caller's user id.
const UserHeader = "X-User-ID"

// Answerer answers one question.
type Answerer interface {
	Answer(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// RunLister lists recorded runs of a thread, newest first.
type RunLister interface {
	Recent(ctx context.Context, userID, threadID string, limit int) ([]model.RunRecord, error)
}

// HistoryStore clears and counts the stored conversation of a thread.
type HistoryStore interface {
	ClearHistory(ctx context.Context, userID, threadID string) error
	MessageCount(ctx context.Context, userID, threadID string) (int, error)
}

// Options configures the HTTP server.
type Options struct {
	Answerer Answerer
	// Runs may be nil when the run log is disabled.
	Runs RunLister
	// History may be nil; the history routes then answer 404.
	History HistoryStore
	// Metrics is mounted on /metrics when non-nil.
	Metrics        http.Handler
	RequestTimeout time.Duration
}

type queryRequest struct {
	ThreadID string `json:"thread_id"`
	Question string `json:"question"`
	Mode     string `json:"mode"`
}

type runView struct {
	RunID         string        `json:"run_id"`
	Question      string        `json:"question"`
	ResolvedQuery string        `json:"resolved_query"`
	Decomposed    bool          `json:"decomposed"`
	SubQueries    []string      `json:"sub_queries"`
	Answer        string        `json:"answer"`
	Sources       model.Sources `json:"sources"`
	Mode          model.Mode    `json:"mode"`
	CostUSD       float64       `json:"cost_usd"`
	DurationMS    int64         `json:"duration_ms"`
	CreatedAt     time.Time     `json:"created_at"`
}

// New builds the echo instance with every route mounted.
func New(opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if opts.RequestTimeout > 0 {
		e.Use(middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{Timeout: opts.RequestTimeout}))
	}

	h := &handler{answerer: opts.Answerer, runs: opts.Runs, history: opts.History}
	e.GET("/healthz", h.health)
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	v1 := e.Group("/v1")
	v1.POST("/query", h.query)
	v1.GET("/threads/:thread/runs", h.listRuns)
	v1.DELETE("/threads/:thread/history", h.clearHistory)
	return e
}

// Run serves until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, addr string, e *echo.Echo) error {
	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logx.Info().Msg("HTTP server shutting down")
	return e.Shutdown(shutdownCtx)
}

type handler struct {
	answerer Answerer
	runs     RunLister
	history  HistoryStore
}

// userID returns the validated caller id.
func userID(c echo.Context) (string, error) {
	id := strings.TrimSpace(c.Request().Header.Get(UserHeader))
	if id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing "+UserHeader+" header")
	}
	if err := model.ValidateID("user id", id); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return id, nil
}

func checkThread(id string) error {
	if err := model.ValidateID("thread_id", id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func (h *handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) query(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	var body queryRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(body.ThreadID) == "" || strings.TrimSpace(body.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread_id and question are required")
	}
	if err := checkThread(body.ThreadID); err != nil {
		return err
	}

	resp, err := h.answerer.Answer(c.Request().Context(), pipeline.Request{
		UserID:   uid,
		ThreadID: body.ThreadID,
		Question: body.Question,
		Mode:     model.Mode(body.Mode),
	})
	if err != nil {
		logx.Error().
			Str("user_id", uid).
			Str("thread_id", body.ThreadID).
			Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
			Err(err).
			Msg("Query failed")
		return echo.NewHTTPError(statusFor(err), publicMessage(err))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) listRuns(c echo.Context) error {
	if h.runs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run log is disabled")
	}
	uid, err := userID(c)
	if err != nil {
		return err
	}
	tid := c.Param("thread")
	if err := checkThread(tid); err != nil {
		return err
	}

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 100")
		}
		limit = n
	}

	records, err := h.runs.Recent(c.Request().Context(), uid, tid, limit)
	if err != nil {
		logx.Error().Err(err).Msg("Listing runs failed")
		return echo.NewHTTPError(http.StatusInternalServerError, errx.SystemErrorMessage)
	}

	out := make([]runView, 0, len(records))
	for _, r := range records {
		out = append(out, runView{
			RunID:         r.RunID,
			Question:      r.Question,
			ResolvedQuery: r.ResolvedQuery,
			Decomposed:    r.Decomposed,
			SubQueries:    r.SubQueries,
			Answer:        r.Answer,
			Sources:       r.Sources,
			Mode:          r.Mode,
			CostUSD:       r.CostUSD,
			DurationMS:    r.Duration.Milliseconds(),
			CreatedAt:     r.CreatedAt,
		})
	}
	resp := map[string]any{"runs": out}
	if h.history != nil {
		n, err := h.history.MessageCount(c.Request().Context(), uid, tid)
		if err != nil {
			logx.Warn().Str("thread_id", tid).Err(err).Msg("Counting history messages failed")
		} else {
			resp["message_count"] = n
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) clearHistory(c echo.Context) error {
	if h.history == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation history is disabled")
	}
	uid, err := userID(c)
	if err != nil {
		return err
	}
	tid := c.Param("thread")
	if err := checkThread(tid); err != nil {
		return err
	}

	if err := h.history.ClearHistory(c.Request().Context(), uid, tid); err != nil {
		logx.Error().Str("thread_id", tid).Err(err).Msg("Clearing history failed")
		return echo.NewHTTPError(statusFor(err), publicMessage(err))
	}
	logx.Info().Str("user_id", uid).Str("thread_id", tid).Msg("Conversation history cleared")
	return c.NoContent(http.StatusNoContent)
}

func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch errx.KindOf(err) {
	case errx.KindRetrieval, errx.KindGateway, errx.KindSchema, errx.KindStorage:
		return http.StatusBadGateway
	case errx.KindConfig:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func publicMessage(err error) string {
	if errx.IsKind(err, errx.KindRetrieval) {
		return errx.RetrievalErrorMessage
	}
	return errx.SystemErrorMessage
}
