// Package api serves the submit-and-poll HTTP surface.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/app"
	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/jobs"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/Veraticus/the-spice-must-match/internal/storage"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

const dateLayout = "2006-01-02"

// Server exposes an App over HTTP.
type Server struct {
	app    *app.App
	fiber  *fiber.App
	logger *slog.Logger
}

// NewServer registers every route.
func NewServer(a *app.App, logger *slog.Logger) *Server {
	s := &Server{
		app:    a,
		logger: common.Component(logger, "api"),
	}
	s.fiber = fiber.New(fiber.Config{
		AppName:               "spice",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	s.fiber.Get("/api/health", s.health)
	if m := a.Metrics(); m != nil {
		s.fiber.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	jobsAPI := s.fiber.Group("/api/jobs")
	jobsAPI.Get("/", s.listJobs)
	jobsAPI.Get("/:id", s.getJob)
	jobsAPI.Post("/match", s.submitMatch)
	jobsAPI.Post("/enrich", s.submitEnrich)
	jobsAPI.Post("/retry", s.submitRetry)
	jobsAPI.Post("/sync", s.submitSync)
	jobsAPI.Post("/sync/ofx", s.submitOFX)

	s.fiber.Get("/api/cache/stats", s.cacheStats)
	s.fiber.Post("/api/candidates", s.importCandidates)

	s.fiber.Get("/api/transactions/:id/sources", s.listSources)
	s.fiber.Post("/api/transactions/:id/primary", s.setPrimary)
	s.fiber.Post("/api/transactions/:id/links", s.link)
	s.fiber.Post("/api/sources/:id/verify", s.verify)
	s.fiber.Delete("/api/sources/:id", s.unlink)

	return s
}

// Handler returns the underlying fiber app, used by tests.
func (s *Server) Handler() *fiber.App {
	return s.fiber
}

// Listen serves until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("HTTP server listening", "addr", addr)
	return s.fiber.Listen(addr)
}

// ListenTLS serves HTTPS with cert until Shutdown.
func (s *Server) ListenTLS(addr string, cert tls.Certificate) error {
	s.logger.Info("HTTPS server listening", "addr", addr)
	return s.fiber.ListenTLSWithCertificate(addr, cert)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.fiber.ShutdownWithContext(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// handleError maps domain errors to status codes.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var (
		status = fiber.StatusInternalServerError
		body   = errorResponse{Error: err.Error()}
		verr   *common.ValidationError
		ferr   *fiber.Error
	)
	switch {
	case errors.As(err, &verr):
		status, body.Field = fiber.StatusBadRequest, verr.Field
	case errors.Is(err, common.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, common.ErrJobConflict),
		errors.Is(err, common.ErrDuplicateMatch),
		errors.Is(err, storage.ErrVerifiedSource):
		status = fiber.StatusConflict
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrShutdown):
		status = fiber.StatusServiceUnavailable
	case errors.As(err, &ferr):
		status = ferr.Code
	}
	if status == fiber.StatusInternalServerError {
		s.logger.Error("Request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(body)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func accepted(c *fiber.Ctx, view model.JobView, err error) error {
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(view)
}

// bind decodes an optional JSON body.
func bind(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return common.NewValidationError("body", err.Error())
	}
	return nil
}

func (s *Server) listJobs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 {
		return common.NewValidationError("limit", "must be positive")
	}
	views, err := s.app.ListJobs(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return c.JSON(views)
}

func (s *Server) getJob(c *fiber.Ctx) error {
	view, err := s.app.GetJob(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

type matchRequest struct {
	Kind string `json:"kind"`
}

func (s *Server) submitMatch(c *fiber.Ctx) error {
	var req matchRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	view, err := s.app.SubmitMatch(c.UserContext(), model.SourceKind(req.Kind))
	return accepted(c, view, err)
}

func (s *Server) submitEnrich(c *fiber.Ctx) error {
	req := model.SelectionRequest{Mode: model.SelectUnenriched, Direction: model.DirectionOut}
	if err := bind(c, &req); err != nil {
		return err
	}
	view, err := s.app.SubmitEnrich(c.UserContext(), req)
	return accepted(c, view, err)
}

type retryRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) submitRetry(c *fiber.Ctx) error {
	var req retryRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	view, err := s.app.SubmitRetry(c.UserContext(), req.Limit)
	return accepted(c, view, err)
}

type syncRequest struct {
	Source    string `json:"source"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (s *Server) submitSync(c *fiber.Ctx) error {
	var req syncRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	switch req.Source {
	case "plaid", "simplefin":
		end := time.Now().UTC()
		start := end.AddDate(0, 0, -30)
		var err error
		if req.StartDate != "" {
			if start, err = time.Parse(dateLayout, req.StartDate); err != nil {
				return common.NewValidationError("start_date", "expected YYYY-MM-DD")
			}
		}
		if req.EndDate != "" {
			if end, err = time.Parse(dateLayout, req.EndDate); err != nil {
				return common.NewValidationError("end_date", "expected YYYY-MM-DD")
			}
		}
		submit := s.app.SubmitPlaidSync
		if req.Source == "simplefin" {
			submit = s.app.SubmitSimpleFINSync
		}
		view, err := submit(c.UserContext(), start, end)
		return accepted(c, view, err)
	case "gmail":
		view, err := s.app.SubmitGmailSync(c.UserContext())
		return accepted(c, view, err)
	default:
		return common.NewValidationError("source", "must be plaid, simplefin or gmail")
	}
}

func (s *Server) submitOFX(c *fiber.Ctx) error {
	header, err := c.FormFile("statement")
	if err != nil {
		return common.NewValidationError("statement", "multipart file is required")
	}
	f, err := header.Open()
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	view, err := s.app.SubmitOFXImport(c.UserContext(), header.Filename, f)
	return accepted(c, view, err)
}

func (s *Server) cacheStats(c *fiber.Ctx) error {
	stats, err := s.app.CacheStats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

func (s *Server) importCandidates(c *fiber.Ctx) error {
	n, err := s.app.ImportCandidates(c.UserContext(), bytes.NewReader(c.Body()))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"imported": n})
}

// sourceView is the JSON shape of an enrichment source.
type sourceView struct {
	CreatedAt     time.Time         `json:"created_at"`
	TransactionID string            `json:"transaction_id"`
	Kind          model.SourceKind  `json:"source_kind"`
	ExternalID    string            `json:"external_id"`
	Method        model.MatchMethod `json:"match_method"`
	Description   string            `json:"description"`
	ID            int64             `json:"id"`
	Confidence    int               `json:"match_confidence"`
	IsPrimary     bool              `json:"is_primary"`
	UserVerified  bool              `json:"user_verified"`
}

func toSourceView(src model.EnrichmentSource) sourceView {
	return sourceView{
		ID:            src.ID,
		TransactionID: src.TransactionID,
		Kind:          src.Kind,
		ExternalID:    src.ExternalID,
		Method:        src.Method,
		Description:   src.Description,
		Confidence:    src.Confidence,
		IsPrimary:     src.IsPrimary,
		UserVerified:  src.UserVerified,
		CreatedAt:     src.CreatedAt,
	}
}

func (s *Server) listSources(c *fiber.Ctx) error {
	sources, err := s.app.Sources(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	views := make([]sourceView, 0, len(sources))
	for _, src := range sources {
		views = append(views, toSourceView(src))
	}
	return c.JSON(views)
}

func sourceID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, common.NewValidationError("id", "must be an integer")
	}
	return id, nil
}

type primaryRequest struct {
	SourceID int64 `json:"source_id"`
}

func (s *Server) setPrimary(c *fiber.Ctx) error {
	var req primaryRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.SourceID == 0 {
		return common.NewValidationError("source_id", "is required")
	}
	if err := s.app.SetPrimarySource(c.UserContext(), c.Params("id"), req.SourceID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type linkRequest struct {
	Kind       string `json:"kind"`
	ExternalID string `json:"external_id"`
}

func (s *Server) link(c *fiber.Ctx) error {
	var req linkRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	src, err := s.app.LinkSource(c.UserContext(), c.Params("id"), model.SourceKind(req.Kind), req.ExternalID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toSourceView(*src))
}

func (s *Server) verify(c *fiber.Ctx) error {
	id, err := sourceID(c)
	if err != nil {
		return err
	}
	if err := s.app.VerifySource(c.UserContext(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) unlink(c *fiber.Ctx) error {
	id, err := sourceID(c)
	if err != nil {
		return err
	}
	if err := s.app.UnlinkSource(c.UserContext(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
