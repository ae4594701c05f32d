// Package server exposes pipeline sessions over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v3"

	"github.com/ravi-parthasarathy/convoy/pkg/assist"
	"github.com/ravi-parthasarathy/convoy/pkg/codegen"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
	"github.com/ravi-parthasarathy/convoy/pkg/reconcile"
	"github.com/ravi-parthasarathy/convoy/pkg/runner"
	"github.com/ravi-parthasarathy/convoy/pkg/store"
)

// Options wires the server's collaborators. Remote contracts may be nil;
// their routes then answer 503.
type Options struct {
	Sessions  *Sessions
	Generator assist.PipelineGenerator
	Importer  assist.ScriptImporter
	Explainer assist.Explainer
	Editor    assist.SelectionEditor
	Logger    *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	opts Options
	app  *fiber.App
}

// New builds the server and registers its routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{opts: opts}
	s.app = fiber.New(fiber.Config{
		AppName:      "convoy",
		ErrorHandler: s.handleError,
	})
	s.routes()
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	s.opts.Logger.Info("listening", "addr", addr)
	return s.app.Listen(addr, fiber.ListenConfig{
		DisableStartupMessage: true,
		GracefulContext:       ctx,
	})
}

// Serve serves on an existing listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	return s.app.Listener(ln, fiber.ListenConfig{
		DisableStartupMessage: true,
		GracefulContext:       ctx,
	})
}

func (s *Server) routes() {
	app := s.app

	app.Get("/pipelines", s.listPipelines)
	app.Post("/pipelines", s.createPipeline)
	app.Get("/pipelines/:id", s.getPipeline)
	app.Delete("/pipelines/:id", s.deletePipeline)

	// ── Graph ─────────────────────────────────────────────────────────
	app.Post("/pipelines/:id/nodes", s.addNode)
	app.Patch("/pipelines/:id/nodes/:node", s.patchNode)
	app.Delete("/pipelines/:id/nodes/:node", s.deleteNode)
	app.Post("/pipelines/:id/edges", s.addEdge)
	app.Delete("/pipelines/:id/edges/:edge", s.deleteEdge)
	app.Post("/pipelines/:id/data/:node", s.uploadData)

	// ── Code ──────────────────────────────────────────────────────────
	app.Get("/pipelines/:id/cells", s.getCells)
	app.Get("/pipelines/:id/script", s.getScript)
	app.Put("/pipelines/:id/script", s.putScript)
	app.Get("/pipelines/:id/notebook", s.getNotebook)
	app.Get("/pipelines/:id/clipboard", s.getClipboard)
	app.Put("/pipelines/:id/clipboard", s.putClipboard)
	app.Post("/pipelines/:id/run", s.run)

	// ── Drafts ────────────────────────────────────────────────────────
	app.Post("/pipelines/:id/drafts", s.addDraft)
	app.Patch("/pipelines/:id/drafts/:draft", s.patchDraft)
	app.Post("/pipelines/:id/drafts/:draft/run", s.runDraft)
	app.Post("/pipelines/:id/drafts/:draft/promote", s.promoteDraft)

	// ── Assist ────────────────────────────────────────────────────────
	app.Post("/pipelines/:id/proposals", s.propose)
	app.Post("/pipelines/:id/proposals/confirm", s.confirmProposals)
	app.Delete("/pipelines/:id/proposals", s.clearProposals)
	app.Post("/pipelines/:id/import", s.importScript)
	app.Post("/pipelines/:id/explain/:node", s.explain)
	app.Post("/pipelines/:id/edit", s.editSelected)
	app.Post("/pipelines/:id/chart/:node", s.requestChart)
	app.Get("/pipelines/:id/chart", s.getChart)
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var fe *fiber.Error
	var execErr *runner.ExecutionError
	var transport *assist.TransportError
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, pipeline.ErrNodeNotFound),
		errors.Is(err, pipeline.ErrEdgeNotFound),
		errors.Is(err, reconcile.ErrDraftNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, assist.ErrStale),
		errors.Is(err, runner.ErrSuperseded),
		errors.Is(err, pipeline.ErrDuplicateNode),
		errors.Is(err, pipeline.ErrDuplicateEdge):
		return fiber.StatusConflict
	case errors.Is(err, runner.ErrIndexOutOfRange):
		return fiber.StatusBadRequest
	case errors.As(err, &transport):
		return fiber.StatusBadGateway
	case errors.Is(err, pipeline.ErrCycleDetected),
		errors.Is(err, pipeline.ErrSelfLoop),
		errors.Is(err, pipeline.ErrKindMismatch),
		errors.Is(err, pipeline.ErrInvalidTransition),
		errors.Is(err, runner.ErrNeedsConfirmation),
		errors.Is(err, codegen.ErrStepMismatch),
		reconcile.IsRejection(err),
		errors.As(err, &execErr):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusRequestTimeout
	}
	return fiber.StatusInternalServerError
}

func (s *Server) handleError(c fiber.Ctx, err error) error {
	code := statusOf(err)
	if code >= fiber.StatusInternalServerError {
		s.opts.Logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
