package web

import (
	"errors"
	"sync"

	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/services"
	"github.com/dukex/flowgate/pkg/triggers/action"
	"github.com/dukex/flowgate/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// ErrorRenderer writes the response for the errors it recognises and reports whether it
// handled err.
type ErrorRenderer func(c fiber.Ctx, err error) (bool, error)

// ErrorHandlers is the application error chain. Components such as the request
// interception trigger register renderers for their own error kinds; anything left
// unhandled is rendered as a problem document.
type ErrorHandlers struct {
	mu        sync.RWMutex
	renderers []ErrorRenderer
}

func NewErrorHandlers() *ErrorHandlers {
	return &ErrorHandlers{}
}

// Register appends renderer to the chain. Renderers run in registration order.
func (h *ErrorHandlers) Register(renderer ErrorRenderer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.renderers = append(h.renderers, renderer)
}

// Handle is a fiber.ErrorHandler.
func (h *ErrorHandlers) Handle(c fiber.Ctx, err error) error {
	h.mu.RLock()
	renderers := h.renderers
	h.mu.RUnlock()

	for _, render := range renderers {
		handled, renderErr := render(c, err)
		if handled {
			return renderErr
		}
	}

	return handleServiceError(c, err)
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind string, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, kind string, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusConflict).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps typed service, engine and persistence errors to problems.
func handleServiceError(c fiber.Ctx, err error) error {
	var fiberErr *fiber.Error

	switch {
	case errors.As(err, &fiberErr):
		problem := problems.NewStatusProblem(fiberErr.Code).
			WithInstance(c.Path()).
			WithDetail(fiberErr.Message)

		return c.Status(fiberErr.Code).JSON(problem)

	case services.IsValidationError(err),
		errors.Is(err, workflow.ErrInvalidStatus),
		errors.Is(err, action.ErrNotActionWorkflow):
		return badRequest(c, err.Error())

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow_not_found", "workflow not found")

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution_not_found", "execution not found")

	case persistence.IsJobNotFound(err):
		return notFound(c, "job_not_found", "job not found")

	case errors.Is(err, persistence.ErrJobNotPending), errors.Is(err, workflow.ErrResumeIgnored):
		return conflict(c, "job_not_pending", err.Error())

	case errors.Is(err, workflow.ErrWorkflowDisabled):
		return conflict(c, "workflow_disabled", err.Error())

	default:
		return internalError(c, err)
	}
}
