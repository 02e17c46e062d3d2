package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/services"
	"github.com/dukex/flowgate/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// ActionFirer starts action workflows by key.
type ActionFirer interface {
	Fire(ctx context.Context, key string, input any) (*models.Execution, error)
}

type APIHandlers struct {
	workflowService *services.Workflow
	engine          *workflow.Engine
	actions         ActionFirer
	validator       *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	engine *workflow.Engine,
	actions ActionFirer,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		engine:          engine,
		actions:         actions,
		validator:       validator,
	}
}

// Register mounts the API routes. gate guards the collection action route; the route
// is left out when gate is nil.
func (h *APIHandlers) Register(router fiber.Router, gate fiber.Handler) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Post("/:id/enable", h.EnableWorkflow)
	w.Post("/:id/disable", h.DisableWorkflow)
	w.Post("/:id/revisions", h.CreateRevision)
	w.Post("/:key/trigger", h.TriggerWorkflow)

	router.Get("/executions/:id", h.GetExecution)
	router.Post("/jobs/:id/resume", h.ResumeJob)

	if gate != nil {
		router.Post("/actions/:collection/:action", gate, h.AcceptAction)
	}

	router.Get("/health", h.HealthCheck)
}

func idParam(c fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context(), c.Query("key"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return badRequest(c, "Workflow ID must be a number")
	}

	wf, err := h.workflowService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) EnableWorkflow(c fiber.Ctx) error {
	return h.switchWorkflow(c, h.workflowService.Enable)
}

func (h *APIHandlers) DisableWorkflow(c fiber.Ctx) error {
	return h.switchWorkflow(c, h.workflowService.Disable)
}

func (h *APIHandlers) switchWorkflow(c fiber.Ctx, apply func(context.Context, int64) (*models.Workflow, error)) error {
	id, err := idParam(c)
	if err != nil {
		return badRequest(c, "Workflow ID must be a number")
	}

	wf, err := apply(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) CreateRevision(c fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return badRequest(c, "Workflow ID must be a number")
	}

	var req RevisionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	changes := services.RevisionRequest{
		Title:  req.Title,
		Sync:   req.Sync,
		Config: req.Config,
	}

	if req.Nodes != nil {
		changes.Nodes = toNodes(req.Nodes)
	}

	revision, err := h.workflowService.Revision(c.Context(), id, changes)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(revision)
}

// TriggerWorkflow fires the action workflow enabled under :key with the JSON body as
// input. Queued executions answer 202.
func (h *APIHandlers) TriggerWorkflow(c fiber.Ctx) error {
	var input any

	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.actions.Fire(c.Context(), c.Params("key"), input)
	if err != nil {
		return handleServiceError(c, err)
	}

	status := fiber.StatusOK
	if execution.Status == models.ExecutionQueueing {
		status = fiber.StatusAccepted
	}

	resp := TriggerResponse{ExecutionID: execution.ID, Status: execution.Status.String()}
	if last := execution.LastSavedJob(); last != nil && execution.IsFinished() {
		resp.Result = last.Result
	}

	return c.Status(status).JSON(resp)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return badRequest(c, "Execution ID must be a number")
	}

	execution, err := h.loadExecution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) loadExecution(ctx context.Context, id int64) (*models.Execution, error) {
	p := h.engine.Persistence()

	execution, err := p.ExecutionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	execution.Jobs, err = p.JobRepository().ListByExecution(ctx, id)
	if err != nil {
		return nil, err
	}

	return execution, nil
}

// ResumeJob completes a pending job. With ?async=true the outcome is queued for a
// worker and the call answers 202; otherwise the execution continues before the
// response and is returned.
func (h *APIHandlers) ResumeJob(c fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return badRequest(c, "Job ID must be a number")
	}

	var req ResumeJobRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	status, ok := models.ParseJobStatus(req.Status)
	if !ok {
		return badRequest(c, "Unknown job status "+strconv.Quote(req.Status))
	}

	ctx := c.Context()

	if c.Query("async") == "true" {
		if err := h.engine.RequestResume(ctx, id, status, req.Result); err != nil {
			return handleServiceError(c, err)
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": id, "status": status.String()})
	}

	if err := h.engine.Dispatcher().Complete(ctx, id, status, req.Result); err != nil {
		return handleServiceError(c, err)
	}

	job, err := h.engine.Persistence().JobRepository().GetByID(ctx, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	execution, err := h.loadExecution(ctx, job.ExecutionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// AcceptAction answers a collection action that passed request interception.
func (h *APIHandlers) AcceptAction(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"allowed":    true,
		"collection": c.Params("collection"),
		"action":     c.Params("action"),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	instructionsCheck, instructionsOk := h.engine.Instructions().HealthCheck()
	triggersCheck, triggersOk := h.engine.Triggers().HealthCheck()
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Flowgate API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if instructionsOk && triggersOk && repOk {
		status = "healthy"
		message = "Flowgate API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"instructions": instructionsCheck,
			"triggers":     triggersCheck,
			"repository":   repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
