// Package interception gates HTTP actions behind synchronous workflows. A workflow of
// type request-interception is bound to a collection; before an action on that
// collection reaches its handler, every matching workflow runs and may reject it.
package interception

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dukex/flowgate/pkg/expression"
	"github.com/dukex/flowgate/pkg/metrics"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
)

const (
	Type = "request-interception"

	// EndNodeType is the node type an interception workflow must halt on to reject a
	// request as a business outcome.
	EndNodeType = "end"
)

var (
	ErrMissingCollection = errors.New("request interception requires a collection")
	ErrMissingActions    = errors.New("global request interception requires actions")
)

// RequestInterceptionError rejects an intercepted request. Status is 400 for business
// rejections and 500 for interception workflows that misbehaved.
type RequestInterceptionError struct {
	Status   int
	Messages []string
	Workflow string
}

func (e *RequestInterceptionError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("request rejected by workflow %s (status %d)", e.Workflow, e.Status)
	}

	return fmt.Sprintf("request rejected by workflow %s: %s", e.Workflow, strings.Join(e.Messages, "; "))
}

// Request is the intercepted action as seen by interception workflows.
type Request struct {
	Collection string
	Action     string
	Filter     any
	FilterByTk any
	Values     any
	User       any
	RoleName   string
	// TriggerWorkflows is the caller's opt-in list of local workflows, "key!segment,...".
	TriggerWorkflows string
}

type Option func(*Trigger)

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Trigger) {
		t.metrics = m
	}
}

// Trigger evaluates interception workflows. It does not listen to anything by itself:
// On and Off only record activity, the HTTP middleware drives Intercept.
type Trigger struct {
	logger  *slog.Logger
	starter protocol.Starter
	index   protocol.WorkflowIndex
	metrics *metrics.Metrics
}

var (
	_ protocol.Trigger         = (*Trigger)(nil)
	_ protocol.ConfigValidator = (*Trigger)(nil)
)

func New(logger *slog.Logger, starter protocol.Starter, index protocol.WorkflowIndex, opts ...Option) *Trigger {
	t := &Trigger{
		logger:  logger.With("module", "interception_trigger"),
		starter: starter,
		index:   index,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *Trigger) On(ctx context.Context, workflow *models.Workflow) error {
	t.logger.DebugContext(ctx, "interception workflow active",
		"workflow_id", workflow.ID, "key", workflow.Key, "collection", workflow.ConfigString("collection"))

	return nil
}

func (t *Trigger) Off(ctx context.Context, workflow *models.Workflow) error {
	t.logger.DebugContext(ctx, "interception workflow inactive", "workflow_id", workflow.ID, "key", workflow.Key)

	return nil
}

func (t *Trigger) ValidateConfig(config map[string]any) error {
	collection, _ := config["collection"].(string)
	if collection == "" {
		return ErrMissingCollection
	}

	settings := &models.Workflow{Config: config}
	if settings.ConfigBool("global") && len(settings.ConfigStrings("actions")) == 0 {
		return ErrMissingActions
	}

	return nil
}

// Candidate is one interception workflow selected for a request. Segment narrows the
// request values passed to a local workflow.
type Candidate struct {
	Workflow *models.Workflow
	Segment  string
}

// Candidates returns the workflows to run for req: the locals named by the caller in
// the caller's order, then the globals covering the action in id order.
func (t *Trigger) Candidates(req Request) []Candidate {
	var (
		locals  = map[string]*models.Workflow{}
		globals []*models.Workflow
	)

	for _, workflow := range t.index.ByType(Type) {
		if workflow.ConfigString("collection") != req.Collection {
			continue
		}

		if workflow.ConfigBool("global") {
			for _, action := range workflow.ConfigStrings("actions") {
				if action == req.Action {
					globals = append(globals, workflow)

					break
				}
			}

			continue
		}

		locals[workflow.Key] = workflow
	}

	candidates := make([]Candidate, 0, len(globals))

	seen := map[string]bool{}

	for _, item := range strings.Split(req.TriggerWorkflows, ",") {
		key, segment, _ := strings.Cut(strings.TrimSpace(item), "!")
		if key == "" || seen[key] {
			continue
		}

		workflow, ok := locals[key]
		if !ok {
			continue
		}

		seen[key] = true
		candidates = append(candidates, Candidate{Workflow: workflow, Segment: segment})
	}

	sort.SliceStable(globals, func(i, j int) bool {
		return globals[i].ID < globals[j].ID
	})

	for _, workflow := range globals {
		candidates = append(candidates, Candidate{Workflow: workflow})
	}

	return candidates
}

// Intercept runs the candidates of req one after the other and returns the first
// rejection. A nil error lets the request through.
func (t *Trigger) Intercept(ctx context.Context, req Request) error {
	for _, candidate := range t.Candidates(req) {
		if err := t.evaluate(ctx, candidate, req); err != nil {
			return err
		}
	}

	return nil
}

func (t *Trigger) evaluate(ctx context.Context, candidate Candidate, req Request) error {
	workflow := candidate.Workflow
	logger := t.logger.With("workflow_id", workflow.ID, "key", workflow.Key, "collection", req.Collection, "action", req.Action)

	input, err := Input(req, candidate.Segment)
	if err != nil {
		t.metrics.Interception("error")

		return t.misconfigured(ctx, logger, workflow, err.Error())
	}

	execution, err := t.starter.Trigger(ctx, workflow, input, protocol.TriggerOptions{Sync: true})
	if err != nil {
		t.metrics.Interception("error")

		return t.misconfigured(ctx, logger, workflow, fmt.Sprintf("workflow failed to run: %v", err))
	}

	if execution == nil {
		t.metrics.Interception("error")

		return t.misconfigured(ctx, logger, workflow, "workflow did not run")
	}

	logger = logger.With("execution_id", execution.ID, "status", execution.Status.String())

	switch {
	case execution.Status == models.ExecutionResolved:
		t.metrics.Interception("passed")
		logger.DebugContext(ctx, "request passed interception")

		return nil

	case !execution.IsFinished():
		t.metrics.Interception("error")

		return t.misconfigured(ctx, logger, workflow, "workflow paused while intercepting a request")
	}

	last := execution.LastSavedJob()
	if last == nil || !endedOnEndNode(workflow, last) {
		t.metrics.Interception("error")

		return t.misconfigured(ctx, logger, workflow, "workflow failed before reaching an end node")
	}

	messages := models.ResultMessages(last.Result)

	t.metrics.Interception("rejected")
	logger.InfoContext(ctx, "request rejected by interception workflow", "messages", len(messages))

	return &RequestInterceptionError{Status: 400, Messages: messages, Workflow: workflow.Key}
}

func (t *Trigger) misconfigured(ctx context.Context, logger *slog.Logger, workflow *models.Workflow, message string) error {
	logger.ErrorContext(ctx, "interception workflow misconfigured", "reason", message)

	return &RequestInterceptionError{Status: 500, Messages: []string{message}, Workflow: workflow.Key}
}

func endedOnEndNode(workflow *models.Workflow, job *models.Job) bool {
	node := workflow.Node(job.NodeID)
	if node == nil {
		node = workflow.NodeByKey(job.NodeKey)
	}

	return node != nil && node.Type == EndNodeType
}

// Input builds the execution context of an interception workflow. A non-empty segment
// replaces values by the sub-path it names.
func Input(req Request, segment string) (map[string]any, error) {
	values := req.Values

	if segment != "" {
		var err error

		values, err = expression.Resolve(req.Values, segment)
		if err != nil {
			return nil, fmt.Errorf("invalid values segment: %w", err)
		}
	}

	return map[string]any{
		"user":     req.User,
		"roleName": req.RoleName,
		"params": map[string]any{
			"resource":   req.Collection,
			"action":     req.Action,
			"filter":     req.Filter,
			"filterByTk": req.FilterByTk,
			"values":     values,
		},
	}, nil
}
