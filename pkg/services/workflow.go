package services

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/dukex/flowgate/pkg/eventbus"
	"github.com/dukex/flowgate/pkg/events"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/dukex/flowgate/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// Syncer reapplies the enabled workflow index to the running triggers.
type Syncer interface {
	Sync(ctx context.Context) error
}

type Option func(*Workflow)

// WithPublisher announces workflow changes on the event bus for other processes.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(w *Workflow) {
		w.publisher = publisher
	}
}

// WithSyncer resynchronises local triggers after every change.
func WithSyncer(syncer Syncer) Option {
	return func(w *Workflow) {
		w.syncer = syncer
	}
}

// Workflow manages workflow versions. A change to the enabled version of a key is
// applied to the engine index right away and announced to other processes.
type Workflow struct {
	engine    *workflow.Engine
	publisher eventbus.EventPublisher
	syncer    Syncer
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewWorkflow(logger *slog.Logger, engine *workflow.Engine, opts ...Option) *Workflow {
	w := &Workflow{
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "workflow_service"),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

func (w *Workflow) repository() persistence.WorkflowRepository {
	return w.engine.Persistence().WorkflowRepository()
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.engine == nil || w.engine.Persistence() == nil {
		return "Persistence layer not initialized", false
	}

	if err := w.engine.Persistence().HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create validates and stores a new workflow version. Ids of the workflow and its
// nodes are assigned by the store.
func (w *Workflow) Create(ctx context.Context, wf *models.Workflow) (*models.Workflow, error) {
	if err := w.Validate(wf); err != nil {
		return nil, err
	}

	wf.ID = 0
	for _, node := range wf.Nodes {
		node.ID = 0
	}

	if err := w.repository().Create(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow created", "workflow_id", wf.ID, "key", wf.Key, "enabled", wf.Enabled)

	if wf.Enabled {
		w.changed(ctx, wf)
	}

	return wf, nil
}

// Validate checks the workflow shape, every node configuration against the JSON schema
// of its instruction, and the trigger configuration of its type.
func (w *Workflow) Validate(wf *models.Workflow) error {
	if wf == nil {
		return ErrWorkflowNil
	}

	if err := w.validate.Struct(wf); err != nil {
		return NewValidationError("Validate", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	trigger, ok := w.engine.Triggers().Get(wf.Type)
	if !ok {
		return NewValidationError("Validate", "UNKNOWN_TYPE",
			fmt.Sprintf("no trigger registered for type %q", wf.Type), ErrUnknownTriggerType)
	}

	if checker, ok := trigger.(protocol.ConfigValidator); ok {
		if err := checker.ValidateConfig(wf.Config); err != nil {
			return NewValidationError("Validate", "INVALID_TRIGGER_CONFIG", err.Error(), ErrInvalidTriggerConfig)
		}
	}

	keys := map[string]bool{}

	for _, node := range wf.Nodes {
		if keys[node.Key] {
			return NewValidationError("Validate", "DUPLICATE_NODE_KEY",
				fmt.Sprintf("node key %q is used twice", node.Key), ErrDuplicateNodeKey)
		}

		keys[node.Key] = true

		if err := w.validateNode(node); err != nil {
			return err
		}
	}

	return nil
}

func (w *Workflow) validateNode(node *models.Node) error {
	instruction, ok := w.engine.Instructions().Get(node.Type)
	if !ok {
		return NewValidationError("Validate", "UNKNOWN_NODE_TYPE",
			fmt.Sprintf("node %s: no instruction registered for type %q", node.Key, node.Type), ErrUnknownNodeType)
	}

	provider, ok := instruction.(protocol.SchemaProvider)
	if !ok {
		return nil
	}

	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(provider.Schema()), gojsonschema.NewGoLoader(config))
	if err != nil {
		return NewValidationError("Validate", "INVALID_NODE_CONFIG",
			fmt.Sprintf("node %s: %v", node.Key, err), ErrInvalidNodeConfig)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return NewValidationError("Validate", "INVALID_NODE_CONFIG",
			fmt.Sprintf("node %s: %s", node.Key, strings.Join(problems, "; ")), ErrInvalidNodeConfig)
	}

	return nil
}

func (w *Workflow) Get(ctx context.Context, id int64) (*models.Workflow, error) {
	return w.repository().GetByID(ctx, id)
}

// List returns every workflow version in id order, or the versions of key when set.
func (w *Workflow) List(ctx context.Context, key string) ([]*models.Workflow, error) {
	if key != "" {
		return w.repository().ListByKey(ctx, key)
	}

	return w.repository().List(ctx)
}

// Enable makes id the enabled version of its key, disabling the others.
func (w *Workflow) Enable(ctx context.Context, id int64) (*models.Workflow, error) {
	return w.setEnabled(ctx, id, true)
}

func (w *Workflow) Disable(ctx context.Context, id int64) (*models.Workflow, error) {
	return w.setEnabled(ctx, id, false)
}

func (w *Workflow) setEnabled(ctx context.Context, id int64, enabled bool) (*models.Workflow, error) {
	wf, err := w.repository().SetEnabled(ctx, id, enabled)
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "workflow switched", "workflow_id", wf.ID, "key", wf.Key, "enabled", enabled)
	w.changed(ctx, wf)

	return wf, nil
}

// RevisionRequest lists the changes of a new version. Nil fields are copied from the
// source version.
type RevisionRequest struct {
	Title  *string
	Sync   *bool
	Config map[string]any
	Nodes  []*models.Node
}

// Revision stores a disabled copy of workflow id with changes applied. Nodes always
// get new ids, so executions of the source keep their node snapshot.
func (w *Workflow) Revision(ctx context.Context, id int64, changes RevisionRequest) (*models.Workflow, error) {
	source, err := w.repository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	revision := &models.Workflow{
		Key:    source.Key,
		Title:  source.Title,
		Type:   source.Type,
		Sync:   source.Sync,
		Config: maps.Clone(source.Config),
		Nodes:  make([]*models.Node, 0, len(source.Nodes)),
	}

	if changes.Title != nil {
		revision.Title = *changes.Title
	}

	if changes.Sync != nil {
		revision.Sync = *changes.Sync
	}

	if changes.Config != nil {
		revision.Config = changes.Config
	}

	nodes := source.Nodes
	if changes.Nodes != nil {
		nodes = changes.Nodes
	}

	for _, node := range nodes {
		revision.Nodes = append(revision.Nodes, &models.Node{
			Key:    node.Key,
			Type:   node.Type,
			Title:  node.Title,
			Config: maps.Clone(node.Config),
		})
	}

	return w.Create(ctx, revision)
}

func (w *Workflow) changed(ctx context.Context, wf *models.Workflow) {
	w.engine.Index().Put(wf)

	if w.syncer != nil {
		if err := w.syncer.Sync(ctx); err != nil {
			w.logger.ErrorContext(ctx, "failed to synchronise triggers", "workflow_id", wf.ID, "error", err)
		}
	}

	if w.publisher == nil {
		return
	}

	event := events.WorkflowChanged{
		BaseEvent: events.NewBaseEvent(events.WorkflowChangedEvent, wf.ID),
		Key:       wf.Key,
		Enabled:   wf.Enabled,
	}

	if err := w.publisher.Publish(ctx, wf.Key, event); err != nil {
		w.logger.ErrorContext(ctx, "failed to publish workflow change", "workflow_id", wf.ID, "error", err)
	}
}
