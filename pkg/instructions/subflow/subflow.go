// Package subflow provides the instruction that invokes another workflow from a node.
package subflow

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/dukex/flowgate/pkg/expression"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
)

const Type = "subflow"

// Node types able to run arbitrary logic. Invoking a workflow that contains one is
// allowed but logged.
var unsafeTypes = map[string]bool{
	"transform": true,
	"script":    true,
	"request":   true,
}

// Source maps a value of the caller's scope into the child's trigger input.
type Source struct {
	KeyName    string
	SourcePath string
}

// Field copies Path of the child's result into the node result under Alias.
type Field struct {
	Path  string
	Alias string
}

// Key returns the alias, or the path with dots replaced by underscores.
func (f Field) Key() string {
	if f.Alias != "" {
		return f.Alias
	}

	return strings.ReplaceAll(strings.TrimPrefix(f.Path, "$."), ".", "_")
}

// Subflow resolves the enabled version of config "workflow" and triggers it. A sync
// target runs on the caller's stack and its outcome becomes the node result; an async
// target leaves the node pending until the child finishes.
type Subflow struct{}

var _ protocol.Instruction = (*Subflow)(nil)

func New() *Subflow {
	return &Subflow{}
}

func (s *Subflow) Run(ctx context.Context, node *models.Node, input *models.Job, p protocol.Processor) (job *models.Job, err error) {
	key := node.ConfigString("workflow")
	logger := p.Logger().With("node_key", node.Key, "target_key", key)

	target, ok := p.EnabledWorkflow(key)
	if !ok {
		logger.WarnContext(ctx, "sub-workflow is not enabled")

		return models.NewJob(models.JobFailed, fmt.Sprintf("workflow %q is not enabled", key)), nil
	}

	logger = logger.With("target_workflow_id", target.ID)

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.ErrorContext(ctx, "sub-workflow invocation panicked", "panic", recovered)

			job, err = models.NewJob(models.JobFailed, fmt.Sprintf("workflow %s panicked: %v", key, recovered)), nil
		}
	}()

	if unsafe := UnsafeNodes(target); len(unsafe) > 0 {
		logger.WarnContext(ctx, "sub-workflow contains nodes able to run arbitrary logic", "nodes", unsafe)
	}

	data, err := Input(Sources(node), input, p.Scope())
	if err != nil {
		logger.ErrorContext(ctx, "failed to map sub-workflow input", "error", err)

		return models.NewJob(models.JobFailed, fmt.Sprintf("workflow %s input: %v", key, err)), nil
	}

	execution, err := p.Trigger(ctx, target, data, protocol.TriggerOptions{ParentNode: node})
	if err != nil {
		logger.ErrorContext(ctx, "failed to invoke sub-workflow", "error", err)

		return models.NewJob(models.JobFailed, fmt.Sprintf("failed to invoke workflow %s: %v", key, err)), nil
	}

	if execution == nil {
		return models.NewJob(models.JobFailed, fmt.Sprintf("workflow %s did not run", key)), nil
	}

	if !target.Sync {
		logger.InfoContext(ctx, "sub-workflow queued", "child_execution_id", execution.ID)

		return models.NewJob(models.JobPending, map[string]any{"executionId": execution.ID}), nil
	}

	return Fold(execution, Fields(node)), nil
}

// Resume maps the result the finished child attached to the job. Jobs that are still
// pending or failed are returned unchanged.
func (s *Subflow) Resume(_ context.Context, node *models.Node, job *models.Job, _ protocol.Processor) (*models.Job, error) {
	if job.Status == models.JobResolved {
		job.Result = MapFields(job.Result, Fields(node))
	}

	return job, nil
}

func (s *Subflow) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"workflow": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Key of the workflow to invoke. Its enabled version is used.",
			},
			"sourceArray": map[string]any{
				"type":        "array",
				"description": "Values of the current scope passed as the child's input.",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"keyName":    map[string]any{"type": "string"},
						"sourcePath": map[string]any{"type": "string"},
					},
					"required": []string{"sourcePath"},
				},
			},
			"model": map[string]any{
				"type":        "array",
				"description": "Fields of the child's result copied into this node's result.",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"path":  map[string]any{"type": "string", "minLength": 1},
						"alias": map[string]any{"type": "string"},
					},
					"required": []string{"path"},
				},
			},
		},
		"required": []string{"workflow"},
	}
}

// Sources reads config "sourceArray".
func Sources(node *models.Node) []Source {
	items := node.ConfigList("sourceArray")
	sources := make([]Source, 0, len(items))

	for _, item := range items {
		keyName, _ := item["keyName"].(string)
		sourcePath, _ := item["sourcePath"].(string)

		sources = append(sources, Source{KeyName: keyName, SourcePath: sourcePath})
	}

	return sources
}

// Fields reads config "model".
func Fields(node *models.Node) []Field {
	items := node.ConfigList("model")
	fields := make([]Field, 0, len(items))

	for _, item := range items {
		path, _ := item["path"].(string)
		alias, _ := item["alias"].(string)

		if path != "" {
			fields = append(fields, Field{Path: path, Alias: alias})
		}
	}

	return fields
}

// Input builds the child's trigger input.
//
// Without sources the previous job's result is passed unchanged. A single source
// without a key passes its raw value; keyed sources are collected into one object.
// Among several sources, an unkeyed one contributes the fields of its object value.
func Input(sources []Source, input *models.Job, scope map[string]any) (any, error) {
	if len(sources) == 0 {
		if input == nil {
			return map[string]any{}, nil
		}

		return input.Result, nil
	}

	if len(sources) == 1 && sources[0].KeyName == "" {
		return expression.Resolve(scope, sources[0].SourcePath)
	}

	data := make(map[string]any, len(sources))

	for _, source := range sources {
		value, err := expression.Resolve(scope, source.SourcePath)
		if err != nil {
			return nil, err
		}

		if source.KeyName != "" {
			data[source.KeyName] = value

			continue
		}

		if object, ok := value.(map[string]any); ok {
			maps.Copy(data, object)
		}
	}

	return data, nil
}

// MapFields projects fields out of value. Arrays are mapped element by element; values
// that are neither objects nor arrays are returned unchanged, as is everything when no
// field is configured.
func MapFields(value any, fields []Field) any {
	if len(fields) == 0 {
		return value
	}

	switch v := value.(type) {
	case map[string]any:
		mapped := make(map[string]any, len(fields))

		for _, field := range fields {
			resolved, err := expression.Resolve(v, field.Path)
			if err != nil {
				continue
			}

			mapped[field.Key()] = resolved
		}

		return mapped
	case []any:
		mapped := make([]any, len(v))
		for i, item := range v {
			mapped[i] = MapFields(item, fields)
		}

		return mapped
	case []map[string]any:
		mapped := make([]any, len(v))
		for i, item := range v {
			mapped[i] = MapFields(item, fields)
		}

		return mapped
	default:
		return value
	}
}

// Fold turns the outcome of a sync child execution into the invoking node's job.
func Fold(execution *models.Execution, fields []Field) *models.Job {
	var result any
	if last := execution.LastSavedJob(); last != nil {
		result = last.Result
	}

	switch {
	case execution.Status == models.ExecutionResolved:
		return models.NewJob(models.JobResolved, MapFields(result, fields))
	case execution.IsFinished():
		return models.NewJob(models.JobFailed, result)
	default:
		return models.NewJob(models.JobFailed,
			fmt.Sprintf("workflow %s did not finish: %s", execution.Key, execution.Status))
	}
}

// UnsafeNodes lists the keys of nodes whose type can run arbitrary logic.
func UnsafeNodes(workflow *models.Workflow) []string {
	var keys []string

	for _, node := range workflow.Nodes {
		if unsafeTypes[node.Type] {
			keys = append(keys, node.Key)
		}
	}

	sort.Strings(keys)

	return keys
}
