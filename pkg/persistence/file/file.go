// Package file provides the file-based persistence used for development and tests.
// Every entity is a JSON document under <root>/<collection>/<id>.json.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dukex/flowgate/pkg/persistence"
)

const (
	workflowsDir  = "workflows"
	executionsDir = "executions"
	jobsDir       = "jobs"
	sequencesFile = "sequences.json"
)

// Persistence implements persistence.Persistence on the file system. One mutex guards
// every collection, so each repository call is atomic within the process.
type Persistence struct {
	root      string
	mu        sync.Mutex
	sequences map[string]int64

	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	jobRepo       *JobRepository
}

// NewPersistence opens (or initialises) a store rooted at root. A "file://" prefix is accepted.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	for _, dir := range []string{workflowsDir, executionsDir, jobsDir} {
		if err := os.MkdirAll(filepath.Join(cleanRoot, dir), 0750); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	p := &Persistence{
		root:      cleanRoot,
		sequences: map[string]int64{},
	}

	if err := p.loadSequences(); err != nil {
		return nil, err
	}

	p.workflowRepo = &WorkflowRepository{p: p}
	p.executionRepo = &ExecutionRepository{p: p}
	p.jobRepo = &JobRepository{p: p}

	return p, nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) JobRepository() persistence.JobRepository {
	return p.jobRepo
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory is still present.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); err != nil {
		return fmt.Errorf("file persistence root unavailable: %w", err)
	}

	return nil
}

func (p *Persistence) loadSequences() error {
	body, err := os.ReadFile(filepath.Join(p.root, sequencesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read sequences: %w", err)
	}

	if err := json.Unmarshal(body, &p.sequences); err != nil {
		return fmt.Errorf("failed to unmarshal sequences: %w", err)
	}

	return nil
}

// next returns the following id of a sequence. Callers hold p.mu.
func (p *Persistence) next(name string) (int64, error) {
	p.sequences[name]++

	body, err := json.Marshal(p.sequences)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal sequences: %w", err)
	}

	if err := os.WriteFile(filepath.Join(p.root, sequencesFile), body, 0600); err != nil {
		return 0, fmt.Errorf("failed to write sequences: %w", err)
	}

	return p.sequences[name], nil
}

func (p *Persistence) path(collection string, id int64) string {
	return filepath.Clean(filepath.Join(p.root, collection, strconv.FormatInt(id, 10)+".json"))
}

func (p *Persistence) write(collection string, id int64, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %d: %w", collection, id, err)
	}

	target := p.path(collection, id)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s %d: %w", collection, id, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to write %s %d: %w", collection, id, err)
	}

	return nil
}

// read decodes one document. A missing document returns fs.ErrNotExist.
func (p *Persistence) read(collection string, id int64, value any) error {
	body, err := os.ReadFile(p.path(collection, id))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, value); err != nil {
		return fmt.Errorf("failed to unmarshal %s %d: %w", collection, id, err)
	}

	return nil
}

// ids lists the document ids of a collection in ascending order.
func (p *Persistence) ids(collection string) ([]int64, error) {
	files, err := fs.Glob(os.DirFS(filepath.Join(p.root, collection)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files: %w", collection, err)
	}

	ids := make([]int64, 0, len(files))

	for _, file := range files {
		id, err := strconv.ParseInt(strings.TrimSuffix(file, ".json"), 10, 64)
		if err != nil {
			continue
		}

		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids, nil
}

func readAll[T any](p *Persistence, collection string, keep func(*T) bool) ([]*T, error) {
	ids, err := p.ids(collection)
	if err != nil {
		return nil, err
	}

	result := make([]*T, 0, len(ids))

	for _, id := range ids {
		var item T
		if err := p.read(collection, id, &item); err != nil {
			return nil, err
		}

		if keep == nil || keep(&item) {
			result = append(result, &item)
		}
	}

	return result, nil
}
