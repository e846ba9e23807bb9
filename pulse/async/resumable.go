package async

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/pulse/budget"
)

// Resumable is what a scheduler needs from a job. Job kinds implement it and
// plug into any scheduler without the scheduler knowing what they compute.
//
// Implementations checkpoint after every item, so a run can stop (or the
// process can die) between any two items and the next run continues from the
// last checkpoint.
type Resumable interface {
	// Key identifies the job's persisted state.
	Key() Key

	// Resume loads persisted state. It reports whether any state existed.
	Resume(ctx context.Context) (bool, error)

	// ProcessNextBatch does work within b. On a complete job it returns
	// immediately without side effects.
	ProcessNextBatch(ctx context.Context, b budget.Budget) (BatchResult, error)

	IsComplete() bool

	// LastUserID is the cursor, 0 before the first checkpoint.
	LastUserID() int64
}

// Restartable jobs can be rewound to the beginning.
type Restartable interface {
	Resumable
	Restart(ctx context.Context) error
}

// Stop reasons reported in BatchResult.Stopped
const (
	StoppedDirectoryExhausted = "directory_exhausted"
	StoppedBudget             = budget.StopItems
	StoppedDeadline           = budget.StopDeadline
	StoppedCancelled          = "cancelled"
	StoppedAlreadyComplete    = "already_complete"
)

// BatchResult summarises one ProcessNextBatch call.
type BatchResult struct {
	Processed  int     // users whose cursor checkpoint landed
	Changed    int     // users whose status changed
	Skipped    []int64 // users whose computation failed; the cursor moved past them
	FromUserID int64   // cursor before the batch
	ToUserID   int64   // cursor after the batch
	Complete   bool
	Stopped    string
}

// Factory rebuilds a job from its key, e.g. for a daemon picking up
// unfinished work after a restart.
type Factory func(key Key) (Resumable, error)

// Registry maps job names to factories.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for jobName.
// Panics if a factory is already registered with that name.
func (r *Registry) Register(jobName string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[jobName]; exists {
		panic(fmt.Sprintf("job factory already registered for name: %s", jobName))
	}
	r.factories[jobName] = factory
}

// Has checks if a factory is registered for a name.
func (r *Registry) Has(jobName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[jobName]
	return ok
}

// Names returns registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the job for key.
func (r *Registry) Build(key Key) (Resumable, error) {
	r.mu.RLock()
	factory, ok := r.factories[key.JobName]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.NewNotFoundError("no job factory registered for %s", key.JobName)
	}
	job, err := factory(key)
	if err != nil {
		return nil, errors.Wrapf(err, "build job %s", key.String())
	}
	return job, nil
}
