package enrolment

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	qntxtest "github.com/teranos/enrolpulse/internal/testing"
	"github.com/teranos/enrolpulse/pulse/async"
)

// memDirectory serves a fixed, sorted member list per course.
type memDirectory struct {
	mu      sync.Mutex
	courses map[int64][]int64
	err     error
	reads   int
}

func newMemDirectory(courseID int64, users ...int64) *memDirectory {
	sorted := append([]int64(nil), users...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &memDirectory{courses: map[int64][]int64{courseID: sorted}}
}

func (d *memDirectory) CourseExists(_ context.Context, courseID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.courses[courseID]
	return ok, nil
}

func (d *memDirectory) UsersAfter(_ context.Context, courseID, after int64, limit int) ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if d.err != nil {
		return nil, d.err
	}
	var out []int64
	for _, id := range d.courses[courseID] {
		if id > after && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

// memStatuses is a StatusStore with injectable write failures.
type memStatuses struct {
	mu        sync.Mutex
	statuses  map[[2]int64]Status
	failSetOn map[int64]error
	sets      []int64
}

func newMemStatuses() *memStatuses {
	return &memStatuses{statuses: make(map[[2]int64]Status), failSetOn: make(map[int64]error)}
}

func (s *memStatuses) Get(_ context.Context, userID, courseID int64) (Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[[2]int64{userID, courseID}]
	return st, ok, nil
}

func (s *memStatuses) Set(_ context.Context, userID, courseID int64, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failSetOn[userID]; err != nil {
		return err
	}
	s.statuses[[2]int64{userID, courseID}] = status
	s.sets = append(s.sets, userID)
	return nil
}

func (s *memStatuses) put(userID, courseID int64, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[[2]int64{userID, courseID}] = status
}

// scriptedCalculator returns per-user statuses or errors and records calls.
type scriptedCalculator struct {
	mu       sync.Mutex
	statuses map[int64]Status
	errs     map[int64]error
	calls    []int64
}

func newScriptedCalculator() *scriptedCalculator {
	return &scriptedCalculator{statuses: make(map[int64]Status), errs: make(map[int64]error)}
}

func (c *scriptedCalculator) Compute(_ context.Context, userID, _ int64) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, userID)
	if err := c.errs[userID]; err != nil {
		return "", err
	}
	if st, ok := c.statuses[userID]; ok {
		return st, nil
	}
	return StatusEnrolled, nil
}

func (c *scriptedCalculator) Calls() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.calls...)
}

// recordingSink keeps every change it is told about.
type recordingSink struct {
	mu      sync.Mutex
	changes []Change
	onEvent func(Change)
}

func (s *recordingSink) Notify(_ context.Context, change Change) {
	if s.onEvent != nil {
		s.onEvent(change)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, change)
}

func (s *recordingSink) Users() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []int64
	for _, c := range s.changes {
		users = append(users, c.UserID)
	}
	return users
}

type fixture struct {
	jobs     *async.Store
	dir      *memDirectory
	statuses *memStatuses
	calc     *scriptedCalculator
	sink     *recordingSink
}

func newFixture(t *testing.T, courseID int64, users ...int64) *fixture {
	t.Helper()
	return &fixture{
		jobs:     async.NewStore(qntxtest.CreateMigratedTestDB(t)),
		dir:      newMemDirectory(courseID, users...),
		statuses: newMemStatuses(),
		calc:     newScriptedCalculator(),
		sink:     &recordingSink{},
	}
}

func (f *fixture) deps(t *testing.T) Deps {
	return Deps{
		Jobs:       f.jobs,
		Directory:  f.dir,
		Statuses:   f.statuses,
		Calculator: f.calc,
		Sink:       f.sink,
		Logger:     zaptest.NewLogger(t).Sugar(),
		PageSize:   100,
	}
}

func (f *fixture) newJob(t *testing.T, courseID int64) *CalculationJob {
	t.Helper()
	job, err := NewCalculationJob(courseID, f.deps(t))
	require.NoError(t, err)
	return job
}
