// Package gate decides whether a background job type may run.
//
// The table comes from configuration (pulse.background_jobs) and is passed in
// explicitly; nothing here reads globals. Drivers check the gate once before
// starting or resuming a job. Jobs and schedulers never re-check it.
package gate

import (
	"sort"
	"sync"

	"github.com/teranos/enrolpulse/errors"
)

// ErrJobDisabled is returned by Require for a job type the gate refuses.
var ErrJobDisabled = errors.Mark(errors.New("background job is disabled"), errors.ErrForbidden)

// Gate is a concurrency-safe table of job name -> enabled.
// Unknown job names are disabled.
type Gate struct {
	mu      sync.RWMutex
	enabled map[string]bool
}

// New builds a gate from a copy of flags.
func New(flags map[string]bool) *Gate {
	g := &Gate{}
	g.Update(flags)
	return g
}

// IsBackgroundJobEnabled is a pure lookup.
func (g *Gate) IsBackgroundJobEnabled(jobName string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled[jobName]
}

// Require returns ErrJobDisabled (a forbidden error) when jobName may not run.
func (g *Gate) Require(jobName string) error {
	if g.IsBackgroundJobEnabled(jobName) {
		return nil
	}
	return errors.WithHintf(
		errors.WithDetailf(ErrJobDisabled, "job: %s", jobName),
		"set pulse.background_jobs.%s = true in am.toml or run `enrolpulse am enable %s`", jobName, jobName)
}

// Update replaces the table, e.g. after a config reload.
func (g *Gate) Update(flags map[string]bool) {
	enabled := make(map[string]bool, len(flags))
	for name, on := range flags {
		enabled[name] = on
	}

	g.mu.Lock()
	g.enabled = enabled
	g.mu.Unlock()
}

// Enabled returns the enabled job names, sorted.
func (g *Gate) Enabled() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var names []string
	for name, on := range g.enabled {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IsDisabledError reports whether err came from Require.
func IsDisabledError(err error) bool {
	return err != nil && errors.Is(err, ErrJobDisabled)
}
