// Package lifecycle coordinates the foreground/background transitions of the
// page: snapshotting the route when the host hides us, and restoring a sane
// location when focus comes back, with debounce on the noisy raw focus
// signals.
package lifecycle

import (
	"sync"
	"time"
)

// ProcessState holds the per-process-lifetime flags. It is reset once at
// boot and read concurrently by every component that needs to know how this
// process came up.
type ProcessState struct {
	mu               sync.Mutex
	bootAt           time.Time
	inShell          bool
	expectedTeardown bool
	restoring        bool
}

// NewProcessState returns an unset state; call Reset at boot.
func NewProcessState() *ProcessState {
	return &ProcessState{}
}

// Reset stamps the boot instant and the shell detection result, clearing
// everything else.
func (p *ProcessState) Reset(bootAt time.Time, inShell bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bootAt = bootAt
	p.inShell = inShell
	p.expectedTeardown = false
	p.restoring = false
}

// BootAt returns the boot instant recorded by Reset.
func (p *ProcessState) BootAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bootAt
}

// InShell reports whether the embedded host shell was detected at boot.
func (p *ProcessState) InShell() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inShell
}

// SetExpectedTeardown marks this boot as a host-initiated recreation.
func (p *ProcessState) SetExpectedTeardown(v bool) {
	p.mu.Lock()
	p.expectedTeardown = v
	p.mu.Unlock()
}

// ExpectedTeardown reports the teardown classification of this boot.
func (p *ProcessState) ExpectedTeardown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expectedTeardown
}

// SetRestoring flags a focus restoration in flight.
func (p *ProcessState) SetRestoring(v bool) {
	p.mu.Lock()
	p.restoring = v
	p.mu.Unlock()
}

// Restoring reports whether a focus restoration is in flight.
func (p *ProcessState) Restoring() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restoring
}
