// Package oversight provides the human-oversight side channels: the
// kill-switch, the approval workflow, and confidence-based escalation.
package oversight

import (
	"sync"
	"time"
)

// KillSwitchStatus is a snapshot of the kill-switch state.
type KillSwitchStatus struct {
	Active      bool
	ActivatedBy string
	ActivatedAt time.Time
	Reason      string
}

// KillSwitch is a process-scoped emergency halt. It is supplied by the
// composition root rather than held as a true singleton, so tests can
// inject fresh instances.
type KillSwitch struct {
	mu       sync.Mutex
	active   bool
	by       string
	at       time.Time
	reason   string
	callback func(KillSwitchStatus)
	now      func() time.Time
}

// KillSwitchOption configures a KillSwitch.
type KillSwitchOption func(*KillSwitch)

// WithCallback installs a callback fired synchronously on every state
// transition.
func WithCallback(fn func(KillSwitchStatus)) KillSwitchOption {
	return func(k *KillSwitch) { k.callback = fn }
}

// WithKillSwitchClock overrides the clock.
func WithKillSwitchClock(now func() time.Time) KillSwitchOption {
	return func(k *KillSwitch) { k.now = now }
}

// NewKillSwitch creates an inactive KillSwitch.
func NewKillSwitch(opts ...KillSwitchOption) *KillSwitch {
	k := &KillSwitch{now: time.Now}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Activate halts all operations. Idempotent: re-activating an active
// switch changes nothing and fires no callback.
func (k *KillSwitch) Activate(by, reason string) {
	k.mu.Lock()
	if k.active {
		k.mu.Unlock()
		return
	}
	k.active = true
	k.by = by
	k.at = k.now()
	k.reason = reason
	status := k.statusLocked()
	cb := k.callback
	k.mu.Unlock()

	if cb != nil {
		cb(status)
	}
}

// Deactivate resumes operations. Idempotent. Activation metadata is kept
// for audit until the next activation.
func (k *KillSwitch) Deactivate(by string) {
	k.mu.Lock()
	if !k.active {
		k.mu.Unlock()
		return
	}
	k.active = false
	status := k.statusLocked()
	status.ActivatedBy = by
	cb := k.callback
	k.mu.Unlock()

	if cb != nil {
		cb(status)
	}
}

// Active reports whether the kill-switch is engaged.
func (k *KillSwitch) Active() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.active
}

// Status returns a snapshot of the current state.
func (k *KillSwitch) Status() KillSwitchStatus {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.statusLocked()
}

// statusLocked builds a snapshot. Lock must be held.
func (k *KillSwitch) statusLocked() KillSwitchStatus {
	return KillSwitchStatus{
		Active:      k.active,
		ActivatedBy: k.by,
		ActivatedAt: k.at,
		Reason:      k.reason,
	}
}
