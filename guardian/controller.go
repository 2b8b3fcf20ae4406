package guardian

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateArmed    State = "ARMED"
	StateTripped  State = "TRIPPED"
	StateDisabled State = "DISABLED"
)

var ErrInvalidTransition = errors.New("InvalidTransition")

// Alert is one pending notifier emission. Trip returns it instead of sending
// so that the caller can emit outside the critical section.
type Alert struct {
	IncidentID string
	Reason     string
	At         time.Time
}

func (a Alert) Message() string {
	return fmt.Sprintf("KILL SWITCH TRIPPED incident=%s at=%s reason=%s",
		a.IncidentID, a.At.UTC().Format(time.RFC3339), a.Reason)
}

// Controller is the kill-switch state machine.
//
//	ARMED -> TRIPPED   on Trip
//	TRIPPED -> ARMED   on Reset only
//	ARMED <-> DISABLED by operator
//
// Repeated breaches while TRIPPED are coalesced to at most one alert per
// coalesce period.
type Controller struct {
	state        State
	reason       string
	incidentID   string
	trippedAt    time.Time
	lastBreachAt time.Time
	lastAlertAt  time.Time
	coalesce     time.Duration
}

func NewController(coalesce time.Duration) *Controller {
	if coalesce <= 0 {
		coalesce = 60 * time.Second
	}
	return &Controller{state: StateArmed, coalesce: coalesce}
}

// Trip records a breach. Returns the alert to emit, or nil when the breach
// was coalesced or the controller is disabled.
func (c *Controller) Trip(reason string, now time.Time) *Alert {
	switch c.state {
	case StateDisabled:
		return nil
	case StateTripped:
		c.lastBreachAt = now
		if now.Sub(c.lastAlertAt) < c.coalesce {
			return nil
		}
		c.lastAlertAt = now
		return &Alert{IncidentID: c.incidentID, Reason: reason, At: now}
	default:
		c.state = StateTripped
		c.reason = reason
		c.incidentID = uuid.NewString()
		c.trippedAt = now
		c.lastBreachAt = now
		c.lastAlertAt = now
		return &Alert{IncidentID: c.incidentID, Reason: reason, At: now}
	}
}

// Reset re-arms a tripped controller.
func (c *Controller) Reset() error {
	if c.state != StateTripped {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, c.state)
	}
	c.state = StateArmed
	c.reason = ""
	c.incidentID = ""
	c.trippedAt = time.Time{}
	c.lastBreachAt = time.Time{}
	return nil
}

func (c *Controller) Disable() error {
	if c.state != StateArmed {
		return fmt.Errorf("%w: disable from %s", ErrInvalidTransition, c.state)
	}
	c.state = StateDisabled
	return nil
}

func (c *Controller) Enable() error {
	if c.state != StateDisabled {
		return fmt.Errorf("%w: enable from %s", ErrInvalidTransition, c.state)
	}
	c.state = StateArmed
	return nil
}

func (c *Controller) State() State { return c.state }

type ControllerStatus struct {
	State        State     `json:"state"`
	Reason       string    `json:"reason,omitempty"`
	IncidentID   string    `json:"incident_id,omitempty"`
	TrippedAt    time.Time `json:"tripped_at,omitempty"`
	LastBreachAt time.Time `json:"last_breach_at,omitempty"`
}

func (c *Controller) Status() ControllerStatus {
	return ControllerStatus{
		State:        c.state,
		Reason:       c.reason,
		IncidentID:   c.incidentID,
		TrippedAt:    c.trippedAt,
		LastBreachAt: c.lastBreachAt,
	}
}
