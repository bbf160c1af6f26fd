// Package audit provides audit logging for response actions.
package audit

import (
	"fmt"
	"time"
)

// Event records one executed response step: what ran, against which device,
// in which pipeline, and how it ended.
type Event struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	OffenceID  int64             `json:"offence_id,omitempty"`
	RuleID     int64             `json:"rule_id,omitempty"`
	PipelineID int64             `json:"pipeline_id,omitempty"`
	Action     string            `json:"action"`
	Device     string            `json:"device,omitempty"`
	Target     string            `json:"target,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Duration   time.Duration     `json:"duration"`
	Manual     bool              `json:"manual"` // true when triggered from the CLI rather than a pipeline
}

// Filter defines criteria for querying audit events
type Filter struct {
	Action      string
	Device      string
	OffenceID   int64
	RuleID      int64
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event
func NewEvent(action string) *Event {
	return &Event{
		ID:        generateID(),
		Timestamp: time.Now(),
		Action:    action,
	}
}

// WithOffence sets the offence id
func (e *Event) WithOffence(id int64) *Event {
	e.OffenceID = id
	return e
}

// WithRule sets the correlation rule id
func (e *Event) WithRule(id int64) *Event {
	e.RuleID = id
	return e
}

// WithPipeline sets the pipeline id
func (e *Event) WithPipeline(id int64) *Event {
	e.PipelineID = id
	return e
}

// WithDevice sets the device name
func (e *Event) WithDevice(device string) *Event {
	e.Device = device
	return e
}

// WithTarget sets the action target (an IP, a host, a ticket queue)
func (e *Event) WithTarget(target string) *Event {
	e.Target = target
	return e
}

// WithParams sets the resolved action parameters
func (e *Event) WithParams(params map[string]string) *Event {
	e.Params = params
	return e
}

// WithSuccess marks the event as successful
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the step duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithManual marks the event as operator-triggered
func (e *Event) WithManual(manual bool) *Event {
	e.Manual = manual
	return e
}

func generateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
