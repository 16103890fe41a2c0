package campaign

import (
	"time"

	"followcast/internal/logging"
)

// EventType names a run notification.
type EventType string

const (
	EventStarted EventType = "started"
	EventStopped EventType = "stopped"
	EventSent    EventType = "sent"
	EventWaiting EventType = "waiting"
)

// Event is one outbound notification about a run.
type Event struct {
	Type        EventType  `json:"type"`
	RunID       string     `json:"run_id"`
	CampaignID  string     `json:"campaign_id"`
	Account     string     `json:"account"`
	DryRun      bool       `json:"dry_run"`
	At          time.Time  `json:"at"`
	RecipientID string     `json:"recipient_id,omitempty"`
	Sent        int        `json:"sent"`
	Remaining   *int       `json:"remaining,omitempty"`
	ResumeAt    *time.Time `json:"resume_at,omitempty"`
	Cause       string     `json:"cause,omitempty"`
	State       State      `json:"state,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Notifier receives run events. Notify must not block for long.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Multi fans an event out to every notifier.
type Multi []Notifier

func (m Multi) Notify(e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(e)
		}
	}
}

// LogNotifier writes events to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(e Event) {
	fields := map[string]any{
		"run_id":      e.RunID,
		"campaign_id": e.CampaignID,
		"account":     e.Account,
		"dry_run":     e.DryRun,
		"sent":        e.Sent,
	}
	if e.RecipientID != "" {
		fields["recipient_id"] = e.RecipientID
	}
	if e.Remaining != nil {
		fields["remaining"] = *e.Remaining
	}
	if e.ResumeAt != nil {
		fields["resume_at"] = e.ResumeAt.Format(time.RFC3339)
		fields["cause"] = e.Cause
	}
	if e.State != "" {
		fields["state"] = string(e.State)
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}
	switch e.Type {
	case EventSent, EventWaiting:
		logging.Debug("campaign_"+string(e.Type), fields)
	default:
		logging.Info("campaign_"+string(e.Type), fields)
	}
}
