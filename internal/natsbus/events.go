package natsbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	EventRunStarted   = "run_started"
	EventRunRouted    = "run_routed"
	EventRunTurn      = "run_turn"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"

	EventScheduleExecuted = "schedule_executed"
)

type Event struct {
	Type       string         `json:"type"`
	RunID      string         `json:"run_id,omitempty"`
	ScheduleID string         `json:"schedule_id,omitempty"`
	Timestamp  string         `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}

// NewRunEvent stamps an event for runID with the current time.
func NewRunEvent(eventType, runID string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
}

// Topic returns the subject the event belongs on.
func (e Event) Topic() string {
	if e.ScheduleID != "" && e.RunID == "" {
		return TopicEventsSchedule(e.ScheduleID)
	}
	return TopicEventsRun(e.RunID)
}

func (c *Client) PublishEvent(e Event) error {
	return c.PublishJSON(e.Topic(), e)
}

// SubscribeEvents decodes events published on topic. Messages that are not
// events are dropped.
func (c *Client) SubscribeEvents(topic string, handler func(Event)) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(topic, func(msg *nats.Msg) {
		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil || e.Type == "" {
			return
		}
		handler(e)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return sub, nil
}
