package natsbus

import "fmt"

// Subjects carrying research run events. Every event of a run goes to
// events.run.<id>; schedule executions go to events.schedule.<id>.

func TopicEventsRun(runID string) string {
	return fmt.Sprintf("events.run.%s", runID)
}

func TopicEventsSchedule(scheduleID string) string {
	return fmt.Sprintf("events.schedule.%s", scheduleID)
}

const (
	TopicEventsAll       = "events.>"
	TopicEventsRuns      = "events.run.*"
	TopicEventsSchedules = "events.schedule.*"
)
