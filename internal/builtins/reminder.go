// ABOUTME: Reminder pack schedules a message back into the conversation after a delay.
// ABOUTME: The reminder is dropped if the session resets before it fires.

package builtins

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/coven-relay/internal/packs"
)

// MaxReminderDelay bounds schedule_reminder delays.
const MaxReminderDelay = 24 * time.Hour

// ReminderPack creates the reminder tools.
func ReminderPack() []*packs.Tool {
	return []*packs.Tool{
		packs.NewTool("schedule_reminder", "Remind the user about something after a delay", scheduleReminder),
	}
}

type reminderInput struct {
	DelaySeconds int    `json:"delay_seconds" jsonschema:"minimum=1,maximum=86400,description=Seconds to wait"`
	Note         string `json:"note" jsonschema:"description=What to remind the user about"`
}

func scheduleReminder(_ context.Context, _ packs.Call, in reminderInput) (packs.Outcome, error) {
	delay := time.Duration(in.DelaySeconds) * time.Second
	if delay <= 0 || delay > MaxReminderDelay {
		return packs.Outcome{}, fmt.Errorf("delay_seconds must be between 1 and %d", int(MaxReminderDelay.Seconds()))
	}
	if in.Note == "" {
		return packs.Outcome{}, fmt.Errorf("note is required")
	}

	return packs.Deferred("Reminder scheduled", &packs.Continuation{
		After:   delay,
		Message: "Reminder: " + in.Note,
	}), nil
}
