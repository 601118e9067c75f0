// Package packs provides tool registration and per-session tool execution.
//
// # Overview
//
// A tool is a named, described function the model can ask to run. Tools are
// collected in a Registry and executed through an Executor. Each session
// owns one Executor, which runs at most one tool at a time.
//
// # Defining tools
//
// NewTool reflects a JSON schema from a typed argument struct and decodes
// the model's arguments into it before calling the handler:
//
//	type reminderArgs struct {
//	    DelaySeconds int    `json:"delay_seconds"`
//	    Note         string `json:"note"`
//	}
//
//	tool := packs.NewTool("schedule_reminder", "Remind the user later",
//	    func(ctx context.Context, call packs.Call, args reminderArgs) (packs.Outcome, error) {
//	        return packs.Deferred("Reminder scheduled", &packs.Continuation{
//	            After:   time.Duration(args.DelaySeconds) * time.Second,
//	            Message: "Reminder: " + args.Note,
//	        }), nil
//	    })
//
// # Outcomes
//
// A handler returns one of three outcomes:
//
//   - Completed: the result text goes back to the model
//   - Failed: the error text goes back to the model; the conversation continues
//   - Deferred: an acknowledgement goes back now, and an optional Continuation
//     fires later through the Resume callback the caller supplied
//
// A returned error or a panic is converted to Failed. Continuations cannot be
// cancelled; the caller makes them inert by ignoring stale resumes.
package packs
