// Package builtins provides the relay's built-in tools.
//
// # Tools
//
// Mail pack:
//
//   - send_email: Send an email on behalf of the session. The Message-ID
//     encodes the session so a reply can be routed back. The outcome is
//     deferred until the reply arrives.
//
// Reminder pack:
//
//   - schedule_reminder: Inject a reminder into the conversation after a
//     delay.
//
// # Registration
//
//	reg := packs.NewRegistry(logger)
//	err := reg.Register(append(
//	    builtins.MailPack(sender, mailCfg),
//	    builtins.ReminderPack()...,
//	)...)
package builtins
