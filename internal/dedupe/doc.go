// Package dedupe recognises inbound messages that were already processed.
//
// Mail relays may deliver the same message more than once. The gateway keys
// each inbound email by its normalised Message-ID and drops repeats seen
// within the TTL:
//
//	cache := dedupe.New(24*time.Hour, 10000)
//	defer cache.Close()
//
//	if cache.Seen(dedupe.NormalizeMessageID(in.MessageID)) {
//	    return // duplicate
//	}
package dedupe
