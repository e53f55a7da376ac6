// Package stream runs the producer side of live browser viewing.
//
// For each escalation the channel registers a browser session with the
// platform, then streams the page over whichever transport it can hold:
//
//   - Primary: a websocket to the relay. The producer identifies itself,
//     announces page metadata, and pushes JPEG frames driven by the
//     browser's own screencast, one frame per ack. Viewer commands arrive
//     on the same socket and run inline.
//   - Fallback: HTTP polling against the platform. Screenshots are pushed
//     and pending commands drained on independent tickers.
//
// A lost socket is retried on a fixed backoff schedule; when the schedule
// is exhausted the session degrades to polling permanently. Both transports
// push one screenshot immediately on entry so the viewer never starts
// blank.
//
// The streamed page is borrowed, never owned: stopping a session tears
// down transports and the platform record but leaves the page open for the
// agent to keep working.
//
// Example Usage:
//
//	channel := stream.NewChannel(stream.DefaultConfig(cfg.Relay.URL), store, logger)
//	sessionID, err := channel.StartSession(ctx, escalationID, pg)
//	if err != nil {
//	    return err
//	}
//	defer channel.StopSession(ctx, sessionID)
package stream
