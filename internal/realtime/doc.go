// Package realtime implements the websocket client for the OpenAI Realtime
// API. It configures the session once on dial, exposes liveness-gated
// best-effort sends, and delivers server events on a channel that closes when
// the connection ends. Connection loss is terminal; there is no reconnect.
package realtime
