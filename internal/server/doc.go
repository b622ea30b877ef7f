// Package server implements the HTTP server: the TwiML webhook for incoming
// calls, the websocket endpoints that accept Twilio Media Stream and browser
// microphone connections, and monitoring/management endpoints.
package server
