// Package transport implements frame codecs for the audio transports.
// It decodes inbound websocket messages into tagged frames and encodes
// assistant audio and control messages into transport-specific envelopes,
// for both the Twilio Media Stream and browser microphone variants.
package transport
