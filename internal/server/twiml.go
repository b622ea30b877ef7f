package server

import (
	"encoding/xml"
	"fmt"
)

// TwiML voice for the spoken call intro
const twimlVoice = "Google.en-US-Chirp3-HD-Aoede"

type twimlResponse struct {
	XMLName  xml.Name     `xml:"Response"`
	Greeting twimlSay     `xml:"Say"`
	Pause    twimlPause   `xml:"Pause"`
	Prompt   twimlSay     `xml:"Say"`
	Connect  twimlConnect `xml:"Connect"`
}

type twimlSay struct {
	Voice string `xml:"voice,attr"`
	Text  string `xml:",chardata"`
}

type twimlPause struct {
	Length int `xml:"length,attr"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// incomingCallTwiML builds the webhook response that greets the caller and
// connects the call to the media stream endpoint on the given host
func incomingCallTwiML(host string) ([]byte, error) {
	response := twimlResponse{
		Greeting: twimlSay{
			Voice: twimlVoice,
			Text: "Please wait while we connect your call to the A. I. voice assistant, " +
				"powered by Twilio and the Open A I Realtime API",
		},
		Pause: twimlPause{Length: 1},
		Prompt: twimlSay{
			Voice: twimlVoice,
			Text:  "O.K. you can start talking!",
		},
		Connect: twimlConnect{
			Stream: twimlStream{URL: fmt.Sprintf("wss://%s/media-stream", host)},
		},
	}

	body, err := xml.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TwiML: %w", err)
	}

	return append([]byte(xml.Header), body...), nil
}
