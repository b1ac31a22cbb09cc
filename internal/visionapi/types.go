package visionapi

import (
	"fmt"
	"strings"
)

// Endpoint paths under the API root.
const (
	EndpointCaption   = "/caption"
	EndpointTranslate = "/translate"
	EndpointTTS       = "/tts"
	EndpointHealth    = "/health"
)

const defaultAudioType = "audio/mpeg"

// Config holds the remote service location.
//
// APIURL: API root including the "/api" prefix, e.g. http://localhost:8000/api
// Timeout: per-request timeout in seconds
type Config struct {
	APIURL  string
	Timeout int
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("api url is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

type CaptionResponse struct {
	Caption string `json:"caption"`
	Error   string `json:"error,omitempty"`
}

type TranslateResponse struct {
	TranslatedText string `json:"translated_text"`
	Error          string `json:"error,omitempty"`
}

// Audio is a synthesized speech payload.
type Audio struct {
	Data        []byte
	ContentType string
}

// Image is an upload for the caption endpoint.
type Image struct {
	Data        []byte
	Filename    string
	ContentType string
}
