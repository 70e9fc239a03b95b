package domain

import (
	"fmt"
	"strings"
)

type Capability string

const (
	CapabilityChat           Capability = "chat"
	CapabilityImage          Capability = "image"
	CapabilitySpeechToText   Capability = "speech-to-text"
	CapabilityTextToSpeech   Capability = "text-to-speech"
	CapabilitySpeechToSpeech Capability = "speech-to-speech"
	CapabilitySearch         Capability = "search"
	CapabilityVideo          Capability = "video"
)

var capabilities = []Capability{
	CapabilityChat,
	CapabilityImage,
	CapabilitySpeechToText,
	CapabilityTextToSpeech,
	CapabilitySpeechToSpeech,
	CapabilitySearch,
	CapabilityVideo,
}

func Capabilities() []Capability {
	out := make([]Capability, len(capabilities))
	copy(out, capabilities)
	return out
}

func (c Capability) Valid() bool {
	for _, known := range capabilities {
		if c == known {
			return true
		}
	}
	return false
}

// Media reports whether the capability produces a media artifact rather than text.
func (c Capability) Media() bool {
	switch c {
	case CapabilityImage, CapabilityTextToSpeech, CapabilitySpeechToSpeech, CapabilityVideo:
		return true
	default:
		return false
	}
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Call struct {
	Capability Capability     `json:"capability"`
	Prompt     string         `json:"prompt,omitempty"`
	Messages   []Message      `json:"messages,omitempty"`
	Model      string         `json:"model,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
	// Input carries an auxiliary payload (image or audio) as a data URI or URL.
	Input  string `json:"input,omitempty"`
	Stream bool   `json:"stream,omitempty"`
}

func (c Call) Validate() error {
	if !c.Capability.Valid() {
		return fmt.Errorf("unsupported capability %q", c.Capability)
	}

	switch c.Capability {
	case CapabilityChat:
		if strings.TrimSpace(c.Prompt) == "" && len(c.Messages) == 0 {
			return fmt.Errorf("chat requires a prompt or messages")
		}
	case CapabilitySpeechToText, CapabilitySpeechToSpeech:
		if strings.TrimSpace(c.Input) == "" {
			return fmt.Errorf("%s requires an audio input", c.Capability)
		}
	default:
		if strings.TrimSpace(c.Prompt) == "" {
			return fmt.Errorf("%s requires a prompt", c.Capability)
		}
	}

	return nil
}

type ArtifactKind string

const (
	ArtifactText    ArtifactKind = "text"
	ArtifactURL     ArtifactKind = "url"
	ArtifactDataURI ArtifactKind = "data-uri"
)

type Artifact struct {
	Kind  ArtifactKind `json:"kind"`
	Value string       `json:"value"`
}

// ArtifactFromString classifies a media reference by its scheme.
func ArtifactFromString(value string) (Artifact, bool) {
	trimmed := strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(trimmed, "data:"):
		return Artifact{Kind: ArtifactDataURI, Value: trimmed}, true
	case strings.HasPrefix(trimmed, "http://"), strings.HasPrefix(trimmed, "https://"), strings.HasPrefix(trimmed, "blob:"):
		return Artifact{Kind: ArtifactURL, Value: trimmed}, true
	default:
		return Artifact{}, false
	}
}

// Chunk is one streamed fragment: text, or a structured error reported mid-stream.
type Chunk struct {
	Text string           `json:"text,omitempty"`
	Err  *CapabilityError `json:"error,omitempty"`
}

type ChunkFunc func(Chunk)
