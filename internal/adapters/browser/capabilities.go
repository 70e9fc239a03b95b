package browser

import (
	"fmt"
	"maps"

	"github.com/bnema/warmpool/internal/domain"
)

type capabilitySpec struct {
	method   string
	modelKey string
	// ladder holds option overlays tried in order after the request as given.
	ladder []map[string]any
}

var capabilityTable = map[domain.Capability]capabilitySpec{
	domain.CapabilityChat: {method: "chat", modelKey: "chat"},
	domain.CapabilityImage: {method: "txt2img", modelKey: "image", ladder: []map[string]any{
		{"model": "gpt-image-1"},
		{"model": "dall-e-2"},
	}},
	domain.CapabilityTextToSpeech: {method: "txt2speech", ladder: []map[string]any{
		{"voice": "Joanna", "engine": "neural"},
		{"provider": "openai", "voice": "alloy"},
		{"engine": "standard"},
	}},
	domain.CapabilitySpeechToText: {method: "speech2txt", ladder: []map[string]any{
		{"model": "whisper-1"},
	}},
	domain.CapabilitySpeechToSpeech: {method: "speech2speech", ladder: []map[string]any{
		{"provider": "elevenlabs"},
	}},
	domain.CapabilitySearch: {method: "chat", modelKey: "search"},
	domain.CapabilityVideo:  {method: "txt2vid", modelKey: "video"},
}

// rung is one attempt of a capability's fallback ladder.
type rung struct {
	label  string
	method string
	args   []any
}

func (c Config) ladder(call domain.Call) ([]rung, error) {
	spec, ok := capabilityTable[call.Capability]
	if !ok {
		return nil, fmt.Errorf("unsupported capability %q", call.Capability)
	}

	base := make(map[string]any, len(call.Options)+2)
	maps.Copy(base, call.Options)
	if spec.modelKey != "" {
		if model := c.model(spec.modelKey, call.Model); model != "" {
			base["model"] = model
		}
	} else if call.Model != "" {
		base["model"] = call.Model
	}
	if call.Capability == domain.CapabilityChat && call.Stream {
		base["stream"] = true
	}

	method := c.Namespace + "." + spec.method
	rungs := []rung{{label: "primary", method: method, args: []any{primaryArg(call), base}}}
	for i, overlay := range spec.ladder {
		options := maps.Clone(base)
		maps.Copy(options, overlay)
		rungs = append(rungs, rung{
			label:  fmt.Sprintf("fallback-%d", i+1),
			method: method,
			args:   []any{primaryArg(call), options},
		})
	}

	return rungs, nil
}

func primaryArg(call domain.Call) any {
	switch call.Capability {
	case domain.CapabilityChat:
		if len(call.Messages) == 0 {
			return call.Prompt
		}
		messages := append([]domain.Message(nil), call.Messages...)
		if call.Prompt != "" {
			messages = append(messages, domain.Message{Role: "user", Content: call.Prompt})
		}
		return messages
	case domain.CapabilitySpeechToText, domain.CapabilitySpeechToSpeech:
		return call.Input
	default:
		return call.Prompt
	}
}
