package browser

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bnema/warmpool/internal/domain"
)

var mediaFields = []string{"$media", "$blob", "url", "src", "href", "dataUrl", "data_url", "uri", "audio", "image", "video", "output", "result", "data"}

var textFields = []string{"text", "content", "message", "answer", "result", "output"}

// normalizeMedia reduces a capability result to one media reference. Shapes are
// tried in order: typed handle, URL or data URI string, blob, array (one nested
// level), known object fields, then a search bounded by maxDepth.
func normalizeMedia(value any, maxDepth int) (domain.Artifact, error) {
	if artifact, ok := mediaLeaf(value); ok {
		return artifact, nil
	}

	switch v := value.(type) {
	case []any:
		if artifact, ok := firstInArray(v, 1); ok {
			return artifact, nil
		}
	case map[string]any:
		for _, field := range mediaFields {
			nested, present := v[field]
			if !present {
				continue
			}
			if artifact, ok := mediaLeaf(nested); ok {
				return artifact, nil
			}
			if items, isArray := nested.([]any); isArray {
				if artifact, ok := firstInArray(items, 1); ok {
					return artifact, nil
				}
			}
		}
		if artifact, ok := searchMedia(v, maxDepth); ok {
			return artifact, nil
		}
	}

	return domain.Artifact{}, &domain.CapabilityError{
		Name:    "UnrecognizedResult",
		Message: fmt.Sprintf("no media artifact found in %s result", describeShape(value)),
	}
}

func mediaLeaf(value any) (domain.Artifact, bool) {
	switch v := value.(type) {
	case string:
		return domain.ArtifactFromString(v)
	case map[string]any:
		for _, handle := range []string{"$media", "$blob"} {
			if ref, ok := v[handle].(string); ok {
				return domain.ArtifactFromString(ref)
			}
		}
	}
	return domain.Artifact{}, false
}

func firstInArray(items []any, nesting int) (domain.Artifact, bool) {
	for _, item := range items {
		if artifact, ok := mediaLeaf(item); ok {
			return artifact, true
		}
		if inner, ok := item.([]any); ok && nesting > 0 {
			if artifact, found := firstInArray(inner, nesting-1); found {
				return artifact, true
			}
		}
	}
	return domain.Artifact{}, false
}

func searchMedia(value any, depth int) (domain.Artifact, bool) {
	if depth < 0 {
		return domain.Artifact{}, false
	}
	if artifact, ok := mediaLeaf(value); ok {
		return artifact, true
	}

	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if artifact, ok := searchMedia(item, depth-1); ok {
				return artifact, true
			}
		}
	case map[string]any:
		for _, key := range sortedKeys(v) {
			if artifact, ok := searchMedia(v[key], depth-1); ok {
				return artifact, true
			}
		}
	}
	return domain.Artifact{}, false
}

// normalizeText extracts the reply text of chat-like results.
func normalizeText(value any) (string, bool) {
	return textAt(value, 5)
}

func textAt(value any, depth int) (string, bool) {
	if depth < 0 {
		return "", false
	}

	switch v := value.(type) {
	case string:
		return v, true
	case []any:
		var b strings.Builder
		for _, part := range v {
			if text, ok := textAt(part, depth-1); ok {
				b.WriteString(text)
			}
		}
		return b.String(), b.Len() > 0
	case map[string]any:
		for _, field := range textFields {
			if nested, present := v[field]; present && nested != nil {
				if text, ok := textAt(nested, depth-1); ok {
					return text, true
				}
			}
		}
	case float64, bool:
		return fmt.Sprint(v), true
	}
	return "", false
}

// embeddedError reports a failure the platform returned as a value instead of throwing.
func embeddedError(value any) (*domain.CapabilityError, bool) {
	v, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}

	errValue, hasError := v["error"]
	failed := v["success"] == false
	if !failed && !(hasError && errValue != nil && len(v) == 1) {
		return nil, false
	}
	if errValue == nil {
		errValue = v
	}
	return capabilityErrorFrom(errValue), true
}

func capabilityErrorFrom(value any) *domain.CapabilityError {
	switch v := value.(type) {
	case string:
		return &domain.CapabilityError{Message: v}
	case map[string]any:
		capErr := &domain.CapabilityError{}
		capErr.Message, _ = v["message"].(string)
		capErr.Name, _ = v["name"].(string)
		capErr.Stack, _ = v["stack"].(string)
		if capErr.Message == "" {
			if code, ok := v["code"].(string); ok {
				capErr.Message = code
			}
		}
		if capErr.Message == "" {
			capErr.Message = marshalShape(v)
		}
		return capErr
	default:
		return &domain.CapabilityError{Message: marshalShape(v)}
	}
}

func marshalShape(value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(raw)
}

func describeShape(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case []any:
		return fmt.Sprintf("array(%d)", len(v))
	case map[string]any:
		keys := sortedKeys(v)
		if len(keys) > 6 {
			keys = append(keys[:6], "...")
		}
		return "object{" + strings.Join(keys, ",") + "}"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
