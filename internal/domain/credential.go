package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const minCredentialLength = 21

var credentialFields = []string{"token", "value", "auth_token"}

var credentialSentinels = map[string]struct{}{
	"":          {},
	"{}":        {},
	"null":      {},
	"undefined": {},
}

// ValidateCredential normalizes a raw value extracted from the platform page to its
// canonical string form and rejects values that cannot be an auth token.
func ValidateCredential(raw any) (string, error) {
	candidate, err := canonicalCredential(raw)
	if err != nil {
		return "", err
	}

	candidate = strings.TrimSpace(candidate)
	if _, ok := credentialSentinels[candidate]; ok {
		return "", fmt.Errorf("%w: sentinel value %q", ErrInvalidCredential, candidate)
	}
	if n := utf8.RuneCountInString(candidate); n < minCredentialLength {
		return "", fmt.Errorf("%w: too short (%d chars)", ErrInvalidCredential, n)
	}

	return candidate, nil
}

func canonicalCredential(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", fmt.Errorf("%w: empty value", ErrInvalidCredential)
	case string:
		if object, ok := decodeObject([]byte(v)); ok {
			return credentialFromObject(object)
		}
		return v, nil
	case []byte:
		if object, ok := decodeObject(v); ok {
			return credentialFromObject(object)
		}
		return string(v), nil
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return string(v), nil
		}
		return canonicalCredential(decoded)
	case map[string]any:
		return credentialFromObject(v)
	case fmt.Stringer:
		return v.String(), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("%w: encode value: %v", ErrInvalidCredential, err)
		}
		if object, ok := decodeObject(encoded); ok {
			return credentialFromObject(object)
		}
		return string(encoded), nil
	}
}

func decodeObject(data []byte) (map[string]any, bool) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}

	var object map[string]any
	if err := json.Unmarshal([]byte(trimmed), &object); err != nil {
		return nil, false
	}
	if object == nil {
		object = map[string]any{}
	}
	return object, true
}

func credentialFromObject(object map[string]any) (string, error) {
	for _, field := range credentialFields {
		value, ok := object[field]
		if !ok || value == nil {
			continue
		}
		switch typed := value.(type) {
		case string:
			if typed == "" {
				continue
			}
			return typed, nil
		default:
			encoded, err := json.Marshal(typed)
			if err != nil {
				continue
			}
			return string(encoded), nil
		}
	}

	encoded, err := json.Marshal(object)
	if err != nil {
		return "", fmt.Errorf("%w: encode object: %v", ErrInvalidCredential, err)
	}
	return string(encoded), nil
}

// Fingerprint identifies a credential in logs and persisted state without exposing it.
func Fingerprint(credential string) string {
	if credential == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])[:12]
}
