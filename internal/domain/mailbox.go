package domain

import (
	"regexp"
	"strings"
)

const VerificationCodeLength = 6

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// Ordered from most to least specific.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:code|verification|verify|otp)[^0-9]{0,40}(\d{3}[\s\-]?\d{3})`),
	regexp.MustCompile(`\b(\d{3}[\s\-]\d{3})\b`),
	regexp.MustCompile(`\b(\d{6})\b`),
}

var subjectKeywords = []string{"verify", "verification", "confirm", "code", "welcome"}

type Mailbox struct {
	Address     string
	PendingCode string
}

func FindEmail(text string) (string, bool) {
	match := emailPattern.FindString(text)
	if match == "" {
		return "", false
	}
	return strings.ToLower(match), true
}

// AcceptedDomain returns a predicate over addresses. An empty suffix list accepts any domain.
func AcceptedDomain(suffixes []string) func(string) bool {
	normalized := make([]string, 0, len(suffixes))
	for _, suffix := range suffixes {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		suffix = strings.TrimPrefix(suffix, "@")
		if suffix != "" {
			normalized = append(normalized, suffix)
		}
	}

	return func(address string) bool {
		at := strings.LastIndex(address, "@")
		if at < 0 || at == len(address)-1 {
			return false
		}
		if len(normalized) == 0 {
			return true
		}

		domain := strings.ToLower(address[at+1:])
		for _, suffix := range normalized {
			if domain == suffix || strings.HasSuffix(domain, "."+suffix) {
				return true
			}
		}
		return false
	}
}

// ExtractCode finds a six digit verification code in free text.
func ExtractCode(text string) (string, bool) {
	for _, pattern := range codePatterns {
		match := pattern.FindStringSubmatch(text)
		if len(match) < 2 {
			continue
		}
		code := DigitsOnly(match[1])
		if len(code) == VerificationCodeLength {
			return code, true
		}
	}
	return "", false
}

// LooksLikeVerification reports whether an inbox row is worth opening.
func LooksLikeVerification(text string) bool {
	if containsAny(text, subjectKeywords) {
		return true
	}
	_, ok := ExtractCode(text)
	return ok
}

func DigitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
