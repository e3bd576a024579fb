package orchestrator

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const MaxURLLength = 2048

var ErrInvalidURL = errors.New("invalid url")

// LooksLikeURL is the cheap check used for free text outside of the
// awaiting_url state.
func LooksLikeURL(text string) bool {
	s := strings.ToLower(strings.TrimSpace(text))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// ValidateURL accepts absolute http(s) URLs of at most MaxURLLength
// characters. It never touches the network.
func ValidateURL(raw string) (string, error) {
	if n := utf8.RuneCountInString(raw); n > MaxURLLength {
		return "", fmt.Errorf("%w: %d characters, limit is %d", ErrInvalidURL, n, MaxURLLength)
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return "", fmt.Errorf("%w: contains whitespace", ErrInvalidURL)
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: cannot parse", ErrInvalidURL)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("%w: only http and https links are supported", ErrInvalidURL)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return s, nil
}
