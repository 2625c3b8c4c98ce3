package crawler

import (
	"net/http"
	"strings"
)

// Verdict is the classification of a response
type Verdict int

const (
	// VerdictOK means the page is usable
	VerdictOK Verdict = iota
	// VerdictChallenge means an anti-bot interstitial that may clear on its own
	VerdictChallenge
	// VerdictBlocked means a hard reject
	VerdictBlocked
)

func (v Verdict) String() string {
	switch v {
	case VerdictChallenge:
		return "CHALLENGE"
	case VerdictBlocked:
		return "BLOCKED"
	default:
		return "OK"
	}
}

// defaultSignatures are lowercase markers of challenge interstitials
var defaultSignatures = []string{
	"checking your browser",
	"just a moment",
	"cf-browser-verification",
	"cf-challenge",
	"challenge-platform",
	"cf_chl_opt",
	"verifying you are human",
	"ddos protection by",
	"güvenlik doğrulaması",
	"güvenlik kontrolü",
	"tarayıcınız kontrol ediliyor",
	"lütfen bekleyin, yönlendiriliyorsunuz",
}

var blockedStatuses = map[int]bool{
	http.StatusForbidden:          true,
	http.StatusTooManyRequests:    true,
	http.StatusServiceUnavailable: true,
}

// ChallengeDetector classifies responses as OK, CHALLENGE or BLOCKED
type ChallengeDetector struct {
	signatures []string
}

// NewChallengeDetector creates a detector with the built-in signatures plus extra
func NewChallengeDetector(extra ...string) *ChallengeDetector {
	sigs := make([]string, 0, len(defaultSignatures)+len(extra))
	sigs = append(sigs, defaultSignatures...)
	for _, s := range extra {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			sigs = append(sigs, s)
		}
	}
	return &ChallengeDetector{signatures: sigs}
}

// Classify returns CHALLENGE whenever content carries a challenge signature,
// BLOCKED for 403/429/503 without one, and OK otherwise.
func (d *ChallengeDetector) Classify(status int, content string) Verdict {
	if d.IsChallenge(content) {
		return VerdictChallenge
	}
	if blockedStatuses[status] {
		return VerdictBlocked
	}
	return VerdictOK
}

// IsChallenge reports whether content matches a challenge signature
func (d *ChallengeDetector) IsChallenge(content string) bool {
	if content == "" {
		return false
	}
	lower := strings.ToLower(content)
	for _, sig := range d.signatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
