package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeNetwork represents transport failures while loading a page
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents a navigation or handler deadline being exceeded
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeChallenge represents an anti-bot interstitial that did not clear
	ErrorTypeChallenge ErrorType = "challenge"
	// ErrorTypeChallengeTimeout represents a challenge whose redirect never happened
	ErrorTypeChallengeTimeout ErrorType = "challenge_timeout"
	// ErrorTypeBlocked represents a hard reject (403/429/503 without a challenge)
	ErrorTypeBlocked ErrorType = "blocked"
	// ErrorTypeRateLimit represents a host that is cooling down after a block
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeSession represents session pool starvation
	ErrorTypeSession ErrorType = "session"
	// ErrorTypeParsing represents HTML extraction errors
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypeData represents records that cannot be used
	ErrorTypeData ErrorType = "data"
	// ErrorTypeSink represents storage failures
	ErrorTypeSink ErrorType = "sink"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// ErrNoSeeds is returned when a crawl has no valid entry point.
var ErrNoSeeds = stderrors.New("no valid seed urls")

// CrawlerError represents a crawler-specific error
type CrawlerError struct {
	Type    ErrorType
	URL     string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *CrawlerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.URL, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.URL, e.Message)
}

// Unwrap returns the underlying error
func (e *CrawlerError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is retryable
func (e *CrawlerError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeChallenge, ErrorTypeChallengeTimeout,
		ErrorTypeBlocked, ErrorTypeRateLimit, ErrorTypeSession:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err should send its request back to the queue.
// Errors outside the taxonomy are retryable; cancellation never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	var ce *CrawlerError
	if stderrors.As(err, &ce) {
		return ce.IsRetryable()
	}
	return true
}

// TypeOf returns the error type, or an empty type for foreign errors
func TypeOf(err error) ErrorType {
	var ce *CrawlerError
	if stderrors.As(err, &ce) {
		return ce.Type
	}
	return ""
}

// New creates a new CrawlerError
func New(errType ErrorType, url, message string, err error) *CrawlerError {
	return &CrawlerError{
		Type:    errType,
		URL:     url,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewNetwork creates a new network error
func NewNetwork(url, message string, err error) *CrawlerError {
	return New(ErrorTypeNetwork, url, message, err)
}

// NewTimeout creates a new timeout error
func NewTimeout(url, message string, err error) *CrawlerError {
	return New(ErrorTypeTimeout, url, message, err)
}

// NewChallenge creates an error for a challenge that outlived its waits
func NewChallenge(url, message string) *CrawlerError {
	return New(ErrorTypeChallenge, url, message, nil)
}

// NewChallengeTimeout creates an error for a challenge redirect that never came
func NewChallengeTimeout(url string, waited time.Duration, err error) *CrawlerError {
	return New(ErrorTypeChallengeTimeout, url, fmt.Sprintf("challenge not resolved within %v", waited), err)
}

// NewBlocked creates a new blocked error
func NewBlocked(url string, status int) *CrawlerError {
	return New(ErrorTypeBlocked, url, fmt.Sprintf("blocked with status %d", status), nil)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(url string, duration time.Duration) *CrawlerError {
	message := fmt.Sprintf("host cooling down for %v", duration)
	return New(ErrorTypeRateLimit, url, message, nil)
}

// NewSession creates a new session starvation error
func NewSession(message string, err error) *CrawlerError {
	return New(ErrorTypeSession, "", message, err)
}

// NewParsing creates a new parsing error
func NewParsing(url, message string, err error) *CrawlerError {
	return New(ErrorTypeParsing, url, message, err)
}

// NewData creates a new data error
func NewData(url, message string) *CrawlerError {
	return New(ErrorTypeData, url, message, nil)
}

// NewSink creates a new sink error
func NewSink(sink, message string, err error) *CrawlerError {
	return New(ErrorTypeSink, sink, message, err)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *CrawlerError {
	return New(ErrorTypeConfiguration, "", message, err)
}
