package helpers

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// FailureRecorder receives permanently failed requests
type FailureRecorder interface {
	RecordFailure(url, role string, attempts int, err error)
}

// FailureLog appends permanent failures to a plain-text file, one per line
type FailureLog struct {
	mu   sync.Mutex
	path string
}

// NewFailureLog creates a new failure log writing to path
func NewFailureLog(path string) *FailureLog {
	return &FailureLog{
		path: path,
	}
}

// RecordFailure appends a line with timestamp, role, attempts, url and reason
func (l *FailureLog) RecordFailure(url, role string, attempts int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, fileErr := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if fileErr != nil {
		fmt.Fprintf(os.Stderr, "failure log open error: %v\n", fileErr)
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(f, "[%s] [%s] attempts=%d %s %v\n", timestamp, role, attempts, url, err)
}
