package remote

import (
	"regexp"
	"sync"
	"time"
	"unicode/utf8"
)

const maxLoggedResponse = 2000

// Exchange is one request/response pair kept for the diagnostics panel.
type Exchange struct {
	Time       time.Time `json:"time"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Request    string    `json:"request,omitempty"`
	Response   string    `json:"response"`
	StatusCode int       `json:"statusCode"`
	DurationMS int64     `json:"durationMs"`
}

// ExchangeLog is a fixed-size ring of recent exchanges.
type ExchangeLog struct {
	mu    sync.Mutex
	items []Exchange
	next  int
	full  bool
}

func NewExchangeLog(size int) *ExchangeLog {
	if size <= 0 {
		size = 1
	}
	return &ExchangeLog{items: make([]Exchange, size)}
}

var apiKeyPattern = regexp.MustCompile(`("(?i:apikey)"\s*:\s*")([^"]{4})[^"]*([^"]{4})"`)

func redact(s string) string {
	return apiKeyPattern.ReplaceAllString(s, `${1}${2}…${3}"`)
}

func truncate(s string) string {
	if len(s) > maxLoggedResponse {
		n := maxLoggedResponse
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		return s[:n] + "... (truncated)"
	}
	return s
}

func (l *ExchangeLog) Add(e Exchange) {
	e.Request = redact(e.Request)
	e.Response = truncate(redact(e.Response))

	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[l.next] = e
	l.next = (l.next + 1) % len(l.items)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns the stored exchanges, newest first.
func (l *ExchangeLog) Recent() []Exchange {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.items)
	}
	out := make([]Exchange, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.items)) % len(l.items)
		out = append(out, l.items[idx])
	}
	return out
}
