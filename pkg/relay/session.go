package relay

import "time"

// Status of an authorization session. The string values double as the wire
// vocabulary of the poll and websocket endpoints.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusNotFound Status = "not_found"
)

// Result is the outcome of a session as observed by a consumer. Code is set
// only for complete results, ErrorDescription only for failed ones.
type Result struct {
	Status           Status `json:"status"`
	Code             string `json:"code,omitempty"`
	ErrorDescription string `json:"error,omitempty"`
}

// Complete builds a fulfilled result carrying the authorization code.
func Complete(code string) Result {
	return Result{Status: StatusComplete, Code: code}
}

// Failed builds a failed result carrying the provider's error description.
func Failed(description string) Result {
	return Result{Status: StatusFailed, ErrorDescription: description}
}

func (r Result) Terminal() bool {
	return r.Status == StatusComplete || r.Status == StatusFailed
}

// session is the single entity owned by the store. Callers never see it
// directly; all access goes through the Store operations.
type session struct {
	token     string
	result    Result
	createdAt time.Time
	expiresAt time.Time
	delivered bool
}

func (s *session) terminal() bool {
	return s.result.Terminal()
}
