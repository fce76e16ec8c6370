package automation

import (
	"encoding/json"
	"strings"
	"time"
)

// envelopePrefix is the fixed textual wrapper the automation service puts
// around its JSON body on some responses.
const envelopePrefix = "API_RESULT:"

const invalidJSONMessage = "Invalid JSON response"

// Result is the decoded response envelope of one automation call.
type Result struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	CompletedAt string `json:"timestampOfCompletion,omitempty"`

	ElapsedMillis int64 `json:"-"`
	AttemptNumber int   `json:"-"`
}

// ParseEnvelope strips the textual prefix when present and decodes the
// JSON body. A response that fails to decode yields a failed Result, never
// an error: downstream stages treat malformed responses as normal failures.
func ParseEnvelope(raw []byte) Result {
	body := strings.TrimSpace(string(raw))
	body = strings.TrimSpace(strings.TrimPrefix(body, envelopePrefix))

	var result Result
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return Result{Success: false, Error: invalidJSONMessage}
	}
	return result
}

func nowTimestamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339Nano)
}
