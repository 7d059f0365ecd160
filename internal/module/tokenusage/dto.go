package tokenusage

import "time"

// SyncRequest is a token usage report from a connected platform.
type SyncRequest struct {
	UserID     string         `json:"userId"`
	Action     string         `json:"action"`
	TokensUsed *int64         `json:"tokensUsed"`
	Provider   string         `json:"provider"`
	Source     string         `json:"source"`
	Timestamp  string         `json:"timestamp"`
	Metadata   map[string]any `json:"metadata"`
}

// Validate returns one message per invalid field.
func (r *SyncRequest) Validate() []string {
	var errs []string
	if r.Action == "" {
		errs = append(errs, "action is required and must be a string")
	}
	if r.TokensUsed == nil {
		errs = append(errs, "tokensUsed is required")
	} else if *r.TokensUsed < 0 {
		errs = append(errs, "tokensUsed must be a positive integer")
	}
	if r.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, r.Timestamp); err != nil {
			errs = append(errs, "timestamp must be a valid ISO date string")
		}
	}
	return errs
}

// SyncResponse acknowledges a recorded entry.
type SyncResponse struct {
	ID        string    `json:"id"`
	Recorded  bool      `json:"recorded"`
	Timestamp time.Time `json:"timestamp"`
}
