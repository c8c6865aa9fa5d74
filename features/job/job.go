package job

import (
	"encoding/json"
	"time"
)

// Job is an upload job that exhausted its attempts or failed terminally.
type Job struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	TenantID  string          `json:"tenant_id"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}
