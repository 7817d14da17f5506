package pm2

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state pm2 reports for one process.
type Status string

const (
	StatusOnline    Status = "online"
	StatusStopped   Status = "stopped"
	StatusErrored   Status = "errored"
	StatusLaunching Status = "launching"
	StatusStopping  Status = "stopping"
	StatusUnknown   Status = "unknown"
)

// ParseStatus normalizes a raw status token (case and surrounding
// whitespace are tolerated). Unknown tokens are rejected rather than
// coerced: a token we have never seen usually means the output schema
// changed under us.
func ParseStatus(tok string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(tok))) {
	case StatusOnline:
		return StatusOnline, nil
	case StatusStopped:
		return StatusStopped, nil
	case StatusErrored:
		return StatusErrored, nil
	case StatusLaunching:
		return StatusLaunching, nil
	case StatusStopping:
		return StatusStopping, nil
	case StatusUnknown:
		return StatusUnknown, nil
	default:
		return "", ErrParse(fmt.Sprintf("unexpected status token %q", tok), nil)
	}
}

// Record is a typed snapshot of one supervised process as reported by
// pm2. PID is 0 whenever the status carries no live process
// (everything except online and launching).
type Record struct {
	Name          string            `json:"name"`
	PMID          int               `json:"pm_id"`
	PID           int               `json:"pid"`
	Status        Status            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Restarts      int               `json:"restarts"`
	CPUPercent    float64           `json:"cpu_percent"`
	MemoryBytes   int64             `json:"memory_bytes"`
	Script        string            `json:"script"`
	Interpreter   string            `json:"interpreter,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	OutLogPath    string            `json:"out_log_path,omitempty"`
	ErrLogPath    string            `json:"err_log_path,omitempty"`
}

// Alive reports whether the status implies a live OS process.
func (s Status) Alive() bool {
	return s == StatusOnline || s == StatusLaunching
}

// Excerpt is a bounded read of one process's log stream, oldest line
// first. Truncated indicates more history exists beyond Lines.
type Excerpt struct {
	ProcessName string   `json:"process_name"`
	Lines       []string `json:"lines"`
	Truncated   bool     `json:"truncated"`
}
