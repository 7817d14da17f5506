package pm2

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Wire types for `pm2 jlist`. Required fields are pointers so that a
// missing field is distinguishable from a zero value; json.Unmarshal
// enforces the numeric types (a string where a number is expected fails
// the decode instead of silently defaulting).

type jlistProcess struct {
	PID   *int       `json:"pid"`
	Name  *string    `json:"name"`
	PMID  *int       `json:"pm_id"`
	Monit *jlistIO   `json:"monit"`
	Env   *jlistEnv  `json:"pm2_env"`
}

type jlistIO struct {
	Memory *int64   `json:"memory"`
	CPU    *float64 `json:"cpu"`
}

type jlistEnv struct {
	Status      *string        `json:"status"`
	PMUptime    *int64         `json:"pm_uptime"` // start time, epoch millis
	RestartTime *int           `json:"restart_time"`
	CreatedAt   *int64         `json:"created_at"` // epoch millis
	ExecPath    string         `json:"pm_exec_path"`
	Interpreter string         `json:"exec_interpreter"`
	OutLogPath  string         `json:"pm_out_log_path"`
	ErrLogPath  string         `json:"pm_err_log_path"`
	Env         map[string]any `json:"env"`
}

// ParseList converts raw `pm2 jlist` output into typed records.
// An empty fleet yields an empty slice, not an error.
func ParseList(raw []byte) ([]Record, error) {
	return parseListAt(raw, time.Now())
}

func parseListAt(raw []byte, now time.Time) ([]Record, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, ErrParse("empty jlist output", nil)
	}
	var procs []jlistProcess
	if err := json.Unmarshal([]byte(trimmed), &procs); err != nil {
		return nil, ErrParse("malformed jlist output", err)
	}
	records := make([]Record, 0, len(procs))
	for i, p := range procs {
		rec, err := toRecord(p, i, now)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// ParseOne extracts the record for name from raw jlist output. It fails
// with a not-found error when the name is absent and a parse error when
// the output does not match the schema.
func ParseOne(raw []byte, name string) (Record, error) {
	records, err := ParseList(raw)
	if err != nil {
		return Record{}, err
	}
	for _, r := range records {
		if r.Name == name {
			return r, nil
		}
	}
	return Record{}, ErrNotFound(name)
}

func toRecord(p jlistProcess, idx int, now time.Time) (Record, error) {
	if p.Name == nil || *p.Name == "" {
		return Record{}, ErrParse(fmt.Sprintf("process[%d]: missing name", idx), nil)
	}
	name := *p.Name
	if p.Env == nil {
		return Record{}, ErrParse(fmt.Sprintf("process %q: missing pm2_env", name), nil)
	}
	if p.Env.Status == nil {
		return Record{}, ErrParse(fmt.Sprintf("process %q: missing status", name), nil)
	}
	status, err := ParseStatus(*p.Env.Status)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		Name:        name,
		Status:      status,
		Script:      p.Env.ExecPath,
		Interpreter: normalizeInterpreter(p.Env.Interpreter),
		OutLogPath:  p.Env.OutLogPath,
		ErrLogPath:  p.Env.ErrLogPath,
	}
	if p.PMID != nil {
		rec.PMID = *p.PMID
	}
	if status.Alive() && p.PID != nil {
		rec.PID = *p.PID
	}
	if p.Env.RestartTime != nil {
		if *p.Env.RestartTime < 0 {
			return Record{}, ErrParse(fmt.Sprintf("process %q: negative restart count", name), nil)
		}
		rec.Restarts = *p.Env.RestartTime
	}
	if status == StatusOnline && p.Env.PMUptime != nil {
		rec.UptimeSeconds = uptimeSeconds(*p.Env.PMUptime, now)
	}
	if p.Env.CreatedAt != nil {
		rec.CreatedAt = time.UnixMilli(*p.Env.CreatedAt).UTC()
	}
	if p.Monit != nil {
		if p.Monit.CPU != nil {
			rec.CPUPercent = *p.Monit.CPU
		}
		if p.Monit.Memory != nil {
			rec.MemoryBytes = *p.Monit.Memory
		}
	}
	rec.Env = stringEnv(p.Env.Env)
	return rec, nil
}

// uptimeSeconds derives uptime from pm2's pm_uptime, which is the start
// timestamp in epoch millis, not a duration.
func uptimeSeconds(startMillis int64, now time.Time) int64 {
	up := now.UnixMilli() - startMillis
	if up < 0 {
		return 0
	}
	return up / 1000
}

// stringEnv keeps the string-valued entries of pm2_env.env. pm2 mixes
// its own bookkeeping (objects, numbers) into the same map; only plain
// strings are user environment.
func stringEnv(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string)
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeInterpreter hides pm2's "none" placeholder for binary scripts.
func normalizeInterpreter(in string) string {
	if in == "none" {
		return ""
	}
	return in
}
