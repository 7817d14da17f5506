package pm2

import (
	"fmt"
	"testing"
	"time"
)

// sampleProc renders one jlist entry with the given status and pid.
func sampleProc(name, status string, pid int) string {
	return fmt.Sprintf(`{
		"pid": %d,
		"name": %q,
		"pm_id": 0,
		"monit": {"memory": 1048576, "cpu": 1.5},
		"pm2_env": {
			"status": %q,
			"pm_uptime": 1700000000000,
			"restart_time": 2,
			"created_at": 1699990000000,
			"pm_exec_path": "/srv/app/worker.py",
			"exec_interpreter": "python3",
			"pm_out_log_path": "/var/log/pm2/worker-out.log",
			"pm_err_log_path": "/var/log/pm2/worker-error.log",
			"env": {"PORT": "5001", "pm_id": 0}
		}
	}`, pid, name, status)
}

func TestParseListEmptyFleet(t *testing.T) {
	records, err := ParseList([]byte("[]"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty fleet, got %d records", len(records))
	}
}

func TestParseListOnlineProcess(t *testing.T) {
	raw := "[" + sampleProc("worker1", "online", 4242) + "]"
	now := time.UnixMilli(1700000060000)
	records, err := parseListAt([]byte(raw), now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.Name != "worker1" || r.Status != StatusOnline || r.PID != 4242 {
		t.Fatalf("unexpected record: %+v", r)
	}
	if r.UptimeSeconds != 60 {
		t.Fatalf("uptime=%d want 60", r.UptimeSeconds)
	}
	if r.Restarts != 2 || r.MemoryBytes != 1048576 || r.CPUPercent != 1.5 {
		t.Fatalf("unexpected gauges: %+v", r)
	}
	if r.Script != "/srv/app/worker.py" || r.Interpreter != "python3" {
		t.Fatalf("unexpected script fields: %+v", r)
	}
	if r.Env["PORT"] != "5001" {
		t.Fatalf("env not extracted: %+v", r.Env)
	}
	if _, ok := r.Env["pm_id"]; ok {
		t.Fatalf("non-string pm2 bookkeeping leaked into env")
	}
	if r.CreatedAt.UnixMilli() != 1699990000000 {
		t.Fatalf("created_at=%v", r.CreatedAt)
	}
}

func TestParseListStoppedProcessHasNoPID(t *testing.T) {
	raw := "[" + sampleProc("worker1", "stopped", 4242) + "]"
	records, err := ParseList([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := records[0]
	if r.PID != 0 {
		t.Fatalf("stopped process must have pid 0, got %d", r.PID)
	}
	if r.UptimeSeconds != 0 {
		t.Fatalf("stopped process must have zero uptime, got %d", r.UptimeSeconds)
	}
}

func TestParseListStatusTokenTolerance(t *testing.T) {
	raw := "[" + sampleProc("worker1", "  ONLINE ", 1) + "]"
	records, err := ParseList([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if records[0].Status != StatusOnline {
		t.Fatalf("status=%q", records[0].Status)
	}
}

func TestParseListRejectsUnknownStatusToken(t *testing.T) {
	raw := "[" + sampleProc("worker1", "wedged", 1) + "]"
	_, err := ParseList([]byte(raw))
	if !IsParseErr(err) {
		t.Fatalf("expected parse error for unknown status token, got %v", err)
	}
}

func TestParseListMissingStatusIsParseError(t *testing.T) {
	raw := `[{"pid": 1, "name": "worker1", "pm_id": 0, "pm2_env": {"pm_uptime": 1}}]`
	_, err := ParseList([]byte(raw))
	if !IsParseErr(err) {
		t.Fatalf("expected parse error for missing status, got %v", err)
	}
}

func TestParseListNonNumericFieldIsParseError(t *testing.T) {
	raw := `[{"pid": "forty-two", "name": "worker1", "pm2_env": {"status": "online"}}]`
	_, err := ParseList([]byte(raw))
	if !IsParseErr(err) {
		t.Fatalf("expected parse error for non-numeric pid, got %v", err)
	}
}

func TestParseListMissingNameIsParseError(t *testing.T) {
	raw := `[{"pid": 1, "pm2_env": {"status": "online"}}]`
	_, err := ParseList([]byte(raw))
	if !IsParseErr(err) {
		t.Fatalf("expected parse error for missing name, got %v", err)
	}
}

func TestParseListMalformedJSON(t *testing.T) {
	for _, raw := range []string{"", "   ", "{", "not json"} {
		if _, err := ParseList([]byte(raw)); !IsParseErr(err) {
			t.Fatalf("input %q: expected parse error, got %v", raw, err)
		}
	}
}

func TestParseOne(t *testing.T) {
	raw := "[" + sampleProc("a", "online", 1) + "," + sampleProc("b", "stopped", 0) + "]"
	r, err := ParseOne([]byte(raw), "b")
	if err != nil {
		t.Fatalf("parse one: %v", err)
	}
	if r.Name != "b" || r.Status != StatusStopped {
		t.Fatalf("unexpected record: %+v", r)
	}
	if _, err := ParseOne([]byte(raw), "c"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUptimeNeverNegative(t *testing.T) {
	// pm_uptime in the future (clock skew) must clamp to zero
	if got := uptimeSeconds(time.Now().Add(time.Hour).UnixMilli(), time.Now()); got != 0 {
		t.Fatalf("uptime=%d want 0", got)
	}
}
