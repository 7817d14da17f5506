package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/loykin/pm2ctl/internal/store"
)

// startPostgresContainer starts a PostgreSQL container for tests and
// returns a DSN for the pgx stdlib driver. It skips the test when
// Docker is unavailable.
func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return "", nil
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	dsn = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}
	return dsn, terminate
}

func waitForPostgres(t *testing.T, dsn string) {
	t.Helper()
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresAudit(t *testing.T) {
	dsn, terminate := startPostgresContainer(t)
	waitForPostgres(t, dsn)
	defer func() {
		if terminate != nil {
			terminate()
		}
	}()

	db, err := New(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	// EnsureSchema must be idempotent
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("second schema: %v", err)
	}

	recs := []store.Record{
		{Op: "create", Name: "worker1", Success: true, Attempts: 1, Duration: 90 * time.Millisecond},
		{Op: "stop", Name: "worker1", Success: true, Attempts: 2},
		{Op: "start", Name: "other", Success: false, ExitCode: 1, Attempts: 3, Stderr: "boom"},
	}
	for _, r := range recs {
		if err := db.RecordOp(ctx, r); err != nil {
			t.Fatalf("record %s: %v", r.Op, err)
		}
	}

	got, err := db.Recent(ctx, "worker1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records for worker1, got %d", len(got))
	}
	if got[0].Op != "stop" || got[1].Op != "create" {
		t.Fatalf("unexpected order: %s, %s", got[0].Op, got[1].Op)
	}
	if got[1].Duration != 90*time.Millisecond {
		t.Fatalf("duration roundtrip: %v", got[1].Duration)
	}

	all, err := db.Recent(ctx, "", 2)
	if err != nil {
		t.Fatalf("recent all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("limit ignored: got %d", len(all))
	}
}

func TestNewRejectsEmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
