package docker_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nstogner/forge/pkg/action"
	"github.com/nstogner/forge/pkg/sandbox"
	"github.com/nstogner/forge/pkg/sandbox/docker"
)

func TestIntegration_Manager(t *testing.T) {
	// Check if DOCKER_HOST is set. If not, we skip.
	if os.Getenv("DOCKER_HOST") == "" {
		t.Skip("Skipping integration test: DOCKER_HOST not set")
	}

	mgr, err := docker.New(docker.Options{})
	if err != nil {
		t.Skipf("Skipping test: Docker not available or failed to init: %v", err)
	}
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	projectID := uuid.New().String()
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mgr.Remove(cleanupCtx, projectID)
	}()

	port, err := mgr.Create(ctx, projectID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Logf("Project %s serving on port %s", projectID, port)

	status, err := mgr.Status(ctx, projectID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != sandbox.StatusRunning {
		t.Errorf("Status = %q, want %q", status, sandbox.StatusRunning)
	}

	res, err := mgr.Exec(ctx, projectID, "pwd")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if strings.TrimSpace(res.Output) != "/var/www/html" || res.ExitCode != 0 {
		t.Errorf("Exec pwd = (%q, %d)", res.Output, res.ExitCode)
	}

	res, err = mgr.Exec(ctx, projectID, "exit 3")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}

	segs := []action.Segment{
		{Kind: action.KindFile, Path: "notes/todo.txt", Content: "one"},
		{Kind: action.KindDiff, Path: "notes/todo.txt", Content: "+ two"},
	}
	for _, o := range sandbox.Apply(ctx, mgr, projectID, segs) {
		if o.Failed() {
			t.Fatalf("Apply %s: %s", o.Segment.Kind, o.Error)
		}
	}

	data, err := mgr.ReadFile(ctx, projectID, "notes/todo.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "one\ntwo\n" {
		t.Errorf("ReadFile = %q, want %q", data, "one\ntwo\n")
	}

	if err := mgr.Remove(ctx, projectID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	status, _ = mgr.Status(ctx, projectID)
	if status != sandbox.StatusStopped {
		t.Errorf("Status after remove = %q, want %q", status, sandbox.StatusStopped)
	}
}
