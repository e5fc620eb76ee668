package docker

import (
	"testing"
	"time"
)

func TestOptionsDefaults(t *testing.T) {
	got := Options{Image: "custom:latest", CPUQuota: 20000}.withDefaults()

	if got.Image != "custom:latest" {
		t.Errorf("Image = %q, want %q", got.Image, "custom:latest")
	}
	if got.CPUQuota != 20000 {
		t.Errorf("CPUQuota = %d, want 20000", got.CPUQuota)
	}
	if got.MemoryBytes != 128*1024*1024 {
		t.Errorf("MemoryBytes = %d, want 128MiB", got.MemoryBytes)
	}
	if got.CPUPeriod != 10000 {
		t.Errorf("CPUPeriod = %d, want 10000", got.CPUPeriod)
	}
	if got.Port != "80" || got.Workdir != "/var/www/html" {
		t.Errorf("Port, Workdir = %q, %q", got.Port, got.Workdir)
	}
	if got.HealthTimeout != 120*time.Second {
		t.Errorf("HealthTimeout = %v", got.HealthTimeout)
	}
}

func TestContainerName(t *testing.T) {
	m := &Manager{opts: DefaultOptions()}
	if got := m.containerName("abc"); got != "forge-project-abc" {
		t.Errorf("containerName = %q", got)
	}
}

func TestMkdirCmdKeepsPathIntact(t *testing.T) {
	for _, dir := range []string{
		"/var/www/html/src",
		"/var/www/html/it's here",
		"/var/www/html/a'; touch /tmp/x; echo '",
		"/var/www/html/-p",
	} {
		got := mkdirCmd(dir)
		if len(got) != 4 || got[0] != "mkdir" || got[3] != dir {
			t.Errorf("mkdirCmd(%q) = %q", dir, got)
		}
	}
}

func TestShellCmd(t *testing.T) {
	got := shellCmd("ls -la")
	if len(got) != 3 || got[0] != "sh" || got[1] != "-c" || got[2] != "ls -la" {
		t.Errorf("shellCmd = %q", got)
	}
}
