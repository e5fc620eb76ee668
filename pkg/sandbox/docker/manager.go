// Package docker implements sandbox.Manager with one Docker container per
// project running the Laravel application image.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/nstogner/forge/pkg/sandbox"
)

const (
	// LabelManager is the label used to identify containers managed by this system.
	LabelManager = "manager"
	// LabelManagerValue is the value of the manager label.
	LabelManagerValue = "forge"
	// LabelProjectID is the label used to identify which project a container belongs to.
	LabelProjectID = "project-id"
	// ReconcileInterval is how often the Run loop checks for drift.
	ReconcileInterval = 10 * time.Second
)

// Options configures the containers the manager creates.
type Options struct {
	Image string
	// MemoryBytes limits container memory.
	MemoryBytes int64
	// CPUPeriod and CPUQuota configure the CFS scheduler.
	CPUPeriod int64
	CPUQuota  int64
	// Port is the container port the application listens on.
	Port string
	// Workdir is the project root inside the container.
	Workdir string
	// HealthTimeout bounds how long a new container may take to answer HTTP.
	HealthTimeout time.Duration
}

// DefaultOptions returns the settings of the Laravel image.
func DefaultOptions() Options {
	return Options{
		Image:         "baraich/laravel-slim",
		MemoryBytes:   128 * 1024 * 1024,
		CPUPeriod:     10000,
		CPUQuota:      5000,
		Port:          "80",
		Workdir:       "/var/www/html",
		HealthTimeout: 120 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Image == "" {
		o.Image = d.Image
	}
	if o.MemoryBytes == 0 {
		o.MemoryBytes = d.MemoryBytes
	}
	if o.CPUPeriod == 0 {
		o.CPUPeriod = d.CPUPeriod
	}
	if o.CPUQuota == 0 {
		o.CPUQuota = d.CPUQuota
	}
	if o.Port == "" {
		o.Port = d.Port
	}
	if o.Workdir == "" {
		o.Workdir = d.Workdir
	}
	if o.HealthTimeout == 0 {
		o.HealthTimeout = d.HealthTimeout
	}
	return o
}

// Manager implements sandbox.Manager using Docker containers.
type Manager struct {
	client *client.Client
	opts   Options
}

// Verify interface compliance.
var _ sandbox.Manager = (*Manager)(nil)

// New creates a new Docker sandbox manager.
func New(opts Options) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Manager{client: cli, opts: opts.withDefaults()}, nil
}

// Run starts a long-running reconciliation loop. It periodically lists
// known projects and ensures each has a running container. Orphan
// containers are removed. Blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, projects sandbox.ProjectLister) error {
	slog.Info("Sandbox manager reconciliation loop starting", "image", m.opts.Image)

	if err := m.reconcile(ctx, projects); err != nil {
		slog.Error("Initial reconciliation failed", "error", err)
	}

	ticker := time.NewTicker(ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sandbox manager reconciliation loop stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := m.reconcile(ctx, projects); err != nil {
				slog.Error("Reconciliation failed", "error", err)
			}
		}
	}
}

// reconcile compares managed containers to known projects.
func (m *Manager) reconcile(ctx context.Context, projects sandbox.ProjectLister) error {
	ids, err := projects.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing project IDs: %w", err)
	}

	all, err := m.listContainers(ctx, "")
	if err != nil {
		return fmt.Errorf("listing managed containers: %w", err)
	}

	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	running := make(map[string]bool)
	for _, c := range all {
		projectID := c.Labels[LabelProjectID]
		if !known[projectID] {
			slog.Info("Removing orphaned sandbox", "projectID", projectID)
			m.removeContainers(ctx, projectID)
			continue
		}
		if c.State == "running" {
			running[projectID] = true
		}
	}

	for _, id := range ids {
		if !running[id] {
			slog.Info("Starting sandbox for project", "projectID", id)
			if _, err := m.Create(ctx, id); err != nil {
				slog.Error("Failed to start sandbox", "projectID", id, "error", err)
			}
		}
	}
	return nil
}

// Create implements sandbox.Manager. A stopped container is restarted and a
// missing one is created.
func (m *Manager) Create(ctx context.Context, projectID string) (string, error) {
	name := m.containerName(projectID)

	c, err := m.client.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return m.createAndStart(ctx, projectID)
		}
		return "", fmt.Errorf("inspecting container: %w", err)
	}
	if c.State.Running {
		return m.getPort(c)
	}

	if err := m.client.ContainerStart(ctx, name, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("starting container: %w", err)
	}
	return m.waitForPort(ctx, name)
}

// Exec implements sandbox.Manager.
func (m *Manager) Exec(ctx context.Context, projectID, command string) (*sandbox.Result, error) {
	name, err := m.runningContainer(ctx, projectID)
	if err != nil {
		return nil, err
	}
	res, err := m.run(ctx, name, shellCmd(command))
	if err != nil {
		return nil, err
	}
	slog.Debug("Sandbox command finished", "projectID", projectID, "command", command, "exitCode", res.ExitCode)
	return res, nil
}

// shellCmd runs command through the container shell.
func shellCmd(command string) []string {
	return []string{"sh", "-c", command}
}

// mkdirCmd creates dir without passing it through a shell.
func mkdirCmd(dir string) []string {
	return []string{"mkdir", "-p", "--", dir}
}

// run executes argv in the named container and collects its combined output.
func (m *Manager) run(ctx context.Context, name string, argv []string) (*sandbox.Result, error) {
	exec, err := m.client.ContainerExecCreate(ctx, name, types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   m.opts.Workdir,
		Cmd:          argv,
	})
	if err != nil {
		return nil, fmt.Errorf("creating exec: %w", err)
	}

	attach, err := m.client.ContainerExecAttach(ctx, exec.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("attaching exec: %w", err)
	}
	defer attach.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, attach.Reader); err != nil {
		return nil, fmt.Errorf("reading exec output: %w", err)
	}

	inspect, err := m.client.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("inspecting exec: %w", err)
	}
	return &sandbox.Result{Output: out.String(), ExitCode: inspect.ExitCode}, nil
}

// ReadFile implements sandbox.Manager.
func (m *Manager) ReadFile(ctx context.Context, projectID, p string) ([]byte, error) {
	name, err := m.runningContainer(ctx, projectID)
	if err != nil {
		return nil, err
	}
	full, err := sandbox.ResolvePath(m.opts.Workdir, p)
	if err != nil {
		return nil, err
	}

	rc, _, err := m.client.CopyFromContainer(ctx, name, full)
	if err != nil {
		return nil, fmt.Errorf("copying %s from container: %w", full, err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("file not found: %s", full)
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			return io.ReadAll(tr)
		}
	}
}

// WriteFile implements sandbox.Manager. Parent directories are created.
func (m *Manager) WriteFile(ctx context.Context, projectID, p string, data []byte) error {
	name, err := m.runningContainer(ctx, projectID)
	if err != nil {
		return err
	}
	full, err := sandbox.ResolvePath(m.opts.Workdir, p)
	if err != nil {
		return err
	}

	dir := path.Dir(full)
	if res, err := m.run(ctx, name, mkdirCmd(dir)); err != nil {
		return err
	} else if res.ExitCode != 0 {
		return fmt.Errorf("creating %s: %s", dir, res.Output)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name:    path.Base(full),
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}); err != nil {
		return fmt.Errorf("writing archive header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}

	if err := m.client.CopyToContainer(ctx, name, dir, &buf, types.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copying %s to container: %w", full, err)
	}
	return nil
}

// HostPort implements sandbox.Manager.
func (m *Manager) HostPort(ctx context.Context, projectID string) (string, error) {
	c, err := m.client.ContainerInspect(ctx, m.containerName(projectID))
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", fmt.Errorf("project %s: %w", projectID, sandbox.ErrNotRunning)
		}
		return "", fmt.Errorf("inspecting container: %w", err)
	}
	if !c.State.Running {
		return "", fmt.Errorf("project %s (state: %s): %w", projectID, c.State.Status, sandbox.ErrNotRunning)
	}
	return m.getPort(c)
}

// Status implements sandbox.Manager.
func (m *Manager) Status(ctx context.Context, projectID string) (string, error) {
	containers, err := m.listContainers(ctx, projectID)
	if err != nil {
		return sandbox.StatusUnknown, err
	}
	if len(containers) == 0 || containers[0].State != "running" {
		return sandbox.StatusStopped, nil
	}
	return sandbox.StatusRunning, nil
}

// Remove implements sandbox.Manager.
func (m *Manager) Remove(ctx context.Context, projectID string) error {
	err := m.client.ContainerRemove(ctx, m.containerName(projectID), types.ContainerRemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

// Close releases the Docker client resources.
func (m *Manager) Close() error {
	return m.client.Close()
}

// --- internal helpers ---

func (m *Manager) containerName(projectID string) string {
	return "forge-project-" + projectID
}

func (m *Manager) runningContainer(ctx context.Context, projectID string) (string, error) {
	if _, err := m.HostPort(ctx, projectID); err != nil {
		return "", err
	}
	return m.containerName(projectID), nil
}

// createAndStart creates a new project container and starts it.
func (m *Manager) createAndStart(ctx context.Context, projectID string) (string, error) {
	if err := m.ensureImage(ctx); err != nil {
		return "", err
	}

	port := nat.Port(m.opts.Port + "/tcp")
	cfg := &container.Config{
		Image: m.opts.Image,
		Labels: map[string]string{
			LabelManager:   LabelManagerValue,
			LabelProjectID: projectID,
		},
		ExposedPorts: nat.PortSet{port: {}},
		WorkingDir:   m.opts.Workdir,
	}

	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0", // Dynamically assigned port.
				},
			},
		},
		Resources: container.Resources{
			Memory:    m.opts.MemoryBytes,
			CPUPeriod: m.opts.CPUPeriod,
			CPUQuota:  m.opts.CPUQuota,
		},
	}

	name := m.containerName(projectID)
	resp, err := m.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	if err := m.client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("starting container: %w", err)
	}

	hostPort, err := m.waitForPort(ctx, resp.ID)
	if err != nil {
		return "", err
	}
	slog.Info("Sandbox started", "projectID", projectID, "port", hostPort)
	return hostPort, nil
}

// ensureImage pulls the image when it is not present locally.
func (m *Manager) ensureImage(ctx context.Context) error {
	_, _, err := m.client.ImageInspectWithRaw(ctx, m.opts.Image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", m.opts.Image, err)
	}

	slog.Info("Pulling sandbox image", "image", m.opts.Image)
	rc, err := m.client.ImagePull(ctx, m.opts.Image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", m.opts.Image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pulling image %s: %w", m.opts.Image, err)
	}
	return nil
}

func (m *Manager) waitForPort(ctx context.Context, id string) (string, error) {
	c, err := m.client.ContainerInspect(ctx, id)
	if err != nil {
		return "", fmt.Errorf("inspecting container: %w", err)
	}
	port, err := m.getPort(c)
	if err != nil {
		return "", err
	}
	if err := m.waitForHealth(ctx, port); err != nil {
		return "", err
	}
	return port, nil
}

func (m *Manager) getPort(c types.ContainerJSON) (string, error) {
	ports := c.NetworkSettings.Ports[nat.Port(m.opts.Port+"/tcp")]
	if len(ports) > 0 {
		return ports[0].HostPort, nil
	}
	return "", errors.New("container running but port not mapped")
}

// waitForHealth waits until the application answers HTTP on port. Any
// response counts, since a fresh Laravel install may answer with an error page.
func (m *Manager) waitForHealth(ctx context.Context, port string) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, m.opts.HealthTimeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	url := fmt.Sprintf("http://127.0.0.1:%s/", port)
	for {
		select {
		case <-timeoutCtx.Done():
			return fmt.Errorf("timeout waiting for sandbox on port %s", port)
		case <-ticker.C:
			req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err == nil {
				resp.Body.Close()
				return nil
			}
		}
	}
}

// listContainers lists managed containers, for one project when projectID is
// set.
func (m *Manager) listContainers(ctx context.Context, projectID string) ([]types.Container, error) {
	args := filters.NewArgs(filters.Arg("label", LabelManager+"="+LabelManagerValue))
	if projectID != "" {
		args.Add("label", LabelProjectID+"="+projectID)
	}
	return m.client.ContainerList(ctx, types.ContainerListOptions{All: true, Filters: args})
}

func (m *Manager) removeContainers(ctx context.Context, projectID string) {
	containers, err := m.listContainers(ctx, projectID)
	if err != nil {
		slog.Warn("Failed to list containers for removal", "projectID", projectID, "error", err)
		return
	}
	for _, c := range containers {
		timeout := 10
		if err := m.client.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			slog.Warn("Failed to stop container", "id", c.ID, "error", err)
		}
		if err := m.client.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
			slog.Warn("Failed to remove container", "id", c.ID, "error", err)
		}
	}
}
