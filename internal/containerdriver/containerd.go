package containerdriver

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	baylog "github.com/cuemby/bay/pkg/log"
)

const (
	// DefaultNamespace is the containerd namespace Bay's ships live in.
	DefaultNamespace = "bay"

	// DefaultSocketPath is where containerd listens by default.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	stopGraceTimeout = 10 * time.Second
)

// ContainerdDriver implements Driver on top of a containerd socket.
type ContainerdDriver struct {
	client    *containerd.Client
	namespace string

	image         string
	network       string
	publishPorts  bool
	logDir        string
	portPublisher *portPublisher

	publishedMu sync.Mutex
	publishedIP map[string]string // containerID -> published IP, for unpublish on stop
}

// Config configures a ContainerdDriver.
type Config struct {
	SocketPath string
	Namespace  string

	// Image is the container image every Ship is created from.
	Image string
	// Network is the configured container network name. The driver stores
	// it but does not attach Ships to it: containers are created without
	// any network join.
	Network string
	// PublishPorts controls whether Ship port 8123/tcp is additionally
	// published on a host port via iptables DNAT. Not needed when Bay
	// can already reach container IPs directly (e.g. shared bridge).
	PublishPorts bool
	// LogDir is where each Ship's stdout/stderr is captured to a
	// per-container log file. Defaults to os.TempDir()/bay-ship-logs.
	LogDir string
}

// NewContainerdDriver connects to containerd and returns a ready Driver.
func NewContainerdDriver(cfg Config) (*ContainerdDriver, error) {
	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	logDir := cfg.LogDir
	if logDir == "" {
		logDir = filepath.Join(os.TempDir(), "bay-ship-logs")
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}

	return &ContainerdDriver{
		client:        client,
		namespace:     namespace,
		image:         cfg.Image,
		network:       cfg.Network,
		publishPorts:  cfg.PublishPorts,
		logDir:        logDir,
		portPublisher: newPortPublisher(),
		publishedIP:   make(map[string]string),
	}, nil
}

func (d *ContainerdDriver) logPath(containerID string) string {
	return filepath.Join(d.logDir, containerID+".log")
}

// Close closes the containerd client connection.
func (d *ContainerdDriver) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

func (d *ContainerdDriver) withNS(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, d.namespace)
}

// CreateShipContainer pulls the configured image if needed, creates a
// container labeled created_by=bay with SHIP_ID/TTL env vars and the
// requested resource caps, starts it, and resolves its reachable IP.
func (d *ContainerdDriver) CreateShipContainer(ctx context.Context, shipID string, ttlSeconds int, spec ResourceSpec) (*CreateResult, error) {
	ctx = d.withNS(ctx)

	image, err := d.client.GetImage(ctx, d.image)
	if err != nil {
		image, err = d.client.Pull(ctx, d.image, containerd.WithPullUnpack)
		if err != nil {
			return nil, fmt.Errorf("pull image %s: %w", d.image, err)
		}
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv([]string{
			fmt.Sprintf("SHIP_ID=%s", shipID),
			fmt.Sprintf("TTL=%d", ttlSeconds),
		}),
	}

	if spec.CPUs > 0 {
		quota, period := cpuQuotaPeriod(spec.CPUs)
		shares := uint64(spec.CPUs * 1024)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, period))
	}

	if spec.Memory != "" {
		memBytes, err := parseMemoryString(spec.Memory)
		if err != nil {
			return nil, fmt.Errorf("parse memory spec: %w", err)
		}
		if memBytes > 0 {
			opts = append(opts, oci.WithMemoryLimit(memBytes))
		}
	}

	containerID := fmt.Sprintf("ship-%s", shipID)

	ctrdContainer, err := d.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(map[string]string{
			"ship_id":    shipID,
			"created_by": "bay",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	task, err := ctrdContainer.NewTask(ctx, cio.LogFile(d.logPath(containerID)))
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return nil, fmt.Errorf("start task: %w", err)
	}

	ip, err := d.getContainerIP(ctx, ctrdContainer)
	if err != nil {
		baylog.WithShipID(shipID).Warn().Err(err).Msg("could not resolve container IP")
	}

	if d.publishPorts && ip != "" {
		hostPort, ferr := freeHostPort()
		if ferr != nil {
			baylog.WithShipID(shipID).Warn().Err(ferr).Msg("could not allocate host port for publish")
		} else if perr := d.portPublisher.publish(shipID, ip, hostPort); perr != nil {
			baylog.WithShipID(shipID).Warn().Err(perr).Msg("failed to publish ship port")
		} else {
			d.publishedMu.Lock()
			d.publishedIP[containerID] = ip
			d.publishedMu.Unlock()
		}
	}

	return &CreateResult{
		ContainerID:   containerID,
		IPAddress:     ip,
		RuntimeStatus: "running",
	}, nil
}

// StopShipContainer stops then removes a container; a missing container is
// treated as an already-successful stop (idempotent).
func (d *ContainerdDriver) StopShipContainer(ctx context.Context, containerID string) (bool, error) {
	ctx = d.withNS(ctx)

	ctrdContainer, err := d.client.LoadContainer(ctx, containerID)
	if err != nil {
		return true, nil
	}

	if task, terr := ctrdContainer.Task(ctx, nil); terr == nil {
		stopCtx, cancel := context.WithTimeout(ctx, stopGraceTimeout)
		if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
			cancel()
			return false, fmt.Errorf("signal task: %w", err)
		}

		statusC, werr := task.Wait(stopCtx)
		if werr != nil {
			cancel()
			return false, fmt.Errorf("wait for task: %w", werr)
		}

		select {
		case <-statusC:
		case <-stopCtx.Done():
			if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
				cancel()
				return false, fmt.Errorf("force kill task: %w", err)
			}
		}
		cancel()

		if _, err := task.Delete(ctx); err != nil {
			return false, fmt.Errorf("delete task: %w", err)
		}
	}

	d.publishedMu.Lock()
	ip, wasPublished := d.publishedIP[containerID]
	delete(d.publishedIP, containerID)
	d.publishedMu.Unlock()
	if wasPublished {
		shipID := strings.TrimPrefix(containerID, "ship-")
		d.portPublisher.unpublish(shipID, ip)
	}

	if err := ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return false, fmt.Errorf("delete container: %w", err)
	}

	return true, nil
}

// GetContainerLogs returns the aggregated stdout+stderr captured for
// containerID since it started. A missing container, or one that never
// produced a log file, returns an empty string rather than an error.
func (d *ContainerdDriver) GetContainerLogs(ctx context.Context, containerID string) (string, error) {
	ctx = d.withNS(ctx)

	if _, err := d.client.LoadContainer(ctx, containerID); err != nil {
		return "", nil
	}

	data, err := os.ReadFile(d.logPath(containerID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read log file: %w", err)
	}
	return string(data), nil
}

// IsContainerRunning reports whether containerID has a running task.
func (d *ContainerdDriver) IsContainerRunning(ctx context.Context, containerID string) bool {
	ctx = d.withNS(ctx)

	ctrdContainer, err := d.client.LoadContainer(ctx, containerID)
	if err != nil {
		return false
	}
	task, err := ctrdContainer.Task(ctx, nil)
	if err != nil {
		return false
	}
	status, err := task.Status(ctx)
	if err != nil {
		return false
	}
	return status.Status == containerd.Running
}

func (d *ContainerdDriver) getContainerIP(ctx context.Context, ctrdContainer containerd.Container) (string, error) {
	task, err := ctrdContainer.Task(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("get task: %w", err)
	}

	pid := task.Pid()
	if pid == 0 {
		return "", fmt.Errorf("task has no PID")
	}

	cmd := exec.CommandContext(ctx, "nsenter", "-t", fmt.Sprintf("%d", pid), "-n", "ip", "-4", "addr", "show", "eth0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("inspect network namespace: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "inet ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip, _, err := net.ParseCIDR(fields[1])
		if err != nil {
			return "", fmt.Errorf("parse address %s: %w", fields[1], err)
		}
		return ip.String(), nil
	}

	return "", fmt.Errorf("no eth0 address found")
}

func freeHostPort() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
