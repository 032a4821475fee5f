// Package supervisor manages worker and purger processes on one machine and
// exposes them over an HTTP API. Processes are tracked through PID files under
// a run directory so the registry survives supervisor restarts.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/id/uuid"
)

// Roles the supervisor may spawn. The dispatcher is deliberately absent; it is
// a singleton started by the operator, not a pool member.
var managedRoles = map[string]bool{
	"fetcher": true,
	"parser":  true,
	"indexer": true,
	"purger":  true,
}

// ManagedRole reports whether the supervisor can start processes of this role.
func ManagedRole(role string) bool { return managedRoles[role] }

// Process describes one registered pipeline process.
type Process struct {
	Role  string `json:"role"`
	ID    string `json:"id"`
	PID   int    `json:"pid"`
	Alive bool   `json:"alive"`
}

// Registry starts, stops, and lists pipeline processes via PID files named
// <role>.<id>.pid in the run directory.
type Registry struct {
	runDir     string
	configPath string
	ids        *uuid.Generator
	logger     *zap.Logger
}

// NewRegistry creates a Registry rooted at runDir. configPath, when non-empty,
// is forwarded to spawned processes as --config.
func NewRegistry(runDir, configPath string, logger *zap.Logger) (*Registry, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &Registry{
		runDir:     runDir,
		configPath: configPath,
		ids:        uuid.NewUUIDGenerator(),
		logger:     logger,
	}, nil
}

// List returns every registered process sorted by role then id, with a
// liveness probe against each PID.
func (r *Registry) List() ([]Process, error) {
	entries, err := os.ReadDir(r.runDir)
	if err != nil {
		return nil, fmt.Errorf("read run dir: %w", err)
	}
	var procs []Process
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pid") {
			continue
		}
		role, id, ok := splitPidName(entry.Name())
		if !ok {
			continue
		}
		pid, err := r.readPid(entry.Name())
		if err != nil {
			r.logger.Warn("unreadable pid file",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		procs = append(procs, Process{Role: role, ID: id, PID: pid, Alive: pidAlive(pid)})
	}
	sort.Slice(procs, func(i, j int) bool {
		if procs[i].Role != procs[j].Role {
			return procs[i].Role < procs[j].Role
		}
		return procs[i].ID < procs[j].ID
	})
	return procs, nil
}

// Start spawns a new process of the given role as a child running this
// binary's own subcommand, records its PID file, and returns the registration.
// An empty id gets a generated one.
func (r *Registry) Start(role, id string) (Process, error) {
	if !ManagedRole(role) {
		return Process{}, fmt.Errorf("unknown role %q", role)
	}
	if id == "" {
		generated, err := r.ids.NewID()
		if err != nil {
			return Process{}, fmt.Errorf("generate process id: %w", err)
		}
		id = generated
	}
	if _, err := os.Stat(r.pidPath(role, id)); err == nil {
		return Process{}, fmt.Errorf("process %s/%s already registered", role, id)
	}

	self, err := os.Executable()
	if err != nil {
		return Process{}, fmt.Errorf("locate executable: %w", err)
	}
	args := []string{role, "--id", id}
	if r.configPath != "" {
		args = append(args, "--config", r.configPath)
	}
	cmd := exec.Command(self, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return Process{}, fmt.Errorf("start %s: %w", role, err)
	}
	pid := cmd.Process.Pid

	// Reap the child when it exits so it never lingers as a zombie.
	go func() {
		if err := cmd.Wait(); err != nil {
			r.logger.Info("process exited",
				zap.String("role", role), zap.String("id", id),
				zap.Int("pid", pid), zap.Error(err))
		}
	}()

	if err := r.writePid(role, id, pid); err != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		return Process{}, err
	}
	r.logger.Info("process started",
		zap.String("role", role), zap.String("id", id), zap.Int("pid", pid))
	return Process{Role: role, ID: id, PID: pid, Alive: true}, nil
}

// Stop sends SIGTERM to the registered process and removes its PID file. A
// dead process is still deregistered.
func (r *Registry) Stop(role, id string) error {
	pidFile := role + "." + id + ".pid"
	pid, err := r.readPid(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("process %s/%s: %w", role, id, os.ErrNotExist)
		}
		return err
	}
	if pidAlive(pid) {
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			return fmt.Errorf("signal pid %d: %w", pid, err)
		}
	}
	if err := os.Remove(filepath.Join(r.runDir, pidFile)); err != nil {
		return fmt.Errorf("remove pid file: %w", err)
	}
	r.logger.Info("process stopped",
		zap.String("role", role), zap.String("id", id), zap.Int("pid", pid))
	return nil
}

// StopAll stops every registered process and returns how many were stopped.
func (r *Registry) StopAll() (int, error) {
	procs, err := r.List()
	if err != nil {
		return 0, err
	}
	stopped := 0
	for _, p := range procs {
		if err := r.Stop(p.Role, p.ID); err != nil {
			r.logger.Warn("stop failed",
				zap.String("role", p.Role), zap.String("id", p.ID), zap.Error(err))
			continue
		}
		stopped++
	}
	return stopped, nil
}

// Register records an externally started process. Used by worker subcommands
// so self-launched workers show up in the registry too.
func (r *Registry) Register(role, id string, pid int) error {
	if !ManagedRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	return r.writePid(role, id, pid)
}

// Deregister removes the PID file without signalling the process.
func (r *Registry) Deregister(role, id string) error {
	err := os.Remove(r.pidPath(role, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

func (r *Registry) pidPath(role, id string) string {
	return filepath.Join(r.runDir, role+"."+id+".pid")
}

func (r *Registry) writePid(role, id string, pid int) error {
	path := r.pidPath(role, id)
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func (r *Registry) readPid(name string) (int, error) {
	data, err := os.ReadFile(filepath.Join(r.runDir, name))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", name, err)
	}
	return pid, nil
}

// splitPidName parses "<role>.<id>.pid". IDs may themselves contain dots, so
// only the first separator splits the role.
func splitPidName(name string) (role, id string, ok bool) {
	trimmed := strings.TrimSuffix(name, ".pid")
	role, id, ok = strings.Cut(trimmed, ".")
	if !ok || role == "" || id == "" {
		return "", "", false
	}
	return role, id, true
}

// pidAlive probes the PID with signal 0.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
