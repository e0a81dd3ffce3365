package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
)

const logTailLines = 20

type LocalConfig struct {
	// Command is the worker binary started for every run.
	Command string
	Args    []string
	WorkDir string
	Logger  *slog.Logger
}

// LocalExecutor starts each run as a detached background process. The
// process reports progress by rewriting a JSON status file in the work
// directory; stdout and stderr go to a per-run log file.
type LocalExecutor struct {
	cfg    LocalConfig
	logger *slog.Logger

	mu    sync.Mutex
	procs map[string]*localProc

	newID      func() string
	readStatus func(path string) (Status, error)
}

type localProc struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *localProc) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func NewLocalExecutor(cfg LocalConfig) *LocalExecutor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LocalExecutor{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "local_executor"),
		procs:  make(map[string]*localProc),
		newID:  func() string { return "local-" + uuid.NewString() },

		readStatus: ReadStatusFile,
	}
}

func (e *LocalExecutor) logPath(dir, runID string) string {
	return filepath.Join(dir, runID+".log")
}

func (e *LocalExecutor) statusPath(dir, runID string) string {
	return filepath.Join(dir, runID+".status.json")
}

// Dispatch starts the worker process. target is the work directory.
func (e *LocalExecutor) Dispatch(ctx context.Context, target string, req DispatchRequest) (Dispatch, error) {
	if e.cfg.Command == "" {
		return Dispatch{}, errors.New("no local executor command configured")
	}
	dir := target
	if dir == "" {
		dir = e.cfg.WorkDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Dispatch{}, fmt.Errorf("create work dir: %w", err)
	}

	runID := e.newID()
	logPath := e.logPath(dir, runID)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Dispatch{}, fmt.Errorf("open run log: %w", err)
	}

	args := append([]string{}, e.cfg.Args...)
	args = append(args,
		"--run-id", runID,
		"--batch-id", req.BatchID,
		"--source", req.Source,
		"--booklist", req.BooklistRef,
		"--status-file", e.statusPath(dir, runID),
	)
	if len(req.Items) > 0 {
		args = append(args, "--items", strings.Join(req.Items, ","))
	}

	// The process outlives the request that started it.
	cmd := exec.Command(e.cfg.Command, args...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return Dispatch{}, fmt.Errorf("start %s: %w", e.cfg.Command, err)
	}

	p := &localProc{cmd: cmd, done: make(chan struct{})}
	e.mu.Lock()
	e.procs[runID] = p
	e.mu.Unlock()

	go func() {
		p.err = cmd.Wait()
		logFile.Close()
		close(p.done)
		e.logger.Info("local run exited", "run_id", runID, "pid", cmd.Process.Pid, "error", p.err)
	}()

	return Dispatch{
		RunID:  runID,
		Kind:   KindLocal,
		Target: dir,
		Handle: dir + string(os.PathListSeparator) + strconv.Itoa(cmd.Process.Pid),
		LogRef: logPath,
	}, nil
}

// Status reads the run's status file. A run that is still known to this
// process but has not written a status file yet is reported as submitted.
func (e *LocalExecutor) Status(ctx context.Context, runID, handle string) (Status, error) {
	dir := handleDir(handle, e.cfg.WorkDir)

	e.mu.Lock()
	p := e.procs[runID]
	e.mu.Unlock()

	// Liveness is sampled before the read: a worker writes its final status
	// before exiting, so only a process already gone when the file was read
	// can be blamed for a missing final status.
	exited := p != nil && p.exited()
	gone := p == nil && !processAlive(handlePID(handle))

	st, err := e.readStatus(e.statusPath(dir, runID))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if p == nil {
			return Status{}, ErrRunUnknown
		}
		if !exited {
			st = Status{State: StateSubmitted}
		} else {
			st = Status{State: StateFailed, Error: exitMessage(p.err)}
		}
	case err != nil:
		return Status{}, err
	default:
		active := st.State == StateSubmitted || st.State == StateRunning
		switch {
		case !active:
		case exited:
			st.State = StateFailed
			st.Error = exitMessage(p.err)
		case gone:
			// Started by an earlier server process and gone without a
			// final status.
			return Status{}, ErrRunUnknown
		}
	}

	if tail, err := tailFile(e.logPath(dir, runID), logTailLines); err == nil {
		st.LogTail = tail
	}
	return st, nil
}

// Stop kills the process of a run dispatched by this executor instance.
func (e *LocalExecutor) Stop(ctx context.Context, runID, handle string) error {
	e.mu.Lock()
	p := e.procs[runID]
	e.mu.Unlock()
	if p == nil {
		return ErrRunUnknown
	}
	if p.exited() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill run %s: %w", runID, err)
	}
	return nil
}

func handleDir(handle, fallback string) string {
	if i := strings.LastIndexByte(handle, os.PathListSeparator); i > 0 {
		return handle[:i]
	}
	return fallback
}

func handlePID(handle string) int {
	i := strings.LastIndexByte(handle, os.PathListSeparator)
	pid, err := strconv.Atoi(handle[i+1:])
	if err != nil {
		return 0
	}
	return pid
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func exitMessage(err error) string {
	if err == nil {
		return "process exited before reporting completion"
	}
	return "process exited: " + err.Error()
}

// ReadStatusFile decodes a status file written by WriteStatusFile.
func ReadStatusFile(path string) (Status, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Status{}, err
	}
	var st Status
	if err := json.Unmarshal(b, &st); err != nil {
		return Status{}, fmt.Errorf("decode status file: %w", err)
	}
	return st, nil
}

// WriteStatusFile replaces the status file atomically so readers never see
// a partial write.
func WriteStatusFile(path string, st Status) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, sc.Text())
	}
	return ring, sc.Err()
}
