// Package daemon runs the counsel worker: a singleton process that polls the
// task queue, runs the agent one task at a time and serves the local HTTP
// surface.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/config"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/httpapi"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/otel"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/stream"
	"github.com/joshnel2/DecentralizedTechSolutions/pkg/models"
	"golang.org/x/sync/errgroup"
)

var errNotRunning = errors.New("counsel is not running")

// StartForeground runs the worker until ctx is done. A task still running
// at that point is returned to the queue.
func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(opts.Home); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	port := opts.Port
	if port == 0 {
		port = cfg.Server.Port
	}
	if port == 0 {
		port = 3548
	}
	pprofAddr := opts.PprofAddr
	if pprofAddr == "" {
		pprofAddr = cfg.Server.PprofAddr
	}

	// Ensure dirs exist.
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return err
	}

	// Acquire singleton lock (released on exit).
	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	if cfg.Worker.LogFile != "" {
		restore, err := teeLog(cfg.Worker.LogFile)
		if err != nil {
			return err
		}
		defer restore()
	}

	startPprof(pprofAddr)

	// Write PID + addr files.
	pid := os.Getpid()
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	_ = os.WriteFile(addrPath(opts.Home), []byte(addr+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	// Early port check for clearer error.
	if err := checkPortAvailable(port); err != nil {
		return err
	}

	st, err := httpapi.OpenStore(ctx, cfg.Store.Driver, cfg.Store.DSN, opts.Home)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer func() { _ = st.Close() }()

	srvOpts := httpapi.ServerOptions{
		Home:         opts.Home,
		Addr:         addr,
		Dev:          opts.Dev,
		Version:      opts.Version,
		APIKey:       cfg.Server.APIKey,
		Store:        st,
		SlackWebhook: cfg.Notify.SlackWebhook,
	}
	if cfg.Server.EnableOtel {
		metricsHandler, err := otel.InitMeterProvider(ctx, "counsel")
		if err != nil {
			slog.Warn("otel init failed, using text metrics", "err", err)
		} else {
			srvOpts.MetricsHandler = metricsHandler
			srvOpts.UseOtelHTTP = true
			err = otel.InitMetricsWithTaskCount(ctx, func() map[string]int64 {
				c, err := st.Counts(context.Background())
				if err != nil {
					return nil
				}
				return map[string]int64{
					models.StatusPending:   int64(c.Pending),
					models.StatusRunning:   int64(c.Running),
					models.StatusCompleted: int64(c.Completed),
					models.StatusFailed:    int64(c.Failed),
					models.StatusCancelled: int64(c.Cancelled),
				}
			})
			if err != nil {
				slog.Warn("otel instruments failed", "err", err)
			}
		}
	}
	app, err := httpapi.NewApp(srvOpts)
	if err != nil {
		return err
	}

	ag, err := NewAgent(cfg)
	if err != nil {
		return err
	}
	w := &Worker{
		Store:         st,
		Runner:        ag,
		Hub:           app.Hub,
		Notifier:      app.Capabilities,
		Poll:          cfg.Worker.PollInterval,
		FlushInterval: cfg.Stream.FlushInterval,
		History:       cfg.Stream.History,
	}
	if u := cfg.StreamURL(); cfg.Stream.Enabled && u != "" {
		w.Sink = &stream.HTTPSink{BaseURL: u, Token: cfg.Backend.AuthToken}
	}
	app.Events = w
	app.Active = w.Active

	if err := w.Recover(ctx); err != nil {
		return fmt.Errorf("recover interrupted tasks: %w", err)
	}

	slog.Info("daemon starting", "addr", addr, "home", opts.Home, "sandbox", ag.Sandbox.Root(), "store", cfg.Store.Driver)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		err := app.Server.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return app.Server.Shutdown(shutdownCtx)
	})
	if cfg.Learning.Watch && ag.Learning != nil {
		g.Go(func() error {
			// A watcher that cannot start only loses hot reload.
			if err := ag.Learning.Watch(gctx); err != nil {
				slog.Warn("learning watcher stopped", "err", err)
			}
			return nil
		})
	}
	err = g.Wait()
	slog.Info("daemon stopped")
	if err != nil {
		return err
	}
	return ctx.Err()
}

// teeLog copies the default logger's output into path and returns a func
// restoring the previous logger.
func teeLog(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, f), nil)))
	return func() {
		slog.SetDefault(prev)
		_ = f.Close()
	}, nil
}

func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	// Ensure dirs exist before starting.
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return 0, err
	}

	// Best-effort: refuse to start if already running.
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("counsel already running (pid %d)", st.PID)
	}

	logFile := filepath.Join(protectedDir(opts.Home), "daemon.log")
	stderr, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for child lifetime; closing here may break writes on some platforms.

	args := []string{"daemon", "--home", opts.Home}
	if opts.Port != 0 {
		args = append(args, "--port", strconv.Itoa(opts.Port))
	}
	if opts.EnvFile != "" {
		args = append(args, "--env-file", opts.EnvFile)
	}
	if opts.Dev {
		args = append(args, "--dev")
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	setDaemonSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	// Wait briefly for pid file to appear or process to die.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Fallback to started pid even if status isn't ready yet.
	return cmd.Process.Pid, nil
}

// Stop asks the running worker to shut down and waits for it. The worker
// requeues its in-flight task before exiting.
func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		// On unix FindProcess always succeeds; keep this for completeness.
		return false, errNotRunning
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Kill()
	return true, nil
}

func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pidStr := strings.TrimSpace(string(pb))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}

	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}

func checkPortAvailable(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return fmt.Errorf("port %d is already in use", port)
	}
	_ = ln.Close()
	return nil
}
