package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jamesainslie/deepclean/pkg/daemon/watcher"
	"github.com/jamesainslie/deepclean/pkg/deepclean/clock"
	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
	"github.com/jamesainslie/deepclean/pkg/deepclean/pipeline"
)

// DefaultDebounce is the quiet period after a new file before a run starts.
const DefaultDebounce = 5 * time.Second

// selfWriteTTL is how long paths written by a run are kept out of the
// watcher's trigger decisions.
const selfWriteTTL = time.Minute

// Runner performs one pipeline pass over a root.
type Runner interface {
	Run(ctx context.Context, root string, opts pipeline.RunOptions) (*pipeline.Outcome, error)
}

// Options configures a Service.
type Options struct {
	Roots    []string
	DryRun   bool
	Interval time.Duration
	Debounce time.Duration
	Watch    bool

	// StatusPath, when set, receives a StatusFile after every change.
	StatusPath string

	Clock  clock.Clock
	Logger logging.Logger
}

// Service runs the pipeline over every configured root on a schedule and
// after new files settle.
type Service struct {
	runner  Runner
	opts    Options
	clock   clock.Clock
	logger  logging.Logger
	trigger chan struct{}

	runMu sync.Mutex

	// pending holds files reported since the last settle; written maps
	// paths produced by recent runs to the time they stop being ignored.
	pendingMu sync.Mutex
	pending   []string
	written   map[string]time.Time

	statusMu sync.Mutex
	status   StatusFile
}

// NewService creates a Service.
func NewService(runner Runner, opts Options) *Service {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	s := &Service{
		runner:  runner,
		opts:    opts,
		clock:   opts.Clock,
		logger:  logging.OrDiscard(opts.Logger),
		trigger: make(chan struct{}, 1),
		written: make(map[string]time.Time),
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	s.status = StatusFile{
		State:     StateIdle,
		PID:       os.Getpid(),
		StartedAt: s.clock.Now(),
		Roots:     opts.Roots,
		Watching:  opts.Watch,
		Interval:  opts.Interval.String(),
	}
	return s
}

// Trigger requests a run. Requests made while one is pending coalesce.
func (s *Service) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the daemon state.
func (s *Service) Status() StatusFile {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// Serve runs until ctx is done. It returns an error only if the watcher
// cannot be started.
func (s *Service) Serve(ctx context.Context) error {
	s.logger.Info("daemon starting", "roots", s.opts.Roots, "interval", s.opts.Interval, "watch", s.opts.Watch, "dry_run", s.opts.DryRun)
	s.updateStatus(func(st *StatusFile) {})

	if s.opts.Watch {
		w, err := watcher.New(s.logger)
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		defer func() { _ = w.Close() }()

		for _, root := range s.opts.Roots {
			if err := w.Watch(root); err != nil {
				s.logger.Warn("not watching root", "root", root, "error", err)
			}
		}

		debounce := NewDebouncer(s.opts.Debounce, s.settled)
		defer debounce.Stop()
		go w.Run(ctx, func(path string) {
			s.fileAdded(path)
			debounce.Trigger()
		})
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("daemon stopping")
			return nil
		case <-ticker.C:
			s.logger.Debug("scheduled run")
		case <-s.trigger:
			s.logger.Debug("triggered run")
		}
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("cleanup failed", "error", err)
		}
	}
}

// RunOnce runs the pipeline over every root that exists, one after another.
// A root that is already being cleaned by another process is skipped.
// Failures for individual roots are joined into the returned error.
func (s *Service) RunOnce(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.updateStatus(func(st *StatusFile) { st.State = StateRunning })

	var errs []error
	lastRunID := ""
	for _, root := range s.opts.Roots {
		if ctx.Err() != nil {
			break
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := os.Stat(abs); err != nil {
			s.logger.Debug("root missing, skipping", "root", abs)
			continue
		}

		s.logger.Info("running cleanup", "root", abs)
		out, err := s.runner.Run(ctx, abs, pipeline.RunOptions{DryRun: s.opts.DryRun})
		s.recordWrites(out)
		if errors.Is(err, pipeline.ErrRunInProgress) {
			s.logger.Warn("run already in progress, skipping root", "root", abs)
			continue
		}
		if out != nil && out.Plan != nil {
			lastRunID = out.Plan.RunID
			s.logger.Info("cleanup complete", "run_id", out.Plan.RunID, "actions", len(out.Results), "bundle", out.BundlePath)
		} else if out != nil && out.Skipped {
			s.logger.Info("cleanup skipped", "root", abs, "reason", out.SkipReason)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", abs, err))
		}
	}

	err := errors.Join(errs...)
	s.updateStatus(func(st *StatusFile) {
		st.State = StateIdle
		st.Runs++
		st.LastRunAt = s.clock.Now()
		if lastRunID != "" {
			st.LastRunID = lastRunID
		}
		st.LastError = ""
		if err != nil {
			st.State = StateError
			st.LastError = err.Error()
		}
	})
	return err
}

func (s *Service) fileAdded(path string) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending = append(s.pending, path)
}

// settled runs when the watcher has gone quiet. It requests a run only if
// some reported file was not produced by one of our own runs. Holding runMu
// makes it wait for a run in flight to record what it wrote.
func (s *Service) settled() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.pendingMu.Lock()
	paths := s.pending
	s.pending = nil
	now := s.clock.Now()
	external := 0
	for _, p := range paths {
		if !s.selfWrittenLocked(p, now) {
			external++
		}
	}
	s.pendingMu.Unlock()

	if external == 0 {
		s.logger.Debug("ignoring files written by the last run", "files", len(paths))
		return
	}
	s.Trigger()
}

// recordWrites remembers the targets of a real run's successful actions.
// Extraction targets are directories; everything under them counts.
func (s *Service) recordWrites(out *pipeline.Outcome) {
	if out == nil || out.Plan == nil || out.Plan.DryRun {
		return
	}
	until := s.clock.Now().Add(selfWriteTTL)

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for _, r := range out.Results {
		if r.Success && r.TargetPath != "" {
			s.written[filepath.Clean(r.TargetPath)] = until
		}
	}
}

// selfWrittenLocked must be called with pendingMu held. It also drops
// expired entries.
func (s *Service) selfWrittenLocked(path string, now time.Time) bool {
	path = filepath.Clean(path)
	found := false
	for target, until := range s.written {
		if now.After(until) {
			delete(s.written, target)
			continue
		}
		if path == target || strings.HasPrefix(path, target+string(filepath.Separator)) {
			found = true
		}
	}
	return found
}

func (s *Service) updateStatus(fn func(*StatusFile)) {
	s.statusMu.Lock()
	fn(&s.status)
	snapshot := s.status
	s.statusMu.Unlock()

	if s.opts.StatusPath == "" {
		return
	}
	if err := WriteStatus(s.opts.StatusPath, &snapshot); err != nil {
		s.logger.Warn("writing status file", "path", s.opts.StatusPath, "error", err)
	}
}
