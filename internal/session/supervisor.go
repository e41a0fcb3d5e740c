package session

import (
	"bufio"
	"fmt"
	"log/slog"
	"sync"
)

// Supervisor keeps exactly one assistant process alive for the most recently
// requested working directory.
type Supervisor struct {
	state    *State
	launcher Launcher
	emitter  Emitter
	logger   *slog.Logger
}

// NewSupervisor creates a Supervisor operating on state. Events produced by
// the stream readers of every process it starts go to emitter.
func NewSupervisor(state *State, launcher Launcher, emitter Emitter, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		state:    state,
		launcher: launcher,
		emitter:  emitter,
		logger:   logger,
	}
}

// EnsureSession guarantees that on success a live process rooted at workDir
// is recorded in the state. A live process for another directory is killed
// and replaced. Launch failures wrap ErrSpawn and leave the state empty.
func (s *Supervisor) EnsureSession(workDir string) error {
	st := s.state
	st.mu.Lock()

	if st.stdin != nil && st.workDir == workDir {
		st.mu.Unlock()
		return nil
	}

	if st.proc != nil {
		s.logger.Info("restarting claude session", "old_workdir", st.workDir, "new_workdir", workDir)
		if err := st.proc.Kill(); err != nil {
			s.logger.Warn("failed to kill claude process", "error", err)
		}
	}
	st.clearLocked()
	st.workDir = ""

	sp, err := s.launcher.Launch(workDir)
	if err != nil {
		st.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	st.gen++
	gen := st.gen
	st.stdin = bufio.NewWriter(sp.Stdin)
	st.proc = sp.Process
	st.workDir = workDir
	st.mu.Unlock()

	s.logger.Info("claude session started", "workdir", workDir, "generation", gen)
	s.watch(gen, sp)
	return nil
}

// watch starts the stream readers for one process instance and reaps the
// process once both streams are drained.
func (s *Supervisor) watch(gen uint64, sp *Spawned) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.readOutput(gen, sp.Stdout)
	}()
	go func() {
		defer wg.Done()
		s.readDiagnostics(sp.Stderr)
	}()

	go func() {
		wg.Wait()
		err := sp.Process.Wait()
		s.logger.Info("claude process exited", "generation", gen, "error", err)
	}()
}

// Shutdown kills the live process, if any, and empties the state.
func (s *Supervisor) Shutdown() {
	st := s.state
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.proc != nil {
		if err := st.proc.Kill(); err != nil {
			s.logger.Warn("failed to kill claude process", "error", err)
		}
	}
	st.clearLocked()
	st.workDir = ""
}
