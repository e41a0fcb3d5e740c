package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// DefaultClaudePath is the command used when no explicit path is configured.
const DefaultClaudePath = "claude"

const (
	flagPrint              = "--print"
	flagVerbose            = "--verbose"
	flagOutputFormat       = "--output-format"
	flagInputFormat        = "--input-format"
	flagPermissionMode     = "--permission-mode"
	flagAppendSystemPrompt = "--append-system-prompt"
	flagAllowedTools       = "--allowedTools"

	formatStreamJSON   = "stream-json"
	permissionAccept   = "acceptEdits"
	allowedToolsPolicy = "Edit,Read,Write"
)

// systemPrompt is appended to the assistant's instructions for every session.
const systemPrompt = `You are a fast markdown editing assistant in Clause editor.
RULES:
1. Use Edit tool IMMEDIATELY - no exploration, no questions
2. Make minimal, targeted edits
3. Reply with ONE sentence summary after editing
4. Never explain what you'll do - just do it
Be fast. Be direct. Edit now.`

// Process is a running assistant process.
type Process interface {
	// Kill terminates the process immediately.
	Kill() error
	// Wait blocks until the process exits and releases its resources.
	Wait() error
}

// Spawned holds the standard streams of a freshly launched process.
type Spawned struct {
	Stdin   io.WriteCloser
	Stdout  io.ReadCloser
	Stderr  io.ReadCloser
	Process Process
}

// Launcher starts an assistant process in a working directory.
type Launcher interface {
	Launch(workDir string) (*Spawned, error)
}

// CLILauncher launches the claude CLI in bidirectional stream-json mode with
// a fixed, non-interactive policy.
type CLILauncher struct {
	// Path is the claude executable. Empty means DefaultClaudePath.
	Path string
}

func (l CLILauncher) path() string {
	if l.Path == "" {
		return DefaultClaudePath
	}
	return l.Path
}

// Args returns the command-line arguments passed to the CLI.
func (l CLILauncher) Args() []string {
	return []string{
		flagPrint,
		flagVerbose, // stream-json output requires it
		flagOutputFormat, formatStreamJSON,
		flagInputFormat, formatStreamJSON,
		flagPermissionMode, permissionAccept,
		flagAppendSystemPrompt, systemPrompt,
		flagAllowedTools, allowedToolsPolicy,
	}
}

// Launch starts the CLI with workDir as its current directory.
func (l CLILauncher) Launch(workDir string) (*Spawned, error) {
	cmd := exec.Command(l.path(), l.Args()...)
	cmd.Dir = workDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &Spawned{
		Stdin:   stdin,
		Stdout:  stdout,
		Stderr:  stderr,
		Process: &cmdProcess{cmd: cmd},
	}, nil
}

type cmdProcess struct {
	cmd *exec.Cmd
}

func (p *cmdProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *cmdProcess) Wait() error {
	return p.cmd.Wait()
}

// Available reports whether the claude CLI at path can be executed, by
// running it with --version.
func Available(ctx context.Context, path string) bool {
	if path == "" {
		path = DefaultClaudePath
	}
	return exec.CommandContext(ctx, path, "--version").Run() == nil
}
