package toolbridge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// TransportConfig describes how to reach the tool server process.
type TransportConfig struct {
	Command string            `json:"command" yaml:"command" mapstructure:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args" mapstructure:"args"`
	WorkDir string            `json:"work_dir,omitempty" yaml:"work_dir" mapstructure:"work_dir"`
	Env     map[string]string `json:"env,omitempty" yaml:"env" mapstructure:"env"`

	// Root anchors relative command paths and working directories.
	Root string `json:"root,omitempty" yaml:"root" mapstructure:"root"`
}

// ResolveCommand distinguishes a path-like command (contains a path
// separator, resolved against root) from a bare executable name (left
// untouched for PATH lookup).
func ResolveCommand(root, command string) string {
	if !strings.ContainsRune(command, '/') && !strings.ContainsRune(command, os.PathSeparator) {
		return command
	}
	if filepath.IsAbs(command) {
		return command
	}
	return filepath.Join(root, command)
}

// ResolveWorkDir resolves a relative working directory against root. An
// empty dir resolves to root itself.
func ResolveWorkDir(root, dir string) string {
	if dir == "" {
		return root
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

// Lifecycle owns the tool connection for the duration of one pipeline
// run. The connection is exclusive to the run: Connect closes any stale
// prior connection before opening a new one, and Close is idempotent.
type Lifecycle struct {
	mu     sync.Mutex
	client *client.Client
	logger *zap.Logger
}

// NewLifecycle creates an unconnected lifecycle manager.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Connect spawns the tool server over stdio and performs the MCP
// handshake. A prior connection, if any, is closed first.
func (l *Lifecycle) Connect(ctx context.Context, cfg TransportConfig) (*client.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()

	command := ResolveCommand(cfg.Root, cfg.Command)
	workDir := ResolveWorkDir(cfg.Root, cfg.WorkDir)
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	stdio := transport.NewStdioWithOptions(command, env, cfg.Args,
		transport.WithCommandFunc(commandBuilder(workDir)))

	c := client.NewClient(stdio)
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start tool transport: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "deepresearch", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize tool connection: %w", err)
	}

	l.logger.Info("Tool transport connected",
		zap.String("command", command),
		zap.String("work_dir", workDir),
	)
	l.client = c
	return c, nil
}

// commandBuilder returns the spawn function handed to the stdio
// transport: the child runs in workDir with the configured env layered
// over the inherited one.
func commandBuilder(workDir string) func(context.Context, string, []string, []string) (*exec.Cmd, error) {
	return func(ctx context.Context, command string, args []string, env []string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Dir = workDir
		cmd.Env = append(os.Environ(), env...)
		return cmd, nil
	}
}

// Close shuts the connection down. Safe to call repeatedly and on an
// unconnected lifecycle; errors are swallowed since there is nothing a
// caller can do with a failed teardown.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
}

func (l *Lifecycle) closeLocked() {
	if l.client == nil {
		return
	}
	if err := l.client.Close(); err != nil {
		l.logger.Debug("Tool transport close failed", zap.Error(err))
	}
	l.client = nil
}

// WithClient connects, runs fn, and guarantees teardown whether fn
// succeeds or fails.
func (l *Lifecycle) WithClient(ctx context.Context, cfg TransportConfig, fn func(*client.Client) error) error {
	c, err := l.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(c)
}
