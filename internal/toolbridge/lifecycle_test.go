package toolbridge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestResolveCommand(t *testing.T) {
	tests := []struct {
		name    string
		root    string
		command string
		want    string
	}{
		{"bare executable left for PATH lookup", "/proj", "uv", "uv"},
		{"relative path resolved against root", "/proj", "tools/server.sh", filepath.Join("/proj", "tools/server.sh")},
		{"absolute path untouched", "/proj", "/usr/bin/python3", "/usr/bin/python3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveCommand(tt.root, tt.command))
		})
	}
}

func TestResolveWorkDir(t *testing.T) {
	assert.Equal(t, "/proj", ResolveWorkDir("/proj", ""))
	assert.Equal(t, filepath.Join("/proj", "kb"), ResolveWorkDir("/proj", "kb"))
	assert.Equal(t, "/elsewhere", ResolveWorkDir("/proj", "/elsewhere"))
}

func TestCommandBuilderSetsWorkDirAndEnv(t *testing.T) {
	build := commandBuilder("/proj/kb")

	cmd, err := build(context.Background(), "python3", []string{"-m", "server"}, []string{"KB_INDEX_PATH=/data/index"})
	assert.NoError(t, err)
	assert.Equal(t, "/proj/kb", cmd.Dir)
	assert.Contains(t, cmd.Args, "-m")
	assert.Contains(t, cmd.Env, "KB_INDEX_PATH=/data/index")
}

func TestCloseIsIdempotentWhenUnconnected(t *testing.T) {
	l := NewLifecycle(zap.NewNop())
	l.Close()
	l.Close()
}
