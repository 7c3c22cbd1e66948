//go:build windows

package supervisor

import (
	"context"
	"errors"
	"io"
)

// ExecLauncher is not available on Windows: the control channel relies on
// POSIX signals. Use InProcessLauncher instead.
type ExecLauncher struct {
	Path   string
	Args   []string
	Env    []string
	Output func(appID uint32) (io.WriteCloser, error)
}

func (l *ExecLauncher) Start(ctx context.Context, appID uint32) (Child, error) {
	return nil, errors.New("exec launcher is not supported on windows")
}
