//go:build !windows

package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/loykin/samgo/internal/channel"
	"github.com/loykin/samgo/internal/service"
)

// ExecLauncher re-executes a binary (by default the running one) with the
// hidden child command. The child inherits the command pipe read end as fd 3
// and the snapshot pipe write end as fd 4, and both sides ring each other with
// signals.
type ExecLauncher struct {
	// Path of the binary; defaults to os.Executable().
	Path string
	// Args are passed before the app id flag, e.g. []string{"child"}.
	Args []string
	// Env is appended to the current environment.
	Env []string
	// Output receives the child's stdout and stderr. Nil inherits them.
	Output func(appID uint32) (io.WriteCloser, error)

	router bellRouter
}

func (l *ExecLauncher) Start(ctx context.Context, appID uint32) (Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		path = exe
	}
	id := strconv.FormatUint(uint64(appID), 10)

	p, err := channel.NewPipes()
	if err != nil {
		return nil, err
	}
	closeAll := func() {
		_ = p.CommandR.Close()
		_ = p.CommandW.Close()
		_ = p.SnapshotR.Close()
		_ = p.SnapshotW.Close()
	}

	args := append(append([]string(nil), l.Args...), "--app-id", id)
	cmd := exec.Command(path, args...)
	cmd.Env = append(append(os.Environ(), l.Env...), service.EnvAppID+"="+id)
	cmd.ExtraFiles = []*os.File{p.CommandR, p.SnapshotW}
	configureSysProcAttr(cmd)

	var out io.WriteCloser
	if l.Output != nil {
		if out, err = l.Output(appID); err != nil {
			closeAll()
			return nil, err
		}
		cmd.Stdout, cmd.Stderr = out, out
	} else {
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	}

	// the doorbell listener must be in place before the child can ring
	bells := l.router.attach()
	if err := cmd.Start(); err != nil {
		l.router.detach(bells)
		closeAll()
		if out != nil {
			_ = out.Close()
		}
		return nil, err
	}
	p.CloseChildEnds()

	peer := channel.SignalRinger{PID: cmd.Process.Pid, Signals: channel.ParentToChild}
	return &execChild{
		cmd:    cmd,
		ch:     p.ParentEnd(peer, bells),
		bells:  bells,
		router: &l.router,
		out:    out,
	}, nil
}

type execChild struct {
	cmd    *exec.Cmd
	ch     *channel.Channel
	bells  chan channel.Bell
	router *bellRouter
	out    io.WriteCloser
}

func (c *execChild) PID() int                  { return c.cmd.Process.Pid }
func (c *execChild) Channel() *channel.Channel { return c.ch }

func (c *execChild) Wait() error {
	err := c.cmd.Wait()
	c.router.detach(c.bells)
	var errs []error
	errs = append(errs, c.ch.Close())
	if c.out != nil {
		errs = append(errs, c.out.Close())
	}
	if cerr := errors.Join(errs...); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (c *execChild) Kill() error { return c.cmd.Process.Kill() }

// bellRouter owns the process-wide snapshot-ready signal listener. It is
// installed once and never removed, so a late signal from an exited child
// cannot hit the default disposition, and routes doorbells to the current
// child only.
type bellRouter struct {
	once sync.Once
	mu   sync.Mutex
	cur  chan channel.Bell
}

func (r *bellRouter) attach() chan channel.Bell {
	r.once.Do(func() {
		src := channel.Listen(context.Background(), channel.ChildToParent)
		go r.forward(src)
	})
	ch := make(chan channel.Bell, 16)
	r.mu.Lock()
	r.cur = ch
	r.mu.Unlock()
	return ch
}

func (r *bellRouter) detach(ch chan channel.Bell) {
	r.mu.Lock()
	if r.cur == ch {
		r.cur = nil
	}
	r.mu.Unlock()
}

func (r *bellRouter) forward(src <-chan channel.Bell) {
	for b := range src {
		r.mu.Lock()
		if r.cur != nil {
			select {
			case r.cur <- b:
			default:
			}
		}
		r.mu.Unlock()
	}
}
