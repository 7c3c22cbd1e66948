package emulator

import (
	"context"
	"log/slog"

	"github.com/loykin/samgo/internal/channel"
	"github.com/loykin/samgo/internal/service"
)

// RunChild runs the emulated game over the pipe ends and doorbells inherited
// from the supervisor. It is the body of the hidden child command.
func RunChild(ctx context.Context, cfg Config, svc service.Service, logger *slog.Logger) error {
	ch, err := channel.Inherited(ctx)
	if err != nil {
		return err
	}
	return New(cfg, svc, ch, logger).Run(ctx)
}
