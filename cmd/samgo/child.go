package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/samgo"
)

// createChildCommand creates the hidden command the exec launcher re-executes.
// It expects the control channel on fd 3 and 4.
func createChildCommand(c command) *cobra.Command {
	var appID uint32
	cmd := &cobra.Command{
		Use:    "child",
		Short:  "Run the emulated game (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := samgo.LoadConfig(c.global.ConfigPath)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			// output is captured by the supervisor; never share its log file
			cfg.Log.Dir = ""
			cfg.Log.Color = false
			log, closer, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()
			return samgo.RunChild(cmd.Context(), cfg, appID, log.With("side", "child"))
		},
	}
	cmd.Flags().Uint32Var(&appID, "app-id", 0, "application id")
	if err := cmd.MarkFlagRequired("app-id"); err != nil {
		panic(err)
	}
	return cmd
}
