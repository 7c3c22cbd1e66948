package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
}

// RemoteFlags select a running samgo server instead of a local supervisor
type RemoteFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Token      string
	Insecure   bool
}

// LaunchFlags holds flags for the launch command
type LaunchFlags struct {
	AppID uint32
	Set   []string
	Clear []string
	// Wait keeps the emulated game running until interrupted.
	Wait bool
	RemoteFlags
}

// SetFlags holds flags for the remote set command
type SetFlags struct {
	ID    string
	Clear bool
	Queue bool
	RemoteFlags
}

// CatalogFlags holds flags for catalog commands
type CatalogFlags struct {
	DSN         string
	User        string
	AppID       uint32
	ID          string
	Name        string
	Description string
	Hidden      bool
	Icon        int32
	File        string
}

// buildRoot creates the root command with all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	c := command{global: globalFlags}

	root.AddCommand(
		createLaunchCommand(c),
		createServeCommand(globalFlags),
		createChildCommand(c),
		createCatalogCommand(c),
		createAuthCommand(),
		createStatusCommand(),
		createAchievementsCommand(),
		createRefreshCommand(),
		createSetCommand(),
		createCommitCommand(),
		createVerifyCommand(),
		createTerminateCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "samgo",
		Short: "Achievement manager driving an emulated game process",
		Long: `samgo launches an emulated game process for an application id, lists
its achievements and unlocks or relocks them through a signal driven control
channel.

Examples:
  samgo launch --app-id=480                       # Show achievements of app 480
  samgo launch --app-id=480 --set=ACH_WIN_ONE_GAME
  samgo serve --config=samgo.toml                 # Start the HTTP API
  samgo status --api-url=http://remote:8480/api   # Remote status`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addRemoteFlags(cmd *cobra.Command, f *RemoteFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "samgo server URL (e.g. http://host:8480/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", time.Minute, "request timeout")
	cmd.Flags().StringVar(&f.Token, "token", os.Getenv("SAMGO_API_TOKEN"), "bearer token (default $SAMGO_API_TOKEN)")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
}
