package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/samgo/pkg/client"
)

const defaultAPIUrl = "http://127.0.0.1:8480/api"

func newAPIClient(f RemoteFlags) *client.Client {
	url := f.APIUrl
	if url == "" {
		url = defaultAPIUrl
	}
	return client.New(client.Config{
		BaseURL:  url,
		Timeout:  f.APITimeout,
		Token:    f.Token,
		Insecure: f.Insecure,
	})
}

// reachableClient fails early with a hint when no server answers.
func reachableClient(ctx context.Context, f RemoteFlags) (*client.Client, error) {
	c := newAPIClient(f)
	if !c.IsReachable(ctx) {
		url := f.APIUrl
		if url == "" {
			url = defaultAPIUrl
		}
		return nil, fmt.Errorf("server not reachable at %s - start it first with 'samgo serve'", url)
	}
	return c, nil
}

// remoteCommand builds a command that runs fn against a samgo server.
func remoteCommand(use, short, long string, fn func(ctx context.Context, cmd *cobra.Command, c *client.Client) error) *cobra.Command {
	f := &RemoteFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := reachableClient(ctx, *f)
			if err != nil {
				return err
			}
			return fn(ctx, cmd, c)
		},
	}
	addRemoteFlags(cmd, f)
	return cmd
}

func createStatusCommand() *cobra.Command {
	return remoteCommand("status", "Show supervisor status",
		`Show the state of the emulated game on a samgo server.

Examples:
  samgo status
  samgo status --api-url=http://remote:8480/api`,
		func(ctx context.Context, cmd *cobra.Command, c *client.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), st)
			return nil
		})
}

func createAchievementsCommand() *cobra.Command {
	return remoteCommand("achievements", "Show the cached achievement snapshot", "",
		func(ctx context.Context, cmd *cobra.Command, c *client.Client) error {
			a, err := c.Achievements(ctx)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), a)
			return nil
		})
}

func createRefreshCommand() *cobra.Command {
	return remoteCommand("refresh", "Request a new achievement snapshot", "",
		func(ctx context.Context, cmd *cobra.Command, c *client.Client) error {
			return c.Refresh(ctx)
		})
}

func createCommitCommand() *cobra.Command {
	return remoteCommand("commit", "Send queued mutations and refresh", "",
		func(ctx context.Context, cmd *cobra.Command, c *client.Client) error {
			n, err := c.Commit(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d mutation(s) sent\n", n)
			return nil
		})
}

func createVerifyCommand() *cobra.Command {
	return remoteCommand("verify", "List mutations the game has not confirmed", "",
		func(ctx context.Context, cmd *cobra.Command, c *client.Client) error {
			ids, err := c.Verify(ctx)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "all mutations confirmed")
				return nil
			}
			printJSON(cmd.OutOrStdout(), ids)
			return fmt.Errorf("%d mutation(s) unconfirmed", len(ids))
		})
}

func createTerminateCommand() *cobra.Command {
	return remoteCommand("terminate", "Terminate the emulated game", "",
		func(ctx context.Context, cmd *cobra.Command, c *client.Client) error {
			return c.Terminate(ctx)
		})
}

// createSetCommand creates the set subcommand
func createSetCommand() *cobra.Command {
	f := &SetFlags{}
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Unlock or relock one achievement",
		Long: `Unlock (or with --clear relock) an achievement of the running game.
With --queue the change is only queued; send it with 'samgo commit'.

Examples:
  samgo set --id=ACH_WIN_ONE_GAME
  samgo set --id=ACH_WIN_ONE_GAME --clear
  samgo set --id=ACH_TRAVEL_FAR_ACCUM --queue && samgo commit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := reachableClient(ctx, f.RemoteFlags)
			if err != nil {
				return err
			}
			return c.SetAchievement(ctx, f.ID, !f.Clear, f.Queue)
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "achievement api name (required)")
	cmd.Flags().BoolVar(&f.Clear, "clear", false, "relock instead of unlock")
	cmd.Flags().BoolVar(&f.Queue, "queue", false, "queue without sending")
	addRemoteFlags(cmd, &f.RemoteFlags)
	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err)
	}
	return cmd
}
