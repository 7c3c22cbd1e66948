package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/samgo/internal/auth"
)

// createAuthCommand creates the auth command with subcommands
func createAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication helpers",
		Long: `Helpers for the [server.auth] section.

Examples:
  samgo auth hash-password --password=secret
  echo secret | samgo auth hash-password`,
	}
	cmd.AddCommand(createHashPasswordCommand())
	return cmd
}

func createHashPasswordCommand() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for server.auth.password_hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw := password
			if pw == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("password required: use --password or stdin")
				}
				pw = strings.TrimRight(line, "\r\n")
			}
			if pw == "" {
				return fmt.Errorf("password must not be empty")
			}
			h, err := auth.HashPassword(pw)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password to hash (read from stdin when empty)")
	return cmd
}
