package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/juste-un-gars/scpsync/internal/app"
	"github.com/juste-un-gars/scpsync/internal/config"
	"github.com/juste-un-gars/scpsync/internal/credentials"
	"github.com/juste-un-gars/scpsync/internal/sync"
)

func (c *cli) newCredentialsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the secrets stored in the system keyring",
	}
	cmd.AddCommand(
		c.newSetPasswordCommand(),
		c.newListCredentialsCommand(),
		c.newForgetCommand(),
	)
	return cmd
}

// endpoint opens the application and returns the configured endpoint.
func (c *cli) endpoint() (*app.App, *config.WorkspaceConfig, error) {
	a, err := c.open(false)
	if err != nil {
		return nil, nil, err
	}
	cfg := a.Engine().Configuration()
	if cfg == nil {
		a.Close()
		return nil, nil, sync.ErrConfigurationMissing
	}
	return a, cfg, nil
}

func (c *cli) newSetPasswordCommand() *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "set-password",
		Short: "Store the password for the configured endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cfg, err := c.endpoint()
			if err != nil {
				return err
			}
			defer a.Close()

			var password string
			if fromStdin {
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			} else {
				password, err = credentials.NewTerminalPrompter().Password(cmd.Context(), cfg.Endpoint())
				if err != nil {
					return err
				}
			}
			if password == "" {
				return errors.New("password cannot be empty")
			}

			if err := a.Resolver().UpdatePassword(cfg.Endpoint(), password); err != nil {
				return err
			}
			c.printf("Password stored for %s\n", cfg.Endpoint())
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func (c *cli) newListCredentialsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show which secrets are stored for the configured endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cfg, err := c.endpoint()
			if err != nil {
				return err
			}
			defer a.Close()

			mgr := a.Credentials()
			endpoint := cfg.Endpoint()

			_, err = mgr.Password(endpoint)
			switch {
			case err == nil:
				c.printf("%s: password stored\n", endpoint)
			case errors.Is(err, credentials.ErrSecretNotFound):
				c.printf("%s: no password stored\n", endpoint)
			default:
				return err
			}

			ids := mgr.StoredKeyIDs(endpoint)
			if len(ids) == 0 {
				c.printf("%s: no keys stored\n", endpoint)
			} else {
				c.printf("%s: keys %s\n", endpoint, strings.Join(ids, ", "))
			}
			return nil
		},
	}
}

func (c *cli) newForgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Delete every stored secret for the configured endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cfg, err := c.endpoint()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Resolver().Forget(cfg.Endpoint()); err != nil {
				return err
			}
			c.printf("Credentials deleted for %s\n", cfg.Endpoint())
			return nil
		},
	}
}
