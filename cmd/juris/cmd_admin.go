package main

import (
	"fmt"
	"io"

	"juris/internal/auth"
	"juris/internal/store"
	"juris/internal/types"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(c.cfg.Database.Path)
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date: %s\n", c.cfg.Database.Path)
			return nil
		},
	}
}

func (c *cli) userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var req auth.RegisterRequest
	var role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an account",
		Long: `Creates an account directly in the database. Use it to bootstrap the
first admin:

  juris user add --username admin --password 'change-me-1' --role admin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := c.openAuth()
			if err != nil {
				return err
			}
			defer done()
			req.Role = types.Role(role)
			u, err := svc.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s user %s (%s)\n", u.Role, u.Username, u.ID)
			return nil
		},
	}
	add.Flags().StringVar(&req.Username, "username", "", "Login name (required)")
	add.Flags().StringVar(&req.Password, "password", "", "Password (required)")
	add.Flags().StringVar(&req.DisplayName, "display-name", "", "Display name")
	add.Flags().StringVar(&req.Email, "email", "", "Email address")
	add.Flags().StringVar(&role, "role", string(types.RoleUser), "Role: user or admin")
	_ = add.MarkFlagRequired("username")
	_ = add.MarkFlagRequired("password")

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := c.openAuth()
			if err != nil {
				return err
			}
			defer done()

			users, err := svc.ListUsers(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("USERNAME", "ROLE", "STATUS", "CREATED", "ID")
			for _, u := range users {
				t.Row(u.Username, string(u.Role), string(u.Status), u.CreatedAt.Format("2006-01-02"), u.ID)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			fmt.Fprintf(cmd.OutOrStdout(), "%d users\n", len(users))
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 100, "Maximum rows")
	list.Flags().IntVar(&offset, "offset", 0, "Rows to skip")

	cmd.AddCommand(add, list,
		c.userStatusCmd("disable", "Disable an account and revoke its sessions", types.UserDisabled),
		c.userStatusCmd("enable", "Re-enable a disabled account", types.UserActive),
	)
	return cmd
}

func (c *cli) userStatusCmd(use, short string, status types.UserStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [username]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := c.openAuth()
			if err != nil {
				return err
			}
			defer done()

			u, err := svc.SetUserStatus(cmd.Context(), args[0], status)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s is now %s\n", u.Username, u.Status)
			return nil
		},
	}
}

// openAuth opens the store and the configured session store for the
// account commands.
func (c *cli) openAuth() (*auth.Service, func(), error) {
	st, err := store.Open(c.cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	sessions, err := auth.NewSessionStore(c.cfg.Auth, st)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	done := func() {
		if cl, ok := sessions.(io.Closer); ok {
			cl.Close()
		}
		st.Close()
	}
	svc, err := auth.NewService(st, c.cfg.Auth, sessions)
	if err != nil {
		done()
		return nil, nil, err
	}
	return svc, done, nil
}
