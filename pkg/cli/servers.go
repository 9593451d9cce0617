package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ai-help-me/sftpdeck/pkg/registry"
)

func newServersCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "servers",
		Aliases: []string{"server"},
		Short:   "Manage the server registry",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registered servers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				servers, err := a.registry.List()
				if err != nil {
					return err
				}
				if len(servers) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No servers registered in %s\n", a.registry.Path())
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tADDRESS\tPORT\tUSERNAME")
				for _, s := range servers {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Name, s.Address, s.Port, s.Username)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:     "add <name> <user@address[:port]>",
			Short:   "Register a server",
			Example: "  sftpdeck servers add web deploy@10.0.0.5\n  sftpdeck servers add db postgres@db.internal:2222",
			Args:    cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				user, host, port, err := parseTarget(args[1])
				if err != nil {
					return err
				}
				s := registry.Server{Name: args[0], Address: host, Port: port, Username: user}
				if err := a.registry.Add(s); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", s)
				return nil
			},
		},
		&cobra.Command{
			Use:     "rm <name>",
			Aliases: []string{"remove"},
			Short:   "Remove a registered server",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				removed, err := a.registry.Remove(args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("%q: %w", args[0], registry.ErrNotFound)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
