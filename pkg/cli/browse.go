package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ai-help-me/sftpdeck/pkg/browser"
	"github.com/ai-help-me/sftpdeck/pkg/shell"
	"github.com/ai-help-me/sftpdeck/pkg/tui"
)

func newBrowseCommand(a *app) *cobra.Command {
	var ep endpointFlags

	cmd := &cobra.Command{
		Use:   "browse [server]",
		Short: "Open an interactive browse session",
		Long: `Connect to a server and open an interactive session with cd, ls, lls, more,
get, put and preview. Without arguments a picker over the registry is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				ep.server = args[0]
			}

			action := tui.ActionBrowse
			if ep.server == "" && ep.host == "" {
				servers, err := a.registry.List()
				if err != nil {
					return err
				}
				if len(servers) == 0 {
					return errors.New("no servers registered; add one with 'sftpdeck servers add'")
				}
				selected, act, err := tui.Pick(servers)
				if err != nil {
					return err
				}
				if selected == nil {
					return nil
				}
				ep.server = selected.Name
				action = act
			}

			endpoint, err := ep.resolve(a)
			if err != nil {
				return err
			}
			secret, err := a.secret(endpoint)
			if err != nil {
				return err
			}

			ctx, cancel := interruptible(cmd)
			defer cancel()

			if err := a.service.Connect(ctx, endpoint, secret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s\n", endpoint)

			binding := a.service.Bind(endpoint, secret)
			if action == tui.ActionList {
				names, err := binding.ListRemote(ctx, "", 0, a.settings.PageSize)
				if err != nil {
					return err
				}
				printPage(cmd.OutOrStdout(), names)
				return nil
			}
			// The shell handles Ctrl+C itself.
			cancel()
			return runShell(cmd, a, binding)
		},
	}
	ep.register(cmd)
	return cmd
}

func runShell(cmd *cobra.Command, a *app, binding *browser.Binding) error {
	ep := binding.Endpoint()

	paths, err := shell.NewPathState(cmd.Context(), binding)
	if err != nil {
		return fmt.Errorf("create path state: %w", err)
	}

	sh := shell.New(binding, paths, ep.User, ep.Host,
		shell.WithIO(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr()),
		shell.WithPageSize(a.settings.PageSize))
	if err := sh.Run(); err != nil {
		return fmt.Errorf("browse session: %w", err)
	}
	return nil
}
