// Package cli wires configuration, logging, the session pool and the browse
// facade into the sftpdeck command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ai-help-me/sftpdeck/pkg/browser"
	"github.com/ai-help-me/sftpdeck/pkg/config"
	"github.com/ai-help-me/sftpdeck/pkg/logging"
	"github.com/ai-help-me/sftpdeck/pkg/metrics"
	"github.com/ai-help-me/sftpdeck/pkg/registry"
	deckftp "github.com/ai-help-me/sftpdeck/pkg/sftp"
	"github.com/ai-help-me/sftpdeck/pkg/ssh"
	"github.com/ai-help-me/sftpdeck/pkg/terminal"
)

// app is the state shared by every command of one invocation.
type app struct {
	settings    *config.Settings
	registry    *registry.Registry
	service     *browser.Service
	term        *terminal.Manager
	metricsAddr string
	stopMetrics context.CancelFunc
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sftpdeck",
		Short: "Browse remote file systems and move files over SFTP",
		Long: `sftpdeck browses local and remote directories and transfers files over SFTP.

Remote servers are kept in a small registry file (SFTPDECK_REGISTRY_PATH,
~/.sftpdeck.yaml by default). Authenticated sessions are pooled per
user@host:port for the life of the process, so a batch of transfers to one
server performs a single handshake.

Uploads are compressed first: the local file is packed into <file>.zip and the
archive is what lands on the server.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "",
		"serve Prometheus metrics on this address (overrides SFTPDECK_METRICS_ADDR)")

	root.AddCommand(
		newServersCommand(a),
		newLsCommand(a),
		newLlsCommand(a),
		newGetCommand(a),
		newPutCommand(a),
		newBrowseCommand(a),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// run executes one command line. Pooled sessions are closed before it
// returns, whether or not the command failed.
func run(args []string, in io.Reader, out, errOut io.Writer) error {
	a := &app{}
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.Execute()
	if terr := a.teardown(); err == nil {
		err = terr
	}
	return err
}

func (a *app) setup(cmd *cobra.Command) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}
	a.settings = settings

	if err := logging.Init(logging.Config{Level: settings.LogLevel, Format: settings.LogFormat}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.L()

	if a.registry, err = registry.New(settings.RegistryPath); err != nil {
		return err
	}

	dialer := &ssh.Dialer{
		Timeout:        settings.ConnectTimeout,
		KeyPath:        settings.KeyPath,
		UseAgent:       settings.UseAgent,
		KnownHostsFile: settings.KnownHosts,
	}
	pool := ssh.NewPool(dialer,
		ssh.WithAuthTimeout(settings.ConnectTimeout),
		ssh.WithLogger(log.Named("pool")))

	progressOut := cmd.ErrOrStderr()
	engine := deckftp.NewEngine(
		deckftp.WithTimeout(settings.TransferTimeout),
		deckftp.WithLogger(log.Named("engine")),
		deckftp.WithProgress(func(t deckftp.Transfer, size int64) deckftp.Tracker {
			return deckftp.NewProgressBar(progressOut, t, size)
		}),
	)

	a.service = browser.New(pool,
		browser.WithEngine(engine),
		browser.WithWorkers(settings.Workers),
		browser.WithListTimeout(settings.ConnectTimeout),
		browser.WithArchiveCleanup(settings.CleanupArchives),
		browser.WithLogger(log.Named("browser")))

	a.term = terminal.NewWithIO(cmd.InOrStdin(), cmd.ErrOrStderr())

	addr := a.metricsAddr
	if addr == "" {
		addr = settings.MetricsAddr
	}
	if addr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		a.stopMetrics = cancel
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				log.Error("metrics server stopped", zap.String("addr", addr), logging.Err(err))
			}
		}()
	}
	return nil
}

func (a *app) teardown() error {
	if a.stopMetrics != nil {
		a.stopMetrics()
	}
	if a.term != nil {
		a.term.Cleanup()
	}
	var err error
	if a.service != nil {
		err = a.service.Close()
	}
	_ = logging.Sync()
	return err
}

// interruptible returns a context cancelled by Ctrl+C.
func interruptible(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt)
}

// endpointFlags select a remote endpoint either by registry name or directly.
type endpointFlags struct {
	server string
	host   string
	port   int
	user   string
}

func (f *endpointFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.server, "server", "s", "", "registered server name")
	cmd.Flags().StringVar(&f.host, "host", "", "remote host (instead of --server)")
	cmd.Flags().IntVar(&f.port, "port", registry.DefaultPort, "remote port (with --host)")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "remote user (with --host)")
}

func (f *endpointFlags) resolve(a *app) (browser.Endpoint, error) {
	switch {
	case f.server != "" && f.host != "":
		return browser.Endpoint{}, errors.New("use either --server or --host, not both")
	case f.server != "":
		s, err := a.registry.Find(f.server)
		if err != nil {
			return browser.Endpoint{}, err
		}
		return browser.EndpointFor(s), nil
	case f.host != "":
		if f.user == "" {
			return browser.Endpoint{}, errors.New("--user is required with --host")
		}
		return browser.Endpoint{Host: f.host, Port: f.port, User: f.user}, nil
	default:
		return browser.Endpoint{}, errors.New("a remote endpoint is required: pass --server or --host")
	}
}

// secret returns SFTPDECK_PASSWORD when set and otherwise prompts for it.
func (a *app) secret(ep browser.Endpoint) (string, error) {
	if a.settings.Password != "" {
		return a.settings.Password, nil
	}
	return a.term.ReadSecret(fmt.Sprintf("%s's password: ", ep))
}

// parseTarget parses user@host[:port]. IPv6 literals take a port only in
// brackets: user@[::1]:2222, user@[::1] or user@::1.
func parseTarget(target string) (user, host string, port int, err error) {
	port = registry.DefaultPort

	user, rest, ok := strings.Cut(target, "@")
	if !ok || user == "" {
		return "", "", 0, fmt.Errorf("invalid target %q: want user@host[:port]", target)
	}

	host = rest
	switch {
	case strings.HasPrefix(rest, "[") && strings.HasSuffix(rest, "]"):
		host = rest[1 : len(rest)-1]
	case strings.HasPrefix(rest, "[") || strings.Count(rest, ":") == 1:
		var p string
		if host, p, err = net.SplitHostPort(rest); err != nil {
			return "", "", 0, fmt.Errorf("invalid target %q: %w", target, err)
		}
		if port, err = strconv.Atoi(p); err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid port %q", p)
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("invalid target %q: host is empty", target)
	}
	return user, host, port, nil
}

func printPage(w io.Writer, names []string) {
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
}
