package cli

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ai-help-me/sftpdeck/pkg/archive"
	"github.com/ai-help-me/sftpdeck/pkg/browser"
	deckftp "github.com/ai-help-me/sftpdeck/pkg/sftp"
)

type pageFlags struct {
	offset int
	limit  int
}

func (f *pageFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.offset, "offset", 0, "skip this many entries")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "entries to print (default SFTPDECK_PAGE_SIZE)")
}

func (f *pageFlags) pageLimit(a *app) int {
	if f.limit > 0 {
		return f.limit
	}
	return a.settings.PageSize
}

func newLsCommand(a *app) *cobra.Command {
	var ep endpointFlags
	var page pageFlags

	cmd := &cobra.Command{
		Use:   "ls [remote-path]",
		Short: "List a remote directory",
		Long: `List one page of a remote directory. Without a path the remote login
directory is listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := ep.resolve(a)
			if err != nil {
				return err
			}
			secret, err := a.secret(endpoint)
			if err != nil {
				return err
			}

			remotePath := ""
			if len(args) == 1 {
				remotePath = args[0]
			}

			ctx, cancel := interruptible(cmd)
			defer cancel()

			names, err := a.service.ListRemote(ctx, endpoint, secret, remotePath, page.offset, page.pageLimit(a))
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), names)
			return nil
		},
	}
	ep.register(cmd)
	page.register(cmd)
	return cmd
}

func newLlsCommand(a *app) *cobra.Command {
	var page pageFlags

	cmd := &cobra.Command{
		Use:   "lls [local-dir]",
		Short: "List a local directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			names, err := a.service.ListLocal(dir, page.offset, page.pageLimit(a))
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), names)
			return nil
		},
	}
	page.register(cmd)
	return cmd
}

func newGetCommand(a *app) *cobra.Command {
	var ep endpointFlags
	var dest string

	cmd := &cobra.Command{
		Use:   "get <remote-path>...",
		Short: "Download remote files",
		Long: `Download each remote file into the local destination directory, keeping its
base name. Files are transferred concurrently over one pooled session.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := ep.resolve(a)
			if err != nil {
				return err
			}
			secret, err := a.secret(endpoint)
			if err != nil {
				return err
			}

			jobs := make([]browser.Job, 0, len(args))
			for _, remotePath := range args {
				jobs = append(jobs, browser.Job{
					Direction:  deckftp.Download,
					Endpoint:   endpoint,
					Secret:     secret,
					RemotePath: remotePath,
					LocalPath:  filepath.Join(dest, path.Base(remotePath)),
				})
			}

			if err := distinctDestinations(jobs); err != nil {
				return err
			}

			ctx, cancel := interruptible(cmd)
			defer cancel()
			return report(cmd, a.service.RunBatch(ctx, jobs))
		},
	}
	ep.register(cmd)
	cmd.Flags().StringVarP(&dest, "dest", "d", ".", "local destination directory")
	return cmd
}

func newPutCommand(a *app) *cobra.Command {
	var ep endpointFlags
	var dest string

	cmd := &cobra.Command{
		Use:   "put <local-path>...",
		Short: "Compress and upload local files",
		Long: `Compress each local file into <file>.zip beside it and upload the archive into
the remote destination directory. Archives are kept locally unless
SFTPDECK_CLEANUP_ARCHIVES is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := ep.resolve(a)
			if err != nil {
				return err
			}
			secret, err := a.secret(endpoint)
			if err != nil {
				return err
			}

			jobs := make([]browser.Job, 0, len(args))
			for _, localPath := range args {
				jobs = append(jobs, browser.Job{
					Direction:  deckftp.Upload,
					Endpoint:   endpoint,
					Secret:     secret,
					LocalPath:  localPath,
					RemotePath: path.Join(dest, filepath.Base(localPath)+archive.Ext),
				})
			}

			if err := distinctDestinations(jobs); err != nil {
				return err
			}

			ctx, cancel := interruptible(cmd)
			defer cancel()
			return report(cmd, a.service.RunBatch(ctx, jobs))
		},
	}
	ep.register(cmd)
	cmd.Flags().StringVarP(&dest, "dest", "d", ".", "remote destination directory (default login directory)")
	return cmd
}

// distinctDestinations rejects a batch in which two jobs would write the
// same file. Jobs run concurrently, so the last rename would silently win.
func distinctDestinations(jobs []browser.Job) error {
	seen := make(map[string]string, len(jobs))
	for _, j := range jobs {
		src, dst := j.RemotePath, filepath.Clean(j.LocalPath)
		if j.Direction == deckftp.Upload {
			src, dst = j.LocalPath, path.Clean(j.RemotePath)
		}
		if prev, ok := seen[dst]; ok {
			return fmt.Errorf("%s and %s both write %s", prev, src, dst)
		}
		seen[dst] = src
	}
	return nil
}

// report prints one line per batch result and joins the failures.
func report(cmd *cobra.Command, results []browser.Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		switch r.Job.Direction {
		case deckftp.Download:
			fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s -> %s\n", r.Job.RemotePath, r.Job.LocalPath)
		case deckftp.Upload:
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s -> %s\n", r.ArchivePath, r.Job.RemotePath)
		}
	}
	if len(errs) > 0 && len(results) > 1 {
		return fmt.Errorf("%d of %d transfers failed: %w", len(errs), len(results), errors.Join(errs...))
	}
	return errors.Join(errs...)
}
