package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/Digest/internal/config"
	"github.com/wehubfusion/Digest/internal/logging"
	"github.com/wehubfusion/Digest/pkg/runner"
)

func newRunCmd() *cobra.Command {
	var (
		date   string
		dryRun bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build one digest",
		Long: `Build the digest for one day and hand it off for delivery.

Examples:
  # Today's digest
  digest run

  # Rebuild a past day without archiving or publishing, printing the text
  digest run --date 2026-10-14 --dry-run --output text`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := setup(ctx, configPath, dryRun)
			if err != nil {
				return err
			}
			defer app.Close()

			out, err := app.runner.RunOnce(ctx, date)
			if out != nil && out.Email != nil {
				if perr := printEmail(cmd.OutOrStdout(), out, output); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to digest, YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "skip archive and publish")
	cmd.Flags().StringVarP(&output, "output", "o", "", "print the rendered digest: html, text or summary")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Build the digest every day at the scheduled time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := setup(ctx, configPath, false)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.runner.Run(ctx)
		},
	}
}

func newExtractorsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "extractors",
		Short: "List the configured extractors and their effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			reg, err := buildRegistry(cfg, logger)
			if err != nil {
				return err
			}
			return printExtractors(cmd.OutOrStdout(), listExtractors(reg), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printEmail(w io.Writer, out *runner.Outcome, format string) error {
	switch format {
	case "":
		return nil
	case "html":
		_, err := fmt.Fprintln(w, out.Email.HTML)
		return err
	case "text":
		_, err := fmt.Fprintln(w, out.Email.Text)
		return err
	case "summary":
		_, err := fmt.Fprintf(w, "%s\nrecords: %d\nsections: %d\nfailed: %v\narchive: %s\nmessage: %s\nduration: %s\n",
			out.Email.Subject, out.Records, len(out.Email.Sections), out.Email.FailedSections,
			out.ArchiveURL, out.MessageID, out.Duration)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func printExtractors(w io.Writer, infos []extractorInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tENABLED\tPRIORITY\tSETTINGS")
	for _, info := range infos {
		settings, err := json.Marshal(info.Settings)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\n", info.ID, info.Name, info.Enabled, info.Priority, settings)
	}
	return tw.Flush()
}
