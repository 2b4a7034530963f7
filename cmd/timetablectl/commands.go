package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-sync/internal/models"
	"github.com/noah-isme/timetable-sync/internal/service"
	"github.com/noah-isme/timetable-sync/pkg/export"
)

type toolkit struct {
	periods  *service.PeriodTable
	ingestor *service.TimetableService
}

func newToolkit(schedule string, verbose bool) (*toolkit, error) {
	periods := service.DefaultPeriodTable()
	if schedule != "" {
		parsed, err := service.ParsePeriodTable(schedule)
		if err != nil {
			return nil, err
		}
		periods = parsed
	}
	logr := zap.NewNop()
	if verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		logr = dev
	}
	// Ingestion never touches the caches, so the reconciler needs no store.
	rec := service.NewSyncReconciler(service.ReconcilerConfig{}, nil, nil, nil, logr)
	chain := service.NewFormatAdapterChain(service.NewLessonNormalizer(periods), logr, nil)
	svc := service.NewTimetableService(rec, nil, chain, service.NewSubstitutionOverlay(logr), service.NewFallbackProvider(periods), periods, logr)
	return &toolkit{periods: periods, ingestor: svc}, nil
}

func newRootCommand() *cobra.Command {
	var (
		schedule string
		verbose  bool
	)
	root := &cobra.Command{
		Use:          "timetablectl",
		Short:        "Inspect and normalise timetable payloads",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&schedule, "schedule", os.Getenv("SCHEDULE_PERIODS"), "bell schedule as HH:MM-HH:MM,...")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log adapter decisions to stderr")

	kit := func() (*toolkit, error) { return newToolkit(schedule, verbose) }
	root.AddCommand(newNormalizeCommand(kit), newDiffCommand(kit), newPeriodsCommand(kit))
	return root
}

func newNormalizeCommand(kit func() (*toolkit, error)) *cobra.Command {
	var file, substitutions, output string
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Normalise a raw timetable payload into a week",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tk, err := kit()
			if err != nil {
				return err
			}
			body, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			var subs []byte
			if substitutions != "" {
				if subs, err = os.ReadFile(substitutions); err != nil {
					return fmt.Errorf("read substitutions: %w", err)
				}
			}

			result := tk.ingestor.Ingest(body, subs)
			if result.IsFallback {
				status := service.DescribeFallback(result.Reason)
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s Showing sample data.\n", status.Message)
			}
			switch output {
			case "json":
				return writeJSON(cmd.OutOrStdout(), result)
			case "csv", "pdf":
				exporter, err := export.ForFormat(output)
				if err != nil {
					return err
				}
				content, err := exporter.Render(service.WeekTable(result.Week, "Timetable"))
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(content)
				return err
			}
			return fmt.Errorf("unsupported output %q", output)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "payload file, - for stdin")
	cmd.Flags().StringVarP(&substitutions, "substitutions", "s", "", "substitution feed file")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "json, csv or pdf")
	return cmd
}

func newDiffCommand(kit func() (*toolkit, error)) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "diff <before> <after>",
		Short: "Compare the normalised weeks of two payloads",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tk, err := kit()
			if err != nil {
				return err
			}
			weeks := make([]models.Week, 0, 2)
			for _, path := range args {
				body, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				result := tk.ingestor.Ingest(body, nil)
				if result.IsFallback {
					return fmt.Errorf("%s: %s", path, service.DescribeFallback(result.Reason).Message)
				}
				weeks = append(weeks, result.Week)
			}

			changes := service.DiffWeeks(weeks[0], weeks[1])
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), changes)
			}
			if len(changes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no differences")
				return nil
			}
			for _, c := range changes {
				fmt.Fprintln(cmd.OutOrStdout(), c.String())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print changes as JSON")
	return cmd
}

func newPeriodsCommand(kit func() (*toolkit, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "periods",
		Short: "Print the bell schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tk, err := kit()
			if err != nil {
				return err
			}
			for _, p := range tk.periods.Periods() {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d  %s-%s\n", p.Period, p.Start, p.End)
			}
			return nil
		},
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return body, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
