package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/nexuspass/internal/app"
	"github.com/dharsanguruparan/nexuspass/internal/checkin"
	"github.com/dharsanguruparan/nexuspass/internal/config"
	"github.com/dharsanguruparan/nexuspass/internal/model"
	"github.com/dharsanguruparan/nexuspass/internal/qr"
	"github.com/dharsanguruparan/nexuspass/internal/queue"
)

var envFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "nexuspass: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nexuspass",
		Short: "Event check-in CLI",
		Long: `nexuspass issues QR codes for every attendee in the directory, marks
attendance from scanned codes and reports attendance statistics.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				return os.Setenv("NEXUSPASS_ENV_FILE", envFile)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&envFile, "env-file", "e", "", "dotenv file to load before reading the environment")
	cmd.AddCommand(
		newBootstrapCmd(),
		newGenerateCmd(),
		newScanCmd(),
		newCheckinCmd(),
		newStatsCmd(),
		newAttendeeCmd(),
	)
	return cmd
}

// withApp loads configuration, builds the services and runs fn.
func withApp(cmd *cobra.Command, opts app.Options, fn func(*app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := app.Build(cmd.Context(), cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the emp table and the code bucket if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{Bootstrap: true}, func(a *app.App) error {
				fmt.Fprintln(cmd.OutOrStdout(), "storage ready")
				return nil
			})
		},
	}
}

func newGenerateCmd() *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Issue QR codes for attendees that do not have one yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{}, func(a *app.App) error {
				out := cmd.OutOrStdout()
				if async {
					if !a.Config.UsesRedis() {
						return errors.New("--async requires NEXUSPASS_REDIS_ADDR")
					}
					id, err := a.Dispatcher(cmd.Context()).Dispatch(cmd.Context(), queue.NewGeneratePayload("cli"))
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "batch %s queued\n", id)
					return nil
				}
				n, err := a.Generator.GenerateMissing(cmd.Context())
				if err != nil {
					var batch *checkin.BatchError
					if errors.As(err, &batch) && batch.Partial() {
						fmt.Fprintf(out, "generated %d QR codes before failing; run again to finish\n", n)
					}
					return err
				}
				if n == 0 {
					fmt.Fprintln(out, "every attendee already has a QR code")
					return nil
				}
				fmt.Fprintf(out, "QR codes generated and stored successfully! (%d)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "Queue the batch on Redis instead of running it here")
	return cmd
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <image>...",
		Short: "Decode QR codes from image files and mark attendance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{}, func(a *app.App) error {
				out := cmd.OutOrStdout()
				failed := false
				for _, path := range args {
					frame, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					results, err := a.Desk.ProcessFrame(cmd.Context(), frame)
					if errors.Is(err, qr.ErrUnreadableCode) {
						fmt.Fprintf(out, "%s: QR code detected but could not be read\n", path)
						continue
					}
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					if len(results) == 0 {
						fmt.Fprintf(out, "%s: no QR code detected\n", path)
					}
					for _, res := range results {
						printResult(out, res)
						failed = failed || res.Outcome == model.OutcomeStoreError
					}
				}
				if failed {
					return model.ErrStore
				}
				return nil
			})
		},
	}
}

func newCheckinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkin <payload>",
		Short: "Mark attendance for a payload typed in by hand",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{}, func(a *app.App) error {
				res := a.Desk.ProcessPayload(cmd.Context(), strings.Join(args, " "))
				printResult(cmd.OutOrStdout(), res)
				if res.Outcome == model.OutcomeStoreError {
					return model.ErrStore
				}
				return nil
			})
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show attendance statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{}, func(a *app.App) error {
				stats, err := a.Reporter.Statistics(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Total Employees:        %d\n", stats.Total)
				fmt.Fprintf(out, "Attended Employees:     %d\n", stats.Attended)
				fmt.Fprintf(out, "Not Attended Employees: %d\n", stats.NotAttended)
				for _, s := range checkin.Breakdown(stats) {
					fmt.Fprintf(out, "  %-13s %s\n", s.Label, strings.ReplaceAll(s.Caption, "\n", " "))
				}
				return nil
			})
		},
	}
}

func newAttendeeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attendee",
		Short: "Manage directory rows",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <id> [name...]",
			Short: "Provision an attendee",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, app.Options{}, func(a *app.App) error {
					at := &model.Attendee{ID: args[0], Name: strings.Join(args[1:], " ")}
					if err := a.Attendees.Create(cmd.Context(), at); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", at.ID)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List attendees with their code and attendance state",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, app.Options{}, func(a *app.App) error {
					list, err := a.Attendees.List(cmd.Context())
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					for _, at := range list {
						fmt.Fprintf(out, "%s\t%s\tcode=%t\tattended=%t\n", at.ID, at.Name, at.HasCode(), at.Attended)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func printResult(w io.Writer, res model.ScanResult) {
	fmt.Fprintf(w, "[%s] %s: %s\n", res.Category, res.Outcome, res.Message)
	if res.Error != "" {
		fmt.Fprintf(w, "  %s\n", res.Error)
	}
}
