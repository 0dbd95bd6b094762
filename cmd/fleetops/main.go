package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ukydev/fleetops/internal/config"
	"github.com/ukydev/fleetops/internal/db"
	"github.com/ukydev/fleetops/internal/expiry"
	"github.com/ukydev/fleetops/internal/models"
)

var (
	envFile    string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "fleetops",
	Short: "Fleet validation lifecycle service",
	Long: `fleetops tracks tanker and bauxite trucks through maintenance, administrative,
OBC and HSSE checks before they are released for delivery, and watches the expiry
of vehicle and driver documents.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")

	rootCmd.AddCommand(serveCmd())

	docs := &cobra.Command{Use: "documents", Short: "Inspect compliance documents"}
	docs.AddCommand(documentsScanCmd())
	rootCmd.AddCommand(docs)

	vehicles := &cobra.Command{Use: "vehicles", Short: "Inspect and repair vehicles"}
	vehicles.AddCommand(vehiclesListCmd())
	vehicles.AddCommand(vehiclesSyncCmd())
	rootCmd.AddCommand(vehicles)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// withApp loads the configuration, wires the services and runs fn.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logger := log.StandardLogger()
	cfg.ConfigureLogger(logger)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func serveCmd() *cobra.Command {
	var scanInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if err := a.seedAdmin(ctx); err != nil {
					return fmt.Errorf("seed admin: %w", err)
				}
				srv := &http.Server{
					Addr:              ":" + a.cfg.Port,
					Handler:           a.router(),
					ReadHeaderTimeout: 10 * time.Second,
				}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					a.logger.WithField("port", a.cfg.Port).Info("HTTP server listening")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
					defer cancel()
					a.logger.Info("Shutting down HTTP server")
					return srv.Shutdown(shutdownCtx)
				})
				if scanInterval > 0 {
					g.Go(func() error {
						return a.scanner.Run(gctx, scanInterval, nil)
					})
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().DurationVar(&scanInterval, "scan-interval", 6*time.Hour, "document expiry scan period (0 disables)")
	return cmd
}

func documentsScanCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List expired and soon-to-expire documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if interval <= 0 {
					report, err := a.scanner.Scan(ctx)
					if err != nil {
						return err
					}
					return printReport(out, report)
				}
				return a.scanner.Run(ctx, interval, func(r *expiry.Report) {
					if err := printReport(out, r); err != nil {
						a.logger.WithError(err).Warn("Failed to print report")
					}
				})
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "rescan period; 0 scans once")
	return cmd
}

func printReport(w io.Writer, r *expiry.Report) error {
	if jsonOutput {
		return printJSON(w, r)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Owner", "Owner ID", "Document", "Expires", "Days", "Level"})
	for _, al := range r.Alerts {
		d := al.Document
		tw.AppendRow(table.Row{d.OwnerKind, d.OwnerID, d.TypeDocument, d.DateExpiration, al.JoursRestants, al.Level})
	}
	tw.AppendFooter(table.Row{"", "", "", "scanned", r.Scanned, fmt.Sprintf("%d errors", len(r.Errors))})
	tw.Render()
	for _, e := range r.Errors {
		fmt.Fprintf(w, "document %s: %s\n", e.DocumentID, e.Message)
	}
	return nil
}

func vehiclesListCmd() *cobra.Command {
	var f struct {
		status string
		etape  string
	}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List vehicles with their stage and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				vehicles, err := a.store.FindVehicles(ctx, db.VehicleFilter{
					Status: models.VehicleStatus(f.status),
					Etape:  models.Stage(f.etape),
				})
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), vehicles)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Numero", "Transport", "Stage", "Status", "Validation"})
				for _, v := range vehicles {
					tw.AppendRow(table.Row{v.ID.Hex(), v.Numero, v.TypeTransport, v.Etape, v.Status, v.ValidationRequise})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.etape, "etape", "", "stage filter")
	return cmd
}

func vehiclesSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <id>",
		Short: "Recompute a vehicle's status from its latest validation workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.orch.Sync(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				s := res.Status
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s -> %s, validation_requise=%t, changed=%t)\n",
					res.VehicleID, s.Verdict, s.Previous, s.Status, s.ValidationRequise, s.Changed)
				return nil
			})
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
