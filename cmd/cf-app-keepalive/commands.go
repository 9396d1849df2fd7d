package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/auto-dns/cf-app-keepalive/internal/app"
	"github.com/auto-dns/cf-app-keepalive/internal/core"
	"github.com/auto-dns/cf-app-keepalive/internal/domain"
	"github.com/auto-dns/cf-app-keepalive/internal/logger"
)

// withApp builds the application for a one-shot command and tears it down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg := configFrom(cmd)
	cfg.Server.Enabled = false
	logInstance := logger.SetupLogger(&cfg.Logging)

	a, err := app.New(cfg, logInstance)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer closeApp(a, logInstance)

	ctx, cancel := signalContext(logInstance)
	defer cancel()
	return fn(ctx, a)
}

var (
	reconcileForce bool
	reconcileAll   bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [target-id]",
	Short: "Ensure one target (or --all) is running, now",
	Args: func(cmd *cobra.Command, args []string) error {
		if reconcileAll && len(args) > 0 {
			return errors.New("--all takes no target id")
		}
		if !reconcileAll && len(args) != 1 {
			return errors.New("expected exactly one target id, or --all")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if reconcileAll {
				return printResults(cmd.OutOrStdout(), a.Scheduler().RunAll(ctx, "cli"))
			}
			t, err := a.Fleet().Find(args[0])
			if err != nil {
				return err
			}
			if err := a.Reconciler().EnsureRunning(ctx, t, core.Options{Force: reconcileForce, Reason: "cli"}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", t.ID)
			return nil
		})
	},
}

func printResults(w io.Writer, results []core.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tRESULT\tDURATION")
	failed := 0
	for _, res := range results {
		outcome := "ok"
		if res.Err != nil {
			outcome = res.Err.Error()
			failed++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", res.TargetID, outcome, res.Duration.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d targets failed", failed, len(results))
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status <target-id>",
	Short: "Show the lifecycle, instance and lock state of a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			t, err := a.Fleet().Find(args[0])
			if err != nil {
				return err
			}
			status, err := a.Reconciler().Inspect(ctx, t)
			if err != nil {
				return err
			}
			acts, err := a.Reconciler().Activations(ctx, t, 0)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				*core.Status
				Activations []time.Time `json:"activations"`
			}{status, acts})
		})
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <target-id>",
	Short: "Remove the current lock so the next run reconciles again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			t, err := a.Fleet().Find(args[0])
			if err != nil {
				return err
			}
			key, err := a.Reconciler().Unlock(ctx, t)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", key)
			return nil
		})
	},
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the configured targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printTargets(cmd.OutOrStdout(), configFrom(cmd).Fleet)
	},
}

func printTargets(w io.Writer, targets []domain.Target) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tAPI\tRESOURCE")
	for _, t := range targets {
		resource := t.ResourceID
		if !t.HasResourceID() {
			resource = fmt.Sprintf("%s/%s/%s", t.OrgName, t.SpaceName, t.AppName)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.APIURL, resource)
	}
	return tw.Flush()
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileForce, "force", false, "ignore the lock record")
	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "reconcile every target, ignoring the schedule window")
}
