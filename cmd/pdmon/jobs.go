package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridsense/pdmon/internal/scheduler"
	"github.com/gridsense/pdmon/internal/services"
	"github.com/spf13/cobra"
)

// jobCommands returns one command per job that runs it once and exits
func jobCommands(rt *runtime) []*cobra.Command {
	specs := []struct {
		use   string
		job   string
		short string
	}{
		{"sync", services.JobSampleSync, "Pull and ingest new samples for every point once"},
		{"sweep", services.JobOfflineSweep, "Run the offline/recovery sweep once"},
		{"reset-alarms", services.JobAlarmReset, "Clear alarm levels whose reset delay has passed"},
		{"registry", services.JobRegistrySync, "Mirror the source point registry once"},
	}

	cmds := make([]*cobra.Command, 0, len(specs))
	for _, spec := range specs {
		job := spec.job
		cmds = append(cmds, &cobra.Command{
			Use:   spec.use,
			Short: spec.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOnce(rt, job)
			},
		})
	}
	return cmds
}

func runOnce(rt *runtime, job string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if job == services.JobRegistrySync {
		// one-shot runs always allow the registry job
		rt.cfg.Registry.Enabled = true
	}

	database, err := rt.openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	serviceProvider := services.NewServiceProvider(rt.logger, rt.cfg, database)
	if err := serviceProvider.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer serviceProvider.Shutdown()

	result, err := serviceProvider.RunJob(ctx, job)
	if err != nil {
		return err
	}

	printResult(result)
	if !result.Success {
		return fmt.Errorf("%s failed: %s", job, result.Error)
	}
	return nil
}

func printResult(r *scheduler.Result) {
	status := "ok"
	if !r.Success {
		status = "failed"
	}
	fmt.Printf("%s %s in %s: %s\n", r.Job, status, r.Duration().Round(time.Millisecond), r.Summary)
}
