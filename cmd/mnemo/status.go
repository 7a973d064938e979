package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/thebtf/mnemo/internal/config"
	"github.com/thebtf/mnemo/pkg/client"
)

var (
	statusProject string
	statusHere    bool
	statusWait    time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return status(cmd.Context())
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusProject, "project", "", "Count observations for this project only")
	statusCmd.Flags().BoolVar(&statusHere, "here", false, "Use the project derived from the current directory")
	statusCmd.Flags().DurationVar(&statusWait, "wait", 0, "Wait up to this long for the worker to become ready")
	rootCmd.AddCommand(statusCmd)
}

func status(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.Default()
	}
	c := client.New(cfg.WorkerHost, config.GetWorkerPort())

	if statusWait > 0 {
		if err := c.WaitReady(ctx, statusWait); err != nil {
			return err
		}
	}
	health, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("worker not running: %w", err)
	}

	project := statusProject
	if statusHere {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		project = client.ProjectID(cwd)
	}

	fmt.Printf("status:   %s\n", health.Status)
	fmt.Printf("version:  %s\n", health.Version)
	fmt.Printf("uptime:   %s\n", health.Uptime)
	if !health.Ready() {
		return nil
	}

	stats, err := c.Stats(ctx, project)
	if err != nil {
		return err
	}
	if project != "" {
		fmt.Printf("project:  %s\n", project)
	}
	fmt.Printf("observations: %d\n", stats.Observations)
	fmt.Printf("sessions today: %d\n", stats.SessionsToday)
	fmt.Printf("projects: %d\n", len(stats.Projects))

	statuses := make([]string, 0, len(stats.Queue))
	for s := range stats.Queue {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Printf("queue %s: %d\n", s, stats.Queue[s])
	}
	return nil
}
