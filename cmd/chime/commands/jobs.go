package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/quenby/chime/job"
	"github.com/quenby/chime/schedule"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage job definitions",
	Long: `Inspect and manage job definitions in the Chime database.

Changes made here are picked up by a running daemon at its next startup;
use the HTTP API to mutate jobs on a live daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		defs, err := job.NewStore(database).List(context.Background())
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			pterm.Info.Println("No jobs configured")
			return nil
		}

		now := time.Now().UTC()
		data := pterm.TableData{{"ID", "NAME", "COMMAND", "ENABLED", "NEXT RUN", "NOTE"}}
		for _, def := range defs {
			data = append(data, []string{
				def.ID.String()[:8],
				def.Name,
				def.CommandType,
				fmt.Sprintf("%t", def.Enabled),
				formatNextRun(def, now),
				def.DisabledReason,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func formatNextRun(def *job.Definition, now time.Time) string {
	next := def.NextRun(now)
	if schedule.IsNever(next) || !def.Runnable() {
		return "-"
	}
	return fmt.Sprintf("%s (in %s)",
		next.Format("2006-01-02 15:04:05"),
		next.Sub(now).Round(time.Second))
}

var jobsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import job definitions from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		imported, err := job.ImportFile(context.Background(), job.NewStore(database), args[0])
		if err != nil {
			return err
		}
		pterm.Success.Printf("Imported %d job(s) from %s\n", len(imported), args[0])
		for _, def := range imported {
			pterm.Info.Printf("  %s  %s\n", def.ID.String()[:8], def.Name)
		}
		return nil
	},
}

var jobsEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleJob(args[0], true)
	},
}

var jobsDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleJob(args[0], false)
	},
}

func toggleJob(rawID string, enabled bool) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid job id %q", rawID)
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	if err := job.NewStore(database).SetEnabled(context.Background(), id, enabled); err != nil {
		return err
	}
	if enabled {
		pterm.Success.Printf("Job %s enabled\n", rawID)
	} else {
		pterm.Success.Printf("Job %s disabled\n", rawID)
	}
	return nil
}

var jobsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a job",
	Long:  `Soft-delete a job. Its execution history is kept.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id %q", args[0])
		}

		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		if err := job.NewStore(database).Delete(context.Background(), id); err != nil {
			return err
		}
		pterm.Success.Printf("Job %s deleted\n", args[0])
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsLsCmd)
	jobsCmd.AddCommand(jobsImportCmd)
	jobsCmd.AddCommand(jobsEnableCmd)
	jobsCmd.AddCommand(jobsDisableCmd)
	jobsCmd.AddCommand(jobsRmCmd)
}
