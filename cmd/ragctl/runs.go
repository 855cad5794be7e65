package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ragcore/internal/domain/rag"
)

func newRunsCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "List recent indexing runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				run, err := rt.Audit.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("indexing run %s not found", args[0])
				}
				printRunDetail(cmd, run)
				return nil
			}

			runs, err := rt.Audit.ListRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				cmd.Println("No indexing runs.")
				return nil
			}
			for _, run := range runs {
				cmd.Printf("%s  %-20s %-11s %-18s chunks=%d\n",
					run.StartedAt.Format(time.DateTime), run.OperationType, run.Status, run.Collection, run.ChunksCreated)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	return cmd
}

func printRunDetail(cmd *cobra.Command, run *rag.IndexingRun) {
	cmd.Printf("id:         %s\n", run.ID)
	cmd.Printf("operation:  %s\n", run.OperationType)
	cmd.Printf("status:     %s\n", run.Status)
	cmd.Printf("collection: %s\n", run.Collection)
	if run.Namespace != "" {
		cmd.Printf("namespace:  %s\n", run.Namespace)
	}
	cmd.Printf("force:      %t\n", run.Force)
	if run.Actor != "" {
		cmd.Printf("actor:      %s\n", run.Actor)
	}
	cmd.Printf("documents:  %d\n", run.DocumentsProcessed)
	cmd.Printf("chunks:     %d\n", run.ChunksCreated)
	cmd.Printf("started:    %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		cmd.Printf("completed:  %s\n", run.CompletedAt.Format(time.RFC3339))
	}
	if run.ErrorMessage != "" {
		cmd.Printf("error:      %s\n", run.ErrorMessage)
	}
}
