package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ragcore/internal/domain/rag"
)

type indexFlags struct {
	force     bool
	namespace string
	actor     string
}

func (f *indexFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.force, "force", false, "clear the collection (or namespace) before writing")
	cmd.Flags().StringVar(&f.namespace, "namespace", "", "target namespace (default from config)")
	cmd.Flags().StringVar(&f.actor, "actor", os.Getenv("USER"), "actor recorded on the indexing run")
}

func (f *indexFlags) options() rag.IndexOptions {
	return rag.IndexOptions{Force: f.force, Namespace: f.namespace, Actor: f.actor}
}

func newIndexCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Ingest documents into the configured collection",
	}
	cmd.AddCommand(newIndexDocsCmd(c), newIndexURLCmd(c), newIndexDirCmd(c))
	return cmd
}

func newIndexDocsCmd(c *cli) *cobra.Command {
	var flags indexFlags
	cmd := &cobra.Command{
		Use:   "docs [file.json]",
		Short: "Index a JSON array of {id,text,metadata} documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			var docs []rag.Document
			if err := json.Unmarshal(data, &docs); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			run, err := rt.Indexer.IndexDocuments(cmd.Context(), docs, flags.options())
			return printRun(cmd, run, err)
		},
	}
	flags.register(cmd)
	return cmd
}

func newIndexURLCmd(c *cli) *cobra.Command {
	var flags indexFlags
	cmd := &cobra.Command{
		Use:   "url [url...]",
		Short: "Fetch and index one or more URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			run, err := rt.Indexer.IndexURLs(cmd.Context(), args, flags.options())
			return printRun(cmd, run, err)
		},
	}
	flags.register(cmd)
	return cmd
}

func newIndexDirCmd(c *cli) *cobra.Command {
	var flags indexFlags
	cmd := &cobra.Command{
		Use:   "dir [path]",
		Short: "Index every supported file under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			run, err := rt.Indexer.IndexDirectory(cmd.Context(), args[0], flags.options())
			return printRun(cmd, run, err)
		},
	}
	flags.register(cmd)
	return cmd
}

// printRun 失败的运行同样打印审计 ID，便于之后查询
func printRun(cmd *cobra.Command, run *rag.IndexingRun, err error) error {
	if run != nil {
		cmd.Printf("run %s: %s (documents: %d, chunks: %d)\n",
			run.ID, run.Status, run.DocumentsProcessed, run.ChunksCreated)
	}
	if err != nil {
		return fmt.Errorf("indexing failed (%s): %w", rag.KindOf(err), err)
	}
	return nil
}
