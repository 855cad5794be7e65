package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newAskCmd(c *cli) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			if rt.Answerer == nil {
				return errors.New("generation is not configured (set OPENAI_API_KEY)")
			}
			ans, err := rt.Answerer.Answer(cmd.Context(), args[0], k)
			if err != nil {
				return err
			}
			cmd.Println(ans.Answer)
			if len(ans.Citations) > 0 {
				cmd.Println()
				cmd.Println("Sources:")
				printResults(cmd, ans.Citations)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	return cmd
}
