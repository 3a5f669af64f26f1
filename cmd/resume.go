package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var resumeAnswer string

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a suspended session with a reviewer answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if resumeAnswer == "" {
			return eris.New("--answer is required")
		}

		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		state, err := env.Pipeline.Resume(cmd.Context(), args[0], resumeAnswer)
		if err != nil {
			return err
		}
		printSession(state)
		return nil
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeAnswer, "answer", "", "reviewer answer to the pending question")
	rootCmd.AddCommand(resumeCmd)
}
