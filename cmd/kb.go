package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var kbID string

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Inspect the knowledge base",
}

var kbShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Dump a knowledge base as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		id := kbID
		if id == "" {
			id = cfg.Pipeline.KnowledgeBaseID
		}

		kb, err := st.LoadKnowledgeBase(cmd.Context(), id)
		if err != nil {
			return err
		}
		if kb == nil {
			return eris.Errorf("knowledge base %q does not exist yet", id)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(kb); err != nil {
			return eris.Wrap(err, "encode knowledge base")
		}

		fmt.Fprintf(os.Stderr, "version %d: %d definitions, %d relationships, %d hierarchy entries\n",
			kb.Version, len(kb.Definitions), len(kb.Relationships), len(kb.Hierarchy))
		return nil
	},
}

func init() {
	kbShowCmd.Flags().StringVar(&kbID, "id", "", "knowledge base ID (default from config)")
	kbCmd.AddCommand(kbShowCmd)
	rootCmd.AddCommand(kbCmd)
}
