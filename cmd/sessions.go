package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/knowledge-cli/internal/model"
	"github.com/sells-group/knowledge-cli/internal/store"
)

var (
	sessionsStatus string
	sessionsLimit  int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List ingestion sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		states, err := st.ListSessions(cmd.Context(), store.SessionFilter{
			Status: model.SessionStatus(sessionsStatus),
			Limit:  sessionsLimit,
		})
		if err != nil {
			return err
		}

		if len(states) == 0 {
			fmt.Println("no sessions")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tDATASET\tFILE\tSTATUS\tPHASE\tUPDATED")
		for _, s := range states {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.SessionID, s.DatasetID, s.FilePath, s.Status, s.Phase,
				s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsStatus, "status", "", "filter by status (in_progress, suspended, completed, failed)")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 0, "max sessions to list")
	rootCmd.AddCommand(sessionsCmd)
}
