package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all enrolled students",
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) {
	svc, _, err := newService(false)
	if err != nil {
		utils.Die("Failed to initialize", err, nil)
	}
	students, err := svc.Students(ctx)
	if err != nil {
		checkFatal(err, nil)
		utils.Die("Failed to list students", err, nil)
	}

	if len(students) == 0 {
		fmt.Println("No students enrolled.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "STUDENT ID\tNAME\tTRAIN\tTEST")
	fmt.Fprintln(w, "----------\t----\t-----\t----")

	for _, s := range students {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", s.Student.ID, s.Student.Name, s.TrainCount, s.TestCount)
	}
	w.Flush()
}
