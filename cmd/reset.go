package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the model snapshot and the saved face crops",
	Run: func(cmd *cobra.Command, args []string) {
		reader := bufio.NewReader(os.Stdin)
		if !resetYes && !confirm(reader, "⚠️  Are you sure you want to delete every enrolled student and the trained model?") {
			fmt.Println("Aborted.")
			return
		}

		svc, _, err := newService(false)
		if err != nil {
			utils.Die("Failed to initialize", err, nil)
		}
		fmt.Println("🗑️  Clearing model snapshot and face crops...")
		if err := svc.Reset(cmd.Context()); err != nil {
			utils.Die("Failed to reset", err, nil)
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
