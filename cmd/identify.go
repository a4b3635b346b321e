package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/pipeline"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <image_path>",
	Short: "Identify the enrolled students in a photo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runIdentify(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(ctx context.Context, imagePath string) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	img, err := utils.LoadImage(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	svc, engine, err := newService(true)
	if err != nil {
		utils.ShowError("Failed to start AI engine", err, nil)
		return err
	}
	defer engine.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	results, err := svc.Identify(ctx, img)
	if err != nil {
		checkFatal(err, engine)
		if pipeline.KindOf(err) == pipeline.KindInternal {
			utils.ShowError("Identification failed", err, engine.Cmd())
			return err
		}
		fmt.Printf("❌ %s\n", err)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTUDENT ID\tCONFIDENCE\tEMOTION")
	fmt.Fprintln(w, "----\t----------\t----------\t-------")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%.2f%%\t%s\n", r.Name, r.StudentID, r.Confidence, r.Emotion)
	}
	w.Flush()
	return nil
}
