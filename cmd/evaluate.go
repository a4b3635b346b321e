package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/metrics"
	"github.com/andresmejia3/rollcall/internal/pipeline"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var evaluateJSON bool

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score the classifier on the held-out test split",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runEvaluate(cmd.Context(), evaluateJSON)
	},
}

func init() {
	evaluateCmd.Flags().BoolVar(&evaluateJSON, "json", false, "Print the full report as JSON")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(ctx context.Context, asJSON bool) error {
	svc, _, err := newService(false)
	if err != nil {
		return err
	}

	rep, err := svc.Evaluate(ctx)
	if err != nil {
		checkFatal(err, nil)
		if pipeline.KindOf(err) == pipeline.KindInternal {
			utils.ShowError("Evaluation failed", err, nil)
			return err
		}
		fmt.Printf("❌ %s\n", err)
		return nil
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"status": "success", "metrics": rep})
	}
	printReport(rep)
	return nil
}

func printReport(rep *metrics.Report) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 EVALUATION SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Printf("Accuracy:   %.4f\n", rep.Accuracy)
	fmt.Printf("Precision:  %.4f (weighted)\n", rep.Precision)
	fmt.Printf("Recall:     %.4f (weighted)\n", rep.Recall)
	fmt.Printf("F1 score:   %.4f (weighted)\n", rep.F1)
	if rep.ROCAUC != nil {
		fmt.Printf("ROC AUC:    %.4f (one-vs-rest)\n", *rep.ROCAUC)
	} else {
		fmt.Println("ROC AUC:    n/a")
	}
	fmt.Printf("Samples:    %d train, %d test, %d classes\n\n", rep.TrainSamples, rep.TestSamples, rep.UniqueClasses)

	names := make([]string, 0, len(rep.ClassificationReport.Classes))
	for name := range rep.ClassificationReport.Classes {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CLASS\tPRECISION\tRECALL\tF1\tSUPPORT")
	fmt.Fprintln(w, "-----\t---------\t------\t--\t-------")
	for _, name := range names {
		r := rep.ClassificationReport.Classes[name]
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%d\n", name, r.Precision, r.Recall, r.F1, r.Support)
	}
	m, wa := rep.ClassificationReport.MacroAvg, rep.ClassificationReport.WeightedAvg
	fmt.Fprintf(w, "macro avg\t%.2f\t%.2f\t%.2f\t%d\n", m.Precision, m.Recall, m.F1, m.Support)
	fmt.Fprintf(w, "weighted avg\t%.2f\t%.2f\t%.2f\t%d\n", wa.Precision, wa.Recall, wa.F1, wa.Support)
	w.Flush()

	fmt.Println("\nConfusion matrix (rows: true, columns: predicted):")
	for _, row := range rep.ConfusionMatrix {
		fmt.Println(row)
	}
}
