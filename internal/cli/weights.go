package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/persona-state/internal/engine"
	"github.com/rcliao/persona-state/internal/scoring"
)

func init() {
	weightsCmd := &cobra.Command{
		Use:   "weights",
		Short: "Show or adapt the salience weight vector",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current weights",
		Run:   runWeightsShow,
	}

	adaptCmd := &cobra.Command{
		Use:   "adapt",
		Short: "Apply feedback deltas, renormalize and persist the weights",
		Run:   runWeightsAdapt,
	}
	adaptCmd.Flags().Float64("activation", 0, "Activation delta")
	adaptCmd.Flags().Float64("emotion", 0, "Emotion delta")
	adaptCmd.Flags().Float64("narrative", 0, "Narrative delta")
	adaptCmd.Flags().Float64("relational", 0, "Relational delta")

	weightsCmd.AddCommand(showCmd, adaptCmd)
	RootCmd.AddCommand(weightsCmd)
}

func runWeightsShow(cmd *cobra.Command, args []string) {
	pkg, _ := openPackage()
	w, err := engine.LoadWeights(pkg)
	if err != nil {
		exitErr("load weights", err)
	}
	if textFormat() {
		fmt.Printf("activation  %.4f\nemotion     %.4f\nnarrative   %.4f\nrelational  %.4f\n",
			w.Activation, w.Emotion, w.Narrative, w.Relational)
		return
	}
	printJSON(w)
}

func runWeightsAdapt(cmd *cobra.Command, args []string) {
	var d scoring.WeightDeltas
	d.ActivationDelta, _ = cmd.Flags().GetFloat64("activation")
	d.EmotionDelta, _ = cmd.Flags().GetFloat64("emotion")
	d.NarrativeDelta, _ = cmd.Flags().GetFloat64("narrative")
	d.RelationalDelta, _ = cmd.Flags().GetFloat64("relational")

	pkg, _ := openPackage()
	w, err := engine.AdaptWeights(cmd.Context(), pkg, d)
	if err != nil {
		exitErr("adapt weights", err)
	}
	printJSON(w)
}
