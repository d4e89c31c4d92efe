package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"courier.ai/internal/arena"
	"courier.ai/internal/belief"
	"courier.ai/internal/printer"
)

var (
	mapConfig  string
	mapNoColor bool
)

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Render the arena layout from a tuning file",
	Long: `Render the arena layout the way the agent prints its belief: D marks a
delivery station, 0 a free tile and blanks are walls. The top row of the
layout is the highest y.`,
	RunE: runMap,
}

func init() {
	mapCmd.Flags().StringVarP(&mapConfig, "config", "c", "configs/tuning.yaml", "Tuning file")
	mapCmd.Flags().BoolVar(&mapNoColor, "no-color", false, "Plain output")
	rootCmd.AddCommand(mapCmd)
}

func runMap(cmd *cobra.Command, args []string) error {
	tune, err := loadTuning(mapConfig, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	layout := tune.Arena.Layout
	if len(layout) == 0 {
		layout = arena.DefaultLayout
	}
	w, h, tiles, err := arena.ParseLayout(layout)
	if err != nil {
		return printer.Error("Invalid arena layout", err.Error(), []string{"Rows must have equal length and use only . D # or space"})
	}
	v := &belief.View{Grid: belief.NewGrid(w, h, tiles)}
	fmt.Fprint(cmd.OutOrStdout(), printer.RenderMap(v, !mapNoColor))
	return nil
}
