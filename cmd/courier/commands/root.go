package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"courier.ai/internal/printer"
	"courier.ai/internal/tuning"
)

var rootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Courier - cooperative parcel-delivery agent",
	Long: `Courier plays a grid delivery game: it senses parcels and other agents,
keeps a belief about the map, picks the parcel worth the most once decay is
priced in and walks it to a delivery station.

Several couriers cooperate over a team bus, either each planning for itself
and announcing intentions, or by electing a leader that plans for everyone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. It is called once by main.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

func SetVersionInfo(v, c, d string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// loadTuning reads path over the defaults. A missing file is only an
// error when the user named it explicitly.
func loadTuning(path string, explicit bool) (tuning.Tuning, error) {
	t, err := tuning.Load(path)
	if err == nil {
		return t, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return tuning.Defaults(), nil
	}
	return t, printer.Error(
		"Invalid configuration",
		err.Error(),
		[]string{
			"Check the YAML in " + path,
			"Run without --config to use the built-in defaults",
		},
	)
}
