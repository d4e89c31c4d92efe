package commands

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"courier.ai/internal/arena"
	"courier.ai/internal/printer"
	"courier.ai/internal/transport/ws"
	"courier.ai/internal/tuning"
)

var (
	arenaAddr   string
	arenaConfig string
	arenaSeed   int64
)

var arenaCmd = &cobra.Command{
	Use:   "arena",
	Short: "Serve a local delivery game for development runs",
	Long: `Serve a small delivery game over websocket so couriers can be run and
compared without the real game server.

Endpoints:
  /ws       game connection (?name=<agent name>)
  /healthz  liveness
  /metrics  Prometheus text: tick, agents, parcels, delivered`,
	RunE: runArena,
}

func init() {
	arenaCmd.Flags().StringVar(&arenaAddr, "addr", ":8080", "HTTP listen address")
	arenaCmd.Flags().StringVarP(&arenaConfig, "config", "c", "configs/tuning.yaml", "Tuning file (arena section)")
	arenaCmd.Flags().Int64Var(&arenaSeed, "seed", 0, "Parcel spawn seed (0 = time based)")
	rootCmd.AddCommand(arenaCmd)
}

func arenaConfigFrom(t tuning.Arena, seed int64) (arena.Config, error) {
	layout := t.Layout
	if len(layout) == 0 {
		layout = arena.DefaultLayout
	}
	w, h, tiles, err := arena.ParseLayout(layout)
	if err != nil {
		return arena.Config{}, err
	}
	return arena.Config{
		Width:                 w,
		Height:                h,
		Tiles:                 tiles,
		TickRateHz:            t.TickRateHz,
		ObsRadius:             t.ObsRadius,
		ParcelSpawnEveryTicks: t.ParcelSpawnEveryTicks,
		MaxParcels:            t.MaxParcels,
		RewardMin:             t.RewardMin,
		RewardMax:             t.RewardMax,
		DecayEveryTicks:       t.DecayEveryTicks,
		Seed:                  seed,
	}, nil
}

func arenaMux(w *arena.World, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewServer(w, logger).Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := w.Metrics()
		if m.Tick == 0 {
			m.Tick = w.CurrentTick()
		}
		gauge := func(name, help string, v any) {
			fmt.Fprintf(rw, "# HELP courier_arena_%s %s\n", name, help)
			fmt.Fprintf(rw, "# TYPE courier_arena_%s gauge\n", name)
			fmt.Fprintf(rw, "courier_arena_%s %v\n", name, v)
		}
		gauge("tick", "Current arena tick.", m.Tick)
		gauge("agents", "Connected agents.", m.Agents)
		gauge("parcels", "Parcels on the map or carried.", m.Parcels)
		gauge("delivered", "Parcels delivered since start.", m.Delivered)
	})
	return mux
}

func runArena(cmd *cobra.Command, args []string) error {
	tune, err := loadTuning(arenaConfig, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	cfg, err := arenaConfigFrom(tune.Arena, arenaSeed)
	if err != nil {
		return printer.Error("Invalid arena layout", err.Error(), []string{"Fix arena.layout in " + arenaConfig})
	}
	w, err := arena.New(cfg)
	if err != nil {
		return printer.Error("Cannot build the arena", err.Error(), nil)
	}

	logger := log.New(os.Stdout, "[arena] ", log.LstdFlags|log.Lmicroseconds)
	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("arena stopped: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:              arenaAddr,
		Handler:           arenaMux(w, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	printer.Success("Arena %dx%d listening on %s\n", cfg.Width, cfg.Height, arenaAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return printer.Error("Arena server failed", err.Error(), []string{"Pick another --addr"})
	}
	return nil
}
