package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"courier.ai/internal/agent"
	"courier.ai/internal/bus"
	"courier.ai/internal/persistence/indexdb"
	plog "courier.ai/internal/persistence/log"
	"courier.ai/internal/persistence/mirror"
	"courier.ai/internal/printer"
	"courier.ai/internal/protocol"
	"courier.ai/internal/transport/ws"
	"courier.ai/internal/tuning"
)

const (
	busGame  = "game"
	busRedis = "redis"
	busNone  = "none"
)

var (
	runConfig       string
	runURL          string
	runToken        string
	runName         string
	runBus          string
	runRedis        string
	runTeam         string
	runData         string
	runPlanner      string
	runCoordination string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to a game server and play",
	Long: `Connect to a game server and play until interrupted.

Team messages travel over the game server's own relay by default. With
--bus=redis every courier of a team subscribes to a shared Redis instance
instead, which also works across game servers.

With --data set, each run writes compressed decision and message logs under
<data>/runs/<run id>/ and records deliveries, elections and plans in
<data>/index.sqlite (see "courier runs"). When COURIER_S3_ENDPOINT is set,
finished log files are also copied to that S3-compatible bucket.

Examples:
  # Play against the local arena
  courier run --url ws://localhost:8080/ws --name alpha

  # A leader-dispatch team over Redis
  courier run --name alpha --coordination leader --bus redis --team red`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runConfig, "config", "c", "configs/tuning.yaml", "Tuning file")
	runCmd.Flags().StringVar(&runURL, "url", "ws://localhost:8080/ws", "Game server websocket URL")
	runCmd.Flags().StringVar(&runToken, "token", "", "Game server token (default $COURIER_TOKEN)")
	runCmd.Flags().StringVarP(&runName, "name", "n", "", "Agent name")
	runCmd.Flags().StringVar(&runBus, "bus", busGame, "Team bus: game, redis or none")
	runCmd.Flags().StringVar(&runRedis, "redis", "redis://localhost:6379/0", "Redis URL for --bus=redis")
	runCmd.Flags().StringVar(&runTeam, "team", "courier", "Team name for --bus=redis")
	runCmd.Flags().StringVar(&runData, "data", "", "Directory for logs and the run index (empty disables)")
	runCmd.Flags().StringVar(&runPlanner, "planner", "", "Override the planner: local or solver")
	runCmd.Flags().StringVar(&runCoordination, "coordination", "", "Override coordination: distributed or leader")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	tune, err := loadTuning(runConfig, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	if err := applyRunOverrides(&tune); err != nil {
		return err
	}
	switch runBus {
	case busGame, busRedis, busNone:
	default:
		return printer.Error("Unknown team bus", fmt.Sprintf("--bus=%q", runBus), []string{"Use --bus=game, --bus=redis or --bus=none"})
	}
	token := runToken
	if token == "" {
		token = os.Getenv("COURIER_TOKEN")
	}

	ctx, cancel := signalContext()
	defer cancel()

	flags := log.LstdFlags | log.Lmicroseconds
	logger := log.New(os.Stdout, "[courier] ", flags)

	client, err := ws.Dial(ctx, gameURL(runURL, runName), token, log.New(os.Stdout, "[ws] ", flags))
	if err != nil {
		return printer.Error(
			"Cannot reach the game server",
			err.Error(),
			[]string{
				"Check --url",
				"Start a local server with: courier arena",
			},
		)
	}
	defer client.Close()

	me, sensing, err := awaitSelf(ctx, client.Sensing())
	if err != nil {
		return printer.Error("Game server sent no spawn position", err.Error(), nil)
	}

	teamBus, err := openBus(ctx, runBus, client, me)
	if err != nil {
		return printer.Error(
			"Cannot open the team bus",
			err.Error(),
			[]string{
				"Check that Redis is reachable at " + runRedis,
				"Use --bus=game to relay through the game server",
			},
		)
	}
	defer teamBus.Close()

	runID := uuid.NewString()
	deps := agent.Deps{Actuator: client, Sensing: sensing, Bus: teamBus}
	if tune.PrintMap {
		deps.OnTick = printer.PrintMap
	}
	if runData != "" {
		mirrorLog := log.New(os.Stdout, "[mirror] ", flags)
		m, err := openMirror(runData, mirrorLog)
		if err != nil {
			return printer.Error("Invalid log mirror settings", err.Error(), []string{
				"Set COURIER_S3_ENDPOINT, COURIER_S3_BUCKET, COURIER_S3_ACCESS_KEY_ID and COURIER_S3_SECRET_ACCESS_KEY",
				"Unset COURIER_S3_ENDPOINT to keep logs local",
			})
		}
		defer m.Close()
		runDir := filepath.Join(runData, "runs", runID)
		decisions := plog.NewDecisionLogger(runDir)
		decisions.OnClosed(m.Enqueue)
		defer decisions.Close()
		messages := plog.NewMessageLogger(runDir)
		messages.OnClosed(m.Enqueue)
		defer messages.Close()
		idx, err := indexdb.OpenSQLite(filepath.Join(runData, "index.sqlite"))
		if err != nil {
			return printer.Error("Cannot open the run index", err.Error(), []string{"Check that --data is writable"})
		}
		defer idx.Close()
		deps.Decisions, deps.Messages, deps.Index = decisions, messages, idx
	}

	a, err := agent.New(agent.Config{Tuning: tune, RunID: runID, Logger: logger}, deps)
	if err != nil {
		return printer.Error("Cannot start the agent", err.Error(), nil)
	}
	printer.Success("Playing as %s (%s), %s coordination, %s planner, run %s\n",
		me.ID, me.Name, tune.Coordination, tune.Planner, runID)

	err = a.Run(ctx)
	score := 0
	if self, ok := a.World().Me(); ok {
		score = self.Score
	}
	switch {
	case errors.Is(err, context.Canceled):
		printer.Info("Stopped with score %d\n", score)
		return nil
	case errors.Is(err, agent.ErrDisconnected):
		reason := "connection closed"
		if cerr := client.Err(); cerr != nil {
			reason = cerr.Error()
		}
		return printer.Error(
			"Lost the game server",
			fmt.Sprintf("%s (score %d)", reason, score),
			[]string{"Run the command again to rejoin"},
		)
	}
	return err
}

func applyRunOverrides(t *tuning.Tuning) error {
	if runPlanner != "" {
		t.Planner = runPlanner
	}
	if runCoordination != "" {
		t.Coordination = runCoordination
	}
	if err := t.Validate(); err != nil {
		return printer.Error("Invalid configuration", err.Error(), []string{
			"--planner takes local or solver",
			"--coordination takes distributed or leader",
		})
	}
	return nil
}

// gameURL adds the agent name as a query parameter.
func gameURL(raw, name string) string {
	if name == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("name", name)
	u.RawQuery = q.Encode()
	return u.String()
}

// awaitSelf holds back sensing frames until the server says who we are,
// then hands the agent a stream that starts with everything held back.
func awaitSelf(ctx context.Context, src <-chan protocol.Sensed) (protocol.AgentInfo, <-chan protocol.Sensed, error) {
	var held []protocol.Sensed
	for {
		select {
		case <-ctx.Done():
			return protocol.AgentInfo{}, nil, ctx.Err()
		case s, ok := <-src:
			if !ok {
				return protocol.AgentInfo{}, nil, errors.New("connection closed before spawn")
			}
			held = append(held, s)
			if s.Type != protocol.TypeYou || s.You == nil {
				continue
			}
			out := make(chan protocol.Sensed, len(held))
			go func() {
				defer close(out)
				for _, h := range held {
					out <- h
				}
				for s := range src {
					select {
					case out <- s:
					case <-ctx.Done():
						return
					}
				}
			}()
			return *s.You, out, nil
		}
	}
}

// openMirror returns nil when no object storage is configured.
func openMirror(dataDir string, logger *log.Logger) (*mirror.Mirror, error) {
	endpoint := os.Getenv("COURIER_S3_ENDPOINT")
	if endpoint == "" {
		return nil, nil
	}
	store, err := mirror.NewS3(mirror.S3Config{
		Endpoint:        endpoint,
		Bucket:          os.Getenv("COURIER_S3_BUCKET"),
		Region:          os.Getenv("COURIER_S3_REGION"),
		AccessKeyID:     os.Getenv("COURIER_S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("COURIER_S3_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, err
	}
	return mirror.New(store, mirror.Config{DataDir: dataDir, Prefix: os.Getenv("COURIER_S3_PREFIX")}, logger), nil
}

func openBus(ctx context.Context, kind string, client *ws.Client, me protocol.AgentInfo) (bus.Bus, error) {
	switch kind {
	case busRedis:
		opts, err := redis.ParseURL(runRedis)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		return bus.NewRedis(ctx, opts, runTeam, me.ID, me.Name)
	case busNone:
		return bus.NewNop(), nil
	}
	return bus.NewGame(client, me.ID), nil
}
