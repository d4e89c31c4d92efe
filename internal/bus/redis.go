package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// BroadcastChannel and AgentChannel namespace team traffic by team name.
func BroadcastChannel(team string) string { return "courier:" + team + ":broadcast" }
func AgentChannel(team, id string) string { return "courier:" + team + ":agent:" + id }

type redisFrame struct {
	FromID   string          `json:"from_id"`
	FromName string          `json:"from_name"`
	Msg      json.RawMessage `json:"msg"`
}

// Redis is a team bus over Redis pub/sub: one broadcast channel per team
// plus one inbox channel per agent. Delivery is at most once.
type Redis struct {
	rdb  *redis.Client
	team string
	id   string
	name string

	inbound chan Envelope
	errs    chan error
	cancel  context.CancelFunc
	once    sync.Once
	done    chan struct{}
}

// NewRedis subscribes before returning, so nothing published afterwards
// is missed.
func NewRedis(ctx context.Context, opts *redis.Options, team, selfID, selfName string) (*Redis, error) {
	if team == "" {
		return nil, fmt.Errorf("team name cannot be empty")
	}
	if selfID == "" {
		return nil, fmt.Errorf("agent id cannot be empty")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	pubsub := rdb.Subscribe(ctx, BroadcastChannel(team), AgentChannel(team, selfID))
	// Two confirmations, one per channel.
	for i := 0; i < 2; i++ {
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			_ = rdb.Close()
			return nil, fmt.Errorf("redis subscribe: %w", err)
		}
	}

	subCtx, cancel := context.WithCancel(context.Background())
	b := &Redis{
		rdb:     rdb,
		team:    team,
		id:      selfID,
		name:    selfName,
		inbound: make(chan Envelope, inboundBuffer),
		errs:    make(chan error, 10),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go b.pump(subCtx, pubsub)
	return b, nil
}

func (b *Redis) pump(ctx context.Context, pubsub *redis.PubSub) {
	defer close(b.done)
	defer close(b.inbound)
	defer close(b.errs)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var f redisFrame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				select {
				case b.errs <- fmt.Errorf("bad frame on %s: %w", msg.Channel, err):
				default:
				}
				continue
			}
			if f.FromID == b.id {
				continue
			}
			select {
			case b.inbound <- Envelope{SenderID: f.FromID, SenderName: f.FromName, Raw: f.Msg}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *Redis) publish(ctx context.Context, channel string, raw []byte) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	if !json.Valid(raw) {
		return fmt.Errorf("team message is not JSON")
	}
	payload, err := json.Marshal(redisFrame{FromID: b.id, FromName: b.name, Msg: raw})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel, payload).Err()
}

func (b *Redis) Broadcast(ctx context.Context, raw []byte) error {
	return b.publish(ctx, BroadcastChannel(b.team), raw)
}

func (b *Redis) Unicast(ctx context.Context, to string, raw []byte) error {
	return b.publish(ctx, AgentChannel(b.team, to), raw)
}

func (b *Redis) Inbound() <-chan Envelope { return b.inbound }

// Errors reports frames that could not be decoded; they are skipped.
func (b *Redis) Errors() <-chan error { return b.errs }

func (b *Redis) Close() error {
	var err error
	b.once.Do(func() {
		b.cancel()
		<-b.done
		err = b.rdb.Close()
	})
	return err
}
