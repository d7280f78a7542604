package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Control channel carrying join/leave notifications from the transport edge.
const controlChannel = "control:presence"

// DefaultLeavePattern matches every control notification the gateway emits.
const DefaultLeavePattern = "control:*"

const opTimeout = 2 * time.Second

// Redis implements Publisher, PresenceStore and LeaveEventSource on a single
// Redis instance: pub/sub channels for events, one set per channel for
// presence, and a control pub/sub channel for join/leave signals.
type Redis struct {
	client *redis.Client
	log    *zap.Logger
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedis(cfg RedisConfig, log *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return &Redis{client: client, log: log}, nil
}

// NewRedisWithClient wraps an existing client. Used by tests with miniredis.
func NewRedisWithClient(client *redis.Client, log *zap.Logger) *Redis {
	return &Redis{client: client, log: log}
}

func (r *Redis) PublishBroadcast(ctx context.Context, channel string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish broadcast %s: %w", channel, err)
	}
	return nil
}

func (r *Redis) PublishPrivate(ctx context.Context, channel string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish private %s: %w", channel, err)
	}
	return nil
}

func (r *Redis) QueryPresence(ctx context.Context, channel string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	members, err := r.client.SMembers(ctx, presenceKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("query presence %s: %w", channel, err)
	}
	return members, nil
}

// Track records a participant as present on a channel. Called by the
// transport edge on connect.
func (r *Redis) Track(ctx context.Context, channel, participantID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := r.client.SAdd(ctx, presenceKey(channel), participantID).Err(); err != nil {
		return fmt.Errorf("track %s on %s: %w", participantID, channel, err)
	}
	return nil
}

// Untrack removes a participant from a channel's presence set and emits the
// matching leave signal on the control channel.
func (r *Redis) Untrack(ctx context.Context, channel, participantID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := r.client.SRem(ctx, presenceKey(channel), participantID).Err(); err != nil {
		return fmt.Errorf("untrack %s on %s: %w", participantID, channel, err)
	}
	return r.emitSignal(ctx, LeaveSignal{
		Channel:     channel,
		Participant: participantID,
		Kind:        SignalLeave,
		At:          time.Now(),
	})
}

// AnnounceJoin emits a join notification on the control channel.
func (r *Redis) AnnounceJoin(ctx context.Context, channel, participantID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.emitSignal(ctx, LeaveSignal{
		Channel:     channel,
		Participant: participantID,
		Kind:        SignalJoin,
		At:          time.Now(),
	})
}

func (r *Redis) emitSignal(ctx context.Context, sig LeaveSignal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	if err := r.client.Publish(ctx, controlChannel, data).Err(); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}
	return nil
}

// SubscribeLeaveEvents subscribes to the control namespace and decodes
// signals until ctx is cancelled. A malformed message logs and is skipped;
// the stream itself never dies on one bad payload.
func (r *Redis) SubscribeLeaveEvents(ctx context.Context, pattern string) (<-chan LeaveSignal, error) {
	sub := r.client.PSubscribe(ctx, pattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	out := make(chan LeaveSignal, 32)
	go func() {
		defer close(out)
		defer sub.Close()
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var sig LeaveSignal
				if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
					r.log.Warn("malformed control signal",
						zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Subscribe streams raw payloads from one pub/sub channel. The websocket
// gateway uses it to relay broadcast events to connected clients.
func (r *Redis) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := r.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 32)
	go func() {
		defer close(out)
		defer sub.Close()
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Ping reports broker reachability for health checks.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func presenceKey(channel string) string {
	return "presence:" + channel
}
