package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/supplyops/opsconsole/internal/common/uuid"
)

const (
	defaultRedisPrefix    = "opsctl:"
	defaultRedisOpTimeout = 2 * time.Second
)

// RedisOptions configures a Redis backend.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Prefix    string
	OpTimeout time.Duration
}

// redisEvent is the message published on the origin's event channel.
type redisEvent struct {
	Source  string `json:"source"`
	Key     string `json:"key"`
	Value   string `json:"value"`
	Present bool   `json:"present"`
}

// Redis keeps the values of one origin in Redis and announces every write on
// a pub/sub channel so that other handles, in any process, can follow along.
type Redis struct {
	client    *redis.Client
	ownClient bool
	source    string
	keyPrefix string
	channel   string
	timeout   time.Duration

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

var _ Storage = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection with a few retries.
func NewRedis(origin string, opts RedisOptions) (*Redis, error) {
	if opts.Addr == "" {
		return nil, errors.Wrap(ErrInvalidOptions, "redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	r := newRedis(client, origin, opts)
	r.ownClient = true

	err := retry.Do(func() error {
		ctx, cancel := r.opContext()
		defer cancel()
		return client.Ping(ctx).Err()
	}, retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Str("addr", opts.Addr).Msg("redis ping failed")
		}))
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "unable to connect to redis")
	}
	return r, nil
}

// NewRedisWithClient wraps an existing client. The client is not closed by Close.
func NewRedisWithClient(client *redis.Client, origin string, opts RedisOptions) *Redis {
	return newRedis(client, origin, opts)
}

func newRedis(client *redis.Client, origin string, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = defaultRedisPrefix
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultRedisOpTimeout
	}
	base := opts.Prefix + origin + ":"
	return &Redis{
		client:    client,
		source:    uuid.New().String(),
		keyPrefix: base,
		channel:   base + "events",
		timeout:   opts.OpTimeout,
	}
}

func (r *Redis) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *Redis) Get(key string) (string, bool, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	v, err := r.client.Get(ctx, r.keyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "redis get")
	}
	return v, true, nil
}

func (r *Redis) Set(key, value string) error {
	return r.write(redisEvent{Key: key, Value: value, Present: true})
}

func (r *Redis) Remove(key string) error {
	return r.write(redisEvent{Key: key})
}

func (r *Redis) write(ev redisEvent) error {
	if r.isClosed() {
		return ErrClosed
	}
	ctx, cancel := r.opContext()
	defer cancel()

	ev.Source = r.source
	msg, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode redis event")
	}
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		if ev.Present {
			p.Set(ctx, r.keyPrefix+ev.Key, ev.Value, 0)
		} else {
			p.Del(ctx, r.keyPrefix+ev.Key)
		}
		p.Publish(ctx, r.channel, msg)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "redis write")
	}
	return nil
}

// Watch subscribes to the origin's event channel. The subscription is confirmed
// before Watch returns so no later write is missed.
func (r *Redis) Watch(fn func(Event)) (func(), error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	ctx, cancel := r.opContext()
	defer cancel()

	sub := r.client.Subscribe(context.Background(), r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, errors.Wrap(err, "redis subscribe")
	}

	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	go func() {
		for msg := range sub.Channel() {
			var ev redisEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Debug().Err(err).Str("channel", msg.Channel).Msg("dropping malformed storage event")
				continue
			}
			if ev.Source == r.source {
				continue
			}
			fn(Event{Key: ev.Key, Value: ev.Value, Present: ev.Present})
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { sub.Close() }) }, nil
}

func (r *Redis) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	if r.ownClient {
		return r.client.Close()
	}
	return nil
}
