package eventbus

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"voxloop-server-go/internal/platform/errors"
)

// SinkConfig configures the Redis event sink.
type SinkConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Key      string
	MaxLen   int64
}

// envelope is the wire shape of one exported event.
type envelope struct {
	Topic string      `json:"topic"`
	At    time.Time   `json:"at"`
	Data  interface{} `json:"data"`
}

// RedisSink forwards bus events to a capped Redis list so external
// collaborators can persist conversation history without coupling to the
// pipeline process.
type RedisSink struct {
	client   *redis.Client
	key      string
	maxLen   int64
	handlers map[string]interface{}
}

// NewRedisSink connects and verifies the Redis backend.
func NewRedisSink(ctx context.Context, cfg SinkConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(errors.KindBootstrap, "redis_sink", "ping redis", err)
	}

	key := cfg.Key
	if key == "" {
		key = "voxloop:events"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}

	return &RedisSink{
		client:   client,
		key:      key,
		maxLen:   maxLen,
		handlers: make(map[string]interface{}),
	}, nil
}

// Attach subscribes the sink to every pipeline topic on the bus.
func (s *RedisSink) Attach(bus *Bus) error {
	topics := []string{
		TopicTurnStarted,
		TopicTurnEnded,
		TopicTurnState,
		TopicAssistantDelta,
		TopicToolInvoked,
		TopicPipelineError,
	}
	for _, topic := range topics {
		topic := topic
		handler := func(data interface{}) {
			s.export(topic, data)
		}
		if err := bus.Subscribe(topic, handler); err != nil {
			return errors.Wrap(errors.KindBootstrap, "redis_sink",
				"subscribe "+topic, err)
		}
		s.handlers[topic] = handler
	}
	return nil
}

// Detach removes the sink's subscriptions.
func (s *RedisSink) Detach(bus *Bus) {
	for topic, handler := range s.handlers {
		_ = bus.Unsubscribe(topic, handler)
	}
	s.handlers = make(map[string]interface{})
}

func (s *RedisSink) export(topic string, data interface{}) {
	payload, err := sonic.Marshal(envelope{Topic: topic, At: time.Now(), Data: data})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key, payload)
	pipe.LTrim(ctx, s.key, -s.maxLen, -1)
	_, _ = pipe.Exec(ctx)
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
