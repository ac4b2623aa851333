package broker

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"omnirelay/internal/cache"
	"omnirelay/internal/metrics"
)

const (
	channelPrefix    = "omnirelay:group:"
	subscribeTimeout = 5 * time.Second
)

// Redis is a broker shared by every process connected to the same redis.
// Membership lives in redis sorted sets so it is visible cluster-wide;
// events travel over redis pub/sub, one channel per group, and each
// process dispatches them to the handles it owns.
type Redis struct {
	client *redis.Client
	groups cache.GroupCache
	pubsub *redis.PubSub

	// subMu orders channel subscribe/unsubscribe against each other;
	// mu guards local for the dispatcher.
	subMu sync.Mutex
	mu    sync.RWMutex
	local map[string]map[string]Handle // group -> handle name -> handle

	pendingMu sync.Mutex
	pending   map[string]chan struct{} // channel -> closed on subscribe confirmation

	wg sync.WaitGroup
}

// NewRedis creates a redis broker and starts its dispatcher
func NewRedis(client *redis.Client) *Redis {
	b := &Redis{
		client:  client,
		groups:  cache.NewGroupCache(client),
		pubsub:  client.Subscribe(context.Background()),
		local:   make(map[string]map[string]Handle),
		pending: make(map[string]chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

func channelName(group string) string {
	return channelPrefix + group
}

func (b *Redis) dispatch() {
	defer b.wg.Done()
	for raw := range b.pubsub.ChannelWithSubscriptions() {
		var msg *redis.Message
		switch m := raw.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				b.confirm(m.Channel)
			}
			continue
		case *redis.Message:
			msg = m
		default:
			continue
		}
		group := strings.TrimPrefix(msg.Channel, channelPrefix)

		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("broker: bad payload on %s: %v", msg.Channel, err)
			continue
		}

		b.mu.RLock()
		for _, h := range b.local[group] {
			if !h.Deliver(ev) {
				metrics.Mark("drops", 1)
				log.Printf("broker: dropped %s event for %s", ev.Type, h.Name())
			}
		}
		b.mu.RUnlock()
	}
}

func (b *Redis) Subscribe(ctx context.Context, group string, h Handle) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.mu.Lock()
	handles, ok := b.local[group]
	if !ok {
		handles = make(map[string]Handle)
		b.local[group] = handles
	}
	handles[h.Name()] = h
	b.mu.Unlock()

	// Redis ignores duplicate subscriptions, so this stays idempotent.
	if !ok {
		if err := b.subscribe(ctx, channelName(group)); err != nil {
			b.mu.Lock()
			delete(b.local, group)
			b.mu.Unlock()
			return err
		}
	}
	return b.groups.AddMember(ctx, group, h.Name())
}

// subscribe returns once redis confirmed the subscription, so a publish
// issued after Subscribe returns reaches this process.
func (b *Redis) subscribe(ctx context.Context, channel string) error {
	confirmed := make(chan struct{})
	b.pendingMu.Lock()
	b.pending[channel] = confirmed
	b.pendingMu.Unlock()

	if err := b.pubsub.Subscribe(ctx, channel); err != nil {
		b.confirm(channel)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()
	select {
	case <-confirmed:
		return nil
	case <-ctx.Done():
		b.confirm(channel)
		return ctx.Err()
	}
}

func (b *Redis) confirm(channel string) {
	b.pendingMu.Lock()
	if ch, ok := b.pending[channel]; ok {
		close(ch)
		delete(b.pending, channel)
	}
	b.pendingMu.Unlock()
}

func (b *Redis) Unsubscribe(ctx context.Context, group string, h Handle) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.mu.Lock()
	handles, ok := b.local[group]
	last := false
	if ok {
		delete(handles, h.Name())
		if len(handles) == 0 {
			delete(b.local, group)
			last = true
		}
	}
	b.mu.Unlock()

	if last {
		if err := b.pubsub.Unsubscribe(ctx, channelName(group)); err != nil {
			return err
		}
	}
	return b.groups.RemoveMember(ctx, group, h.Name())
}

func (b *Redis) Publish(ctx context.Context, group string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelName(group), data).Err()
}

func (b *Redis) Members(ctx context.Context, group string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultMemberLimit
	}
	return b.groups.Members(ctx, group, limit)
}

func (b *Redis) Get(ctx context.Context, scope, key string, dst interface{}) (bool, error) {
	return b.groups.GetValue(ctx, scope, key, dst)
}

func (b *Redis) Set(ctx context.Context, scope, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return b.groups.SetValue(ctx, scope, key, value, ttl)
}

func (b *Redis) Delete(ctx context.Context, scope, key string) error {
	return b.groups.DeleteValue(ctx, scope, key)
}

// Close stops the dispatcher. The redis client stays open.
func (b *Redis) Close() error {
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
