package broker

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"omnirelay/internal/metrics"
)

type commandType int

const (
	cmdSubscribe commandType = iota
	cmdUnsubscribe
	cmdPublish
)

type command struct {
	cmd    commandType
	group  string
	handle Handle
	event  Event
	done   chan struct{}
}

type entry struct {
	data    []byte
	expires time.Time
}

// Memory is a single-process broker. All membership changes and publishes
// go through one ordered queue, so a publish issued before a subscribe is
// never delivered to that subscriber.
type Memory struct {
	queue  chan command
	groups map[string]map[string]Handle // group -> handle name -> handle

	mu      sync.RWMutex
	members map[string][]string // snapshot for Members
	values  map[string]entry

	closeOnce sync.Once
	closed    chan struct{}
	stopped   chan struct{}
}

// NewMemory creates a memory broker and starts its dispatch loop
func NewMemory() *Memory {
	m := &Memory{
		queue:   make(chan command, 256),
		groups:  make(map[string]map[string]Handle),
		members: make(map[string][]string),
		values:  make(map[string]entry),
		closed:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Memory) run() {
	defer close(m.stopped)
	for {
		select {
		case cmd := <-m.queue:
			m.handle(cmd)
		case <-m.closed:
			return
		}
	}
}

func (m *Memory) handle(cmd command) {
	switch cmd.cmd {
	case cmdSubscribe:
		if m.groups[cmd.group] == nil {
			m.groups[cmd.group] = make(map[string]Handle)
		}
		m.groups[cmd.group][cmd.handle.Name()] = cmd.handle
		m.snapshot(cmd.group)
	case cmdUnsubscribe:
		if handles, ok := m.groups[cmd.group]; ok {
			delete(handles, cmd.handle.Name())
			if len(handles) == 0 {
				delete(m.groups, cmd.group)
			}
			m.snapshot(cmd.group)
		}
	case cmdPublish:
		for _, h := range m.groups[cmd.group] {
			if !h.Deliver(cmd.event) {
				metrics.Mark("drops", 1)
				log.Printf("broker: dropped %s event for %s", cmd.event.Type, h.Name())
			}
		}
	}
	if cmd.done != nil {
		close(cmd.done)
	}
}

func (m *Memory) snapshot(group string) {
	names := make([]string, 0, len(m.groups[group]))
	for name := range m.groups[group] {
		names = append(names, name)
	}
	sort.Strings(names)

	m.mu.Lock()
	if len(names) == 0 {
		delete(m.members, group)
	} else {
		m.members[group] = names
	}
	m.mu.Unlock()
}

func (m *Memory) send(ctx context.Context, cmd command, wait bool) error {
	if wait {
		cmd.done = make(chan struct{})
	}
	select {
	case m.queue <- cmd:
	case <-m.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	if !wait {
		return nil
	}
	select {
	case <-cmd.done:
		return nil
	case <-m.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Subscribe(ctx context.Context, group string, h Handle) error {
	return m.send(ctx, command{cmd: cmdSubscribe, group: group, handle: h}, true)
}

func (m *Memory) Unsubscribe(ctx context.Context, group string, h Handle) error {
	return m.send(ctx, command{cmd: cmdUnsubscribe, group: group, handle: h}, true)
}

func (m *Memory) Publish(ctx context.Context, group string, ev Event) error {
	return m.send(ctx, command{cmd: cmdPublish, group: group, event: ev}, false)
}

func (m *Memory) Members(ctx context.Context, group string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultMemberLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := m.members[group]
	if len(names) > limit {
		names = names[:limit]
	}
	return append([]string(nil), names...), nil
}

func valueKey(scope, key string) string {
	return scope + ":" + key
}

func (m *Memory) Get(ctx context.Context, scope, key string, dst interface{}) (bool, error) {
	m.mu.RLock()
	e, ok := m.values[valueKey(scope, key)]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if time.Now().After(e.expires) {
		m.Delete(ctx, scope, key)
		return false, nil
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Memory) Set(ctx context.Context, scope, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.values[valueKey(scope, key)] = entry{data: data, expires: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, scope, key string) error {
	m.mu.Lock()
	delete(m.values, valueKey(scope, key))
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	<-m.stopped
	return nil
}
