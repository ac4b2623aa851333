package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"omnirelay/internal/broker"
	"omnirelay/internal/metrics"
	"omnirelay/internal/model"
	"omnirelay/internal/service"
)

// Conn is one connection's protocol state. It is only touched by the
// goroutine running Serve; other connections reach it through the broker.
type Conn struct {
	relay     *Relay
	transport Transport
	name      string
	shortName string

	inbox chan broker.Event
	kicks chan broker.Event
	done  chan struct{}

	authorized bool
	// host holds a live scope; released in teardown even before authorized
	hostScope bool
	role      model.Role
	svc       *model.Service
	scope     *model.Scope

	hostGroup   string
	clientGroup string
	guestGroup  string
}

type frame struct {
	data []byte
	err  error
}

// Name is the unique handle name the broker knows this connection by
func (c *Conn) Name() string {
	return c.name
}

// ShortName is the display name other endpoints see
func (c *Conn) ShortName() string {
	return c.shortName
}

// Deliver queues a broker event without blocking. Kicks get their own
// slot so a full inbox cannot swallow them.
func (c *Conn) Deliver(ev broker.Event) bool {
	if ev.Type == broker.EventKick {
		select {
		case c.kicks <- ev:
		default:
		}
		return true
	}
	select {
	case c.inbox <- ev:
		return true
	default:
		return false
	}
}

func (c *Conn) String() string {
	return "[" + c.shortName + "]"
}

func (c *Conn) myGroup() string {
	if c.role == model.RoleHost {
		return c.hostGroup
	}
	return c.clientGroup
}

func (c *Conn) otherGroup() string {
	if c.role == model.RoleHost {
		return c.clientGroup
	}
	return c.hostGroup
}

// Serve runs the connection until either side closes it or ctx ends.
// Teardown runs on every exit path.
func (c *Conn) Serve(ctx context.Context) {
	log.Printf("+ %s Connected", c)

	code := CloseAbnormal
	defer func() {
		close(c.done)
		c.disconnect(code)
	}()

	if err := c.transport.Send(message{Type: typeConnect, Message: msgWelcome}); err != nil {
		code = CloseCode(err)
		return
	}

	frames := make(chan frame)
	go c.readLoop(frames)

	for {
		var err error
		select {
		case f := <-frames:
			if f.err != nil {
				code = CloseCode(f.err)
				return
			}
			metrics.Incr("conn.recv", 1)
			err = c.receive(ctx, f.data)
		case ev := <-c.kicks:
			err = c.handle(ev)
		case ev := <-c.inbox:
			err = c.handle(ev)
		case <-ctx.Done():
			c.transport.Close(CloseGoingAway)
			code = CloseGoingAway
			return
		}
		if err != nil {
			code = CloseCode(err)
			return
		}
	}
}

func (c *Conn) readLoop(frames chan<- frame) {
	for {
		data, err := c.transport.Receive()
		select {
		case frames <- frame{data: data, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Conn) send(v interface{}) error {
	if err := c.transport.Send(v); err != nil {
		return err
	}
	metrics.Incr("conn.send", 1)
	return nil
}

// close ends the connection with code. The returned error carries the code
// back to Serve.
func (c *Conn) close(code int) error {
	if err := c.transport.Close(code); err != nil {
		log.Printf("%s close error: %v", c, err)
	}
	return &CloseError{Code: code}
}

// fail reports a protocol or authorization error and closes
func (c *Conn) fail(text string) error {
	if err := c.send(message{Type: typeError, Message: text}); err != nil {
		return err
	}
	return c.close(CloseNormal)
}

func (c *Conn) publish(ctx context.Context, group string, ev broker.Event) {
	if err := c.relay.broker.Publish(ctx, group, ev); err != nil {
		log.Printf("%s publish %s to '%s': %v", c, ev.Type, group, err)
	}
}

func (c *Conn) receive(ctx context.Context, data []byte) error {
	var content map[string]interface{}
	if err := json.Unmarshal(data, &content); err != nil || content == nil {
		log.Printf("> %s %s", c, data)
		return c.fail(msgMalformed)
	}

	if !c.authorized {
		log.Printf("> %s %s", c, data)
		return c.authenticate(ctx, content)
	}

	if c.role != model.RoleHost {
		content["user"] = c.shortName
	}
	c.publish(ctx, c.otherGroup(), broker.Event{Type: broker.EventSend, Data: content})
	return nil
}

func (c *Conn) authenticate(ctx context.Context, content map[string]interface{}) error {
	raw, ok := content["token"]
	if !ok || isEmptyValue(raw) {
		return c.fail(msgUnauthorized)
	}
	token, _ := raw.(string)
	if token == "" {
		metrics.Mark("auth.failed", 1)
		return c.fail(msgInvalidToken)
	}

	svc, role, err := c.relay.tokens.ResolveToken(ctx, token)
	if err != nil {
		if !errors.Is(err, service.ErrNotFound) && !errors.Is(err, service.ErrPublicCodeDisabled) {
			log.Printf("%s resolving token: %v", c, err)
		}
		metrics.Mark("auth.failed", 1)
		return c.fail(msgInvalidToken)
	}
	c.svc = svc
	c.role = role

	life := c.relay.lifecycle
	var scope *model.Scope
	if role == model.RoleHost {
		if life.EvictsHosts(svc) {
			if err := c.evictHosts(ctx, token); err != nil {
				log.Printf("%s evicting hosts: %v", c, err)
			}
		}
		scope, err = life.OnHostAuthenticated(ctx, svc)
	} else {
		scope, err = life.Lookup(ctx, svc, role, token)
	}
	if err != nil {
		log.Printf("%s resolving scope: %v", c, err)
		return c.fail(msgUnableToJoin)
	}
	if scope == nil {
		return c.fail(msgUnableToJoin)
	}
	c.bind(scope)
	c.hostScope = role == model.RoleHost

	if role == model.RoleHost && svc.AllowPublicCode {
		if err := c.send(message{Type: typeCode, Code: scope.Code}); err != nil {
			return err
		}
		log.Printf("$ %s Created new session: %s", c, scope.Code)
	}

	if err := c.subscribe(ctx, c.myGroup()); err != nil {
		return c.fail(msgUnableToJoin)
	}
	if role == model.RoleGuest {
		if err := c.subscribe(ctx, c.guestGroup); err != nil {
			return c.fail(msgUnableToJoin)
		}
		if err := life.OnGuestJoined(ctx, svc, scope); err != nil {
			log.Printf("%s recording visitor: %v", c, err)
		}
	}
	if role == model.RoleHost {
		if err := c.relay.broker.Set(ctx, c.hostGroup, HostNameKey, c.shortName, broker.DefaultTTL); err != nil {
			log.Printf("%s storing host name: %v", c, err)
		}
	}

	c.authorized = true
	metrics.Mark("auth."+role.Title(), 1)

	if err := c.send(message{Type: typeAuthorized, Message: "Authorized as " + role.Title()}); err != nil {
		return err
	}

	join := broker.Event{Type: broker.EventJoin, Role: role.Title(), User: c.shortName}
	if name, ok := content["name"].(string); ok {
		join.Name = &name
	}
	c.publish(ctx, c.otherGroup(), join)
	return nil
}

// isEmptyValue reports whether a decoded JSON value carries nothing:
// null, false, zero, or an empty string, array or object.
func isEmptyValue(v interface{}) bool {
	switch v := v.(type) {
	case nil:
		return true
	case bool:
		return !v
	case float64:
		return v == 0
	case string:
		return v == ""
	case []interface{}:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	}
	return false
}

// evictHosts tells the hosts bound to the service's live scope to leave.
// The kick is published before this connection subscribes and carries its
// name, so the new host never acts on it.
func (c *Conn) evictHosts(ctx context.Context, token string) error {
	current, err := c.relay.lifecycle.Lookup(ctx, c.svc, model.RoleHost, token)
	if err != nil || current == nil {
		return err
	}
	metrics.Mark("evictions", 1)
	group := broker.GroupName(model.RoleHost.Title(), current.Key, current.Code)
	return c.relay.broker.Publish(ctx, group, broker.Event{Type: broker.EventKick, Message: msgKicked, Origin: c.name})
}

func (c *Conn) bind(scope *model.Scope) {
	c.scope = scope
	c.hostGroup = broker.GroupName(model.RoleHost.Title(), scope.Key, scope.Code)
	c.clientGroup = broker.GroupName(model.RoleClient.Title(), scope.Key, scope.Code)
	c.guestGroup = broker.GroupName(model.RoleGuest.Title(), scope.Key, scope.Code)
}

func (c *Conn) subscribe(ctx context.Context, group string) error {
	if err := c.relay.broker.Subscribe(ctx, group, c); err != nil {
		log.Printf("%s subscribe to '%s': %v", c, group, err)
		return err
	}
	log.Printf("+ %s Subscribed to '%s'", c, group)
	return nil
}

// handle turns a broker event into an outbound message
func (c *Conn) handle(ev broker.Event) error {
	switch ev.Type {
	case broker.EventSend:
		return c.send(ev.Data)
	case broker.EventJoin:
		return c.send(message{Type: typeJoin, Role: ev.Role, User: ev.User, Name: ev.Name})
	case broker.EventLeave:
		return c.send(message{Type: typeLeave, Role: ev.Role, User: ev.User})
	case broker.EventKick:
		if ev.Origin == c.name {
			return nil
		}
		if err := c.send(message{Type: typeDisconnect, Message: ev.Message}); err != nil {
			return err
		}
		return c.close(CloseEvicted)
	default:
		log.Printf("%s unknown event type %q", c, ev.Type)
		return nil
	}
}

func (c *Conn) disconnect(code int) {
	log.Printf("- %s Disconnected (%s)", c, ExplainCloseCode(code))

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	b := c.relay.broker
	if c.hostScope && code != CloseEvicted {
		if err := c.relay.lifecycle.OnHostDisconnected(ctx, c.svc, c.scope); err != nil {
			log.Printf("%s clearing scope: %v", c, err)
		}
		c.publish(ctx, c.guestGroup, broker.Event{Type: broker.EventKick, Message: msgSessionEnded})
		c.clearHostName(ctx)
	}

	for _, group := range []string{c.hostGroup, c.clientGroup, c.guestGroup} {
		if group == "" {
			continue
		}
		if err := b.Unsubscribe(ctx, group, c); err != nil {
			log.Printf("%s unsubscribe from '%s': %v", c, group, err)
		}
	}

	if c.authorized {
		c.publish(ctx, c.otherGroup(), broker.Event{Type: broker.EventLeave, Role: c.role.Title(), User: c.shortName})
	}
}

// clearHostName removes the stored host name unless another host has
// since replaced it.
func (c *Conn) clearHostName(ctx context.Context) {
	var current string
	found, err := c.relay.broker.Get(ctx, c.hostGroup, HostNameKey, &current)
	if err != nil {
		log.Printf("%s reading host name: %v", c, err)
		return
	}
	if !found || current != c.shortName {
		return
	}
	if err := c.relay.broker.Delete(ctx, c.hostGroup, HostNameKey); err != nil {
		log.Printf("%s clearing host name: %v", c, err)
	}
}
