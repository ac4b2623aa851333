package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnirelay/internal/broker"
	"omnirelay/internal/model"
	"omnirelay/internal/repository"
	"omnirelay/internal/repository/sqlrepo"
	"omnirelay/internal/service"
)

const waitTimeout = 2 * time.Second

var errTransportClosed = errors.New("transport closed")

type fakeTransport struct {
	in   chan []byte
	out  chan map[string]interface{}
	done chan struct{}

	// failOn drops the connection while sending this message type
	failOn string

	once sync.Once
	mu   sync.Mutex
	code int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan []byte, 16),
		out:  make(chan map[string]interface{}, 64),
		done: make(chan struct{}),
	}
}

func (f *fakeTransport) Receive() ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.done:
		return nil, &CloseError{Code: f.closeCode()}
	}
}

func (f *fakeTransport) Send(v interface{}) error {
	select {
	case <-f.done:
		return errTransportClosed
	default:
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	f.out <- msg
	if f.failOn != "" && msg["type"] == f.failOn {
		f.Close(CloseAbnormal)
		return errTransportClosed
	}
	return nil
}

func (f *fakeTransport) Close(code int) error {
	f.once.Do(func() {
		f.mu.Lock()
		f.code = code
		f.mu.Unlock()
		close(f.done)
	})
	return nil
}

func (f *fakeTransport) closeCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}

type env struct {
	ids      *service.IdentityService
	life     service.Lifecycle
	broker   *broker.Memory
	relay    *Relay
	sessions repository.SessionRepo
	services repository.ServiceRepo
}

func newEnv(t *testing.T, lifecycle string) *env {
	db := sqlrepo.OpenTest(t)
	services := sqlrepo.NewServiceRepo(db)
	sessions := sqlrepo.NewSessionRepo(db)
	visitors := sqlrepo.NewVisitorRepo(db)

	var life service.Lifecycle
	if lifecycle == "code" {
		life = service.NewCodeLifecycle(services, visitors)
	} else {
		life = service.NewSessionLifecycle(sessions, services, visitors)
	}
	ids := service.NewIdentityService(services, visitors, life)

	b := broker.NewMemory()
	t.Cleanup(func() { b.Close() })

	return &env{
		ids:      ids,
		life:     life,
		broker:   b,
		relay:    New(ids, life, b, "test"),
		sessions: sessions,
		services: services,
	}
}

func (e *env) service(t *testing.T, title string, public, multi bool) *model.Service {
	svc, err := e.ids.CreateService(context.Background(), &model.ServiceRequest{
		Title:              title,
		AllowPublicCode:    public,
		AllowMultipleHosts: multi,
	})
	require.NoError(t, err)
	return svc
}

type peer struct {
	t      *testing.T
	ft     *fakeTransport
	conn   *Conn
	served chan struct{}
}

func (e *env) connect(t *testing.T) *peer {
	return e.connectWith(t, newFakeTransport())
}

func (e *env) connectWith(t *testing.T, ft *fakeTransport) *peer {
	p := &peer{
		t:      t,
		ft:     ft,
		conn:   e.relay.NewConn(ft),
		served: make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		p.conn.Serve(ctx)
		close(p.served)
	}()
	t.Cleanup(func() {
		cancel()
		<-p.served
	})

	msg := p.expect(typeConnect)
	assert.Equal(t, msgWelcome, msg["message"])
	return p
}

func (p *peer) sendRaw(data string) {
	select {
	case p.ft.in <- []byte(data):
	case <-time.After(waitTimeout):
		p.t.Fatal("timed out sending")
	}
}

func (p *peer) send(v interface{}) {
	data, err := json.Marshal(v)
	require.NoError(p.t, err)
	p.sendRaw(string(data))
}

func (p *peer) auth(token string) {
	p.send(map[string]interface{}{"token": token})
}

func (p *peer) next() map[string]interface{} {
	select {
	case msg := <-p.ft.out:
		return msg
	case <-time.After(waitTimeout):
		p.t.Fatal("timed out waiting for a message")
		return nil
	}
}

func (p *peer) expect(typ string) map[string]interface{} {
	msg := p.next()
	require.Equal(p.t, typ, msg["type"], "got %v", msg)
	return msg
}

// hangUp closes the connection from the client side
func (p *peer) hangUp(code int) int {
	p.ft.Close(code)
	return p.closed()
}

// closed waits for teardown and returns the close code
func (p *peer) closed() int {
	select {
	case <-p.served:
	case <-time.After(waitTimeout):
		p.t.Fatal("connection still open")
	}
	return p.ft.closeCode()
}

func (p *peer) assertOpen() {
	select {
	case <-p.served:
		p.t.Fatal("connection closed")
	default:
	}
}

// authHost authorizes p as host and returns the public code, if any
func (p *peer) authHost(svc *model.Service) string {
	p.auth(svc.HostToken)
	code := ""
	if svc.AllowPublicCode {
		code = p.expect(typeCode)["code"].(string)
	}
	msg := p.expect(typeAuthorized)
	assert.Equal(p.t, "Authorized as host", msg["message"])
	return code
}

func TestMalformedBeforeAuth(t *testing.T) {
	e := newEnv(t, "session")

	for _, data := range []string{"not json", "[1, 2]", "null", `"token"`} {
		p := e.connect(t)
		p.sendRaw(data)
		msg := p.expect(typeError)
		assert.Equal(t, msgMalformed, msg["message"])
		assert.Equal(t, CloseNormal, p.closed(), data)
	}
}

func TestMalformedAfterAuth(t *testing.T) {
	e := newEnv(t, "session")
	svc := e.service(t, "Exhibit", false, false)

	host := e.connect(t)
	host.authHost(svc)
	host.sendRaw("[]")
	host.expect(typeError)
	assert.Equal(t, CloseNormal, host.closed())
}

func TestMissingToken(t *testing.T) {
	e := newEnv(t, "session")

	for _, payload := range []map[string]interface{}{
		{},
		{"hello": "world"},
		{"token": ""},
		{"token": nil},
		{"token": false},
		{"token": 0},
		{"token": []interface{}{}},
		{"token": map[string]interface{}{}},
	} {
		p := e.connect(t)
		p.send(payload)
		msg := p.expect(typeError)
		assert.Equal(t, msgUnauthorized, msg["message"])
		assert.Equal(t, CloseNormal, p.closed())
	}
}

func TestInvalidToken(t *testing.T) {
	e := newEnv(t, "session")

	for _, token := range []interface{}{"b9a4bcd2-9f06-4c35-9d5b-0e1c1f5a8f11", "ZZZZ", 42} {
		p := e.connect(t)
		p.send(map[string]interface{}{"token": token})
		msg := p.expect(typeError)
		assert.Equal(t, msgInvalidToken, msg["message"])
		assert.Equal(t, CloseNormal, p.closed())
	}
}

func TestClientWithoutSession(t *testing.T) {
	e := newEnv(t, "session")
	svc := e.service(t, "Exhibit", false, false)

	client := e.connect(t)
	client.auth(svc.ClientToken)
	msg := client.expect(typeError)
	assert.Equal(t, msgUnableToJoin, msg["message"])
	assert.Equal(t, CloseNormal, client.closed())
}

func TestHostEviction(t *testing.T) {
	for _, lifecycle := range []string{"session", "code"} {
		t.Run(lifecycle, func(t *testing.T) {
			e := newEnv(t, lifecycle)
			svc := e.service(t, "Exhibit", true, false)

			first := e.connect(t)
			first.authHost(svc)

			second := e.connect(t)
			second.authHost(svc)

			msg := first.expect(typeDisconnect)
			assert.Equal(t, msgKicked, msg["message"])
			assert.Equal(t, CloseEvicted, first.closed())
			second.assertOpen()
		})
	}
}

func TestMultipleHostsNotEvicted(t *testing.T) {
	e := newEnv(t, "session")
	svc := e.service(t, "Exhibit", true, true)

	first := e.connect(t)
	code := first.authHost(svc)
	second := e.connect(t)
	assert.Equal(t, code, second.authHost(svc), "hosts share the session")

	client := e.connect(t)
	client.auth(svc.ClientToken)
	client.expect(typeAuthorized)
	first.expect(typeJoin)
	second.expect(typeJoin)

	first.assertOpen()
	second.assertOpen()
}

func TestPublicCodeRoundTrip(t *testing.T) {
	e := newEnv(t, "session")
	svc := e.service(t, "Exhibit", true, false)

	host := e.connect(t)
	code := host.authHost(svc)
	assert.Regexp(t, `^[A-Z]{4}$`, code)

	guest := e.connect(t)
	guest.send(map[string]interface{}{"token": code, "name": "Ada"})
	msg := guest.expect(typeAuthorized)
	assert.Equal(t, "Authorized as guest", msg["message"])

	join := host.expect(typeJoin)
	assert.Equal(t, "guest", join["role"])
	assert.Equal(t, guest.conn.ShortName(), join["user"])
	assert.Equal(t, "Ada", join["name"])

	guest.send(map[string]interface{}{"foo": "bar"})
	got := host.next()
	assert.Equal(t, map[string]interface{}{"foo": "bar", "user": guest.conn.ShortName()}, got)

	host.send(map[string]interface{}{"foo": "bar"})
	assert.Equal(t, map[string]interface{}{"foo": "bar"}, guest.next())

	session, err := e.sessions.GetByCode(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, 1, session.GuestCount)
}

func TestStaleCode(t *testing.T) {
	for _, lifecycle := range []string{"session", "code"} {
		t.Run(lifecycle, func(t *testing.T) {
			e := newEnv(t, lifecycle)
			svc := e.service(t, "Exhibit", true, false)

			host := e.connect(t)
			code := host.authHost(svc)
			assert.Equal(t, CloseNormal, host.hangUp(CloseNormal))

			guest := e.connect(t)
			guest.auth(code)
			guest.expect(typeError)
			assert.Equal(t, CloseNormal, guest.closed())
		})
	}
}

func TestRotatedCodeIsStale(t *testing.T) {
	e := newEnv(t, "code")
	svc := e.service(t, "Exhibit", true, true)

	first := e.connect(t)
	old := first.authHost(svc)
	second := e.connect(t)
	current := second.authHost(svc)
	require.NotEqual(t, old, current)

	guest := e.connect(t)
	guest.auth(old)
	msg := guest.expect(typeError)
	assert.Equal(t, msgInvalidToken, msg["message"])

	guest = e.connect(t)
	guest.auth(current)
	guest.expect(typeAuthorized)
}

func TestHostDisconnectEndsSession(t *testing.T) {
	e := newEnv(t, "session")
	svc := e.service(t, "Exhibit", true, false)

	host := e.connect(t)
	code := host.authHost(svc)

	guests := []*peer{e.connect(t), e.connect(t)}
	for _, g := range guests {
		g.auth(code)
		g.expect(typeAuthorized)
		host.expect(typeJoin)
	}

	host.hangUp(CloseGoingAway)

	for _, g := range guests {
		var msg map[string]interface{}
		for msg = g.next(); msg["type"] == typeLeave; msg = g.next() {
		}
		assert.Equal(t, typeDisconnect, msg["type"])
		assert.Equal(t, msgSessionEnded, msg["message"])
		assert.Equal(t, CloseEvicted, g.closed())
	}

	session, err := e.sessions.GetByCode(context.Background(), code)
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestHostDropBeforeAuthorizedReleasesScope(t *testing.T) {
	for _, lifecycle := range []string{"session", "code"} {
		t.Run(lifecycle, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t, lifecycle)
			svc := e.service(t, "Exhibit", true, false)

			ft := newFakeTransport()
			ft.failOn = typeCode
			host := e.connectWith(t, ft)
			host.auth(svc.HostToken)
			code := host.expect(typeCode)["code"].(string)
			assert.Equal(t, CloseAbnormal, host.closed())

			session, err := e.sessions.GetByServiceID(ctx, svc.HostToken)
			require.NoError(t, err)
			assert.Nil(t, session)

			stored, err := e.services.GetByHostToken(ctx, svc.HostToken)
			require.NoError(t, err)
			assert.Empty(t, stored.Code())

			guest := e.connect(t)
			guest.auth(code)
			msg := guest.expect(typeError)
			assert.Equal(t, msgInvalidToken, msg["message"])
			assert.Equal(t, CloseNormal, guest.closed())
		})
	}
}

func TestEvictedHostKeepsSession(t *testing.T) {
	e := newEnv(t, "session")
	svc := e.service(t, "Exhibit", true, false)

	first := e.connect(t)
	code := first.authHost(svc)

	guest := e.connect(t)
	guest.auth(code)
	guest.expect(typeAuthorized)
	first.expect(typeJoin)

	second := e.connect(t)
	assert.Equal(t, code, second.authHost(svc))
	first.expect(typeDisconnect)
	assert.Equal(t, CloseEvicted, first.closed())

	// the guest sees the handover, not the end of the session
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg := guest.next()
		assert.Equal(t, "host", msg["role"])
		seen[msg["type"].(string)] = true
	}
	assert.Equal(t, map[string]bool{typeJoin: true, typeLeave: true}, seen)
	guest.assertOpen()

	session, err := e.sessions.GetByCode(context.Background(), code)
	require.NoError(t, err)
	assert.NotNil(t, session)

	guest.send(map[string]interface{}{"ping": 1})
	msg := second.next()
	assert.Equal(t, guest.conn.ShortName(), msg["user"])
}

func TestClientMessages(t *testing.T) {
	e := newEnv(t, "session")
	svc := e.service(t, "Exhibit", false, false)

	host := e.connect(t)
	host.authHost(svc)

	client := e.connect(t)
	client.auth(svc.ClientToken)
	msg := client.expect(typeAuthorized)
	assert.Equal(t, "Authorized as client", msg["message"])

	join := host.expect(typeJoin)
	assert.Equal(t, "client", join["role"])
	assert.NotContains(t, join, "name")
	user := join["user"].(string)
	assert.Len(t, user, shortNameLength)

	client.send(map[string]interface{}{"foo": "bar", "user": "spoofed"})
	assert.Equal(t, map[string]interface{}{"foo": "bar", "user": user}, host.next())

	host.send(map[string]interface{}{"foo": "bar"})
	got := client.next()
	assert.Equal(t, map[string]interface{}{"foo": "bar"}, got)
	assert.NotContains(t, got, "user")

	client.hangUp(CloseGoingAway)
	leave := host.expect(typeLeave)
	assert.Equal(t, "client", leave["role"])
	assert.Equal(t, user, leave["user"])
	host.assertOpen()
}

func TestHostNameStored(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "session")
	svc := e.service(t, "Exhibit", true, false)

	host := e.connect(t)
	code := host.authHost(svc)
	group := broker.GroupName("host", svc.Title, code)

	var name string
	found, err := e.broker.Get(ctx, group, HostNameKey, &name)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, host.conn.ShortName(), name)

	members, err := e.broker.Members(ctx, group, broker.DefaultMemberLimit)
	require.NoError(t, err)
	assert.Equal(t, []string{host.conn.Name()}, members)

	host.hangUp(CloseNormal)
	found, err = e.broker.Get(ctx, group, HostNameKey, &name)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestContextCancel(t *testing.T) {
	e := newEnv(t, "session")
	ft := newFakeTransport()
	conn := e.relay.NewConn(ft)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		conn.Serve(ctx)
		close(served)
	}()
	<-ft.out
	cancel()

	select {
	case <-served:
	case <-time.After(waitTimeout):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, CloseGoingAway, ft.closeCode())
}

func TestExplainCloseCode(t *testing.T) {
	assert.Equal(t, "Kicked by new host", ExplainCloseCode(CloseEvicted))
	assert.Equal(t, "Client is leaving (browser tab closing)", ExplainCloseCode(CloseGoingAway))
	assert.Equal(t, "Unknown: 4321", ExplainCloseCode(4321))

	assert.Equal(t, CloseEvicted, CloseCode(&CloseError{Code: CloseEvicted}))
	assert.Equal(t, CloseAbnormal, CloseCode(errTransportClosed))
}
