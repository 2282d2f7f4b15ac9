package live

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/stagecast/audio"
	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/pkg/deviceid"
	"github.com/akinalp/stagecast/services"
)

// ─── In-memory transport ───

type memProvider struct {
	mu       sync.Mutex
	rooms    map[string]*memRoom
	watchers map[string][]func()
}

type memRoom struct {
	mu    sync.Mutex
	md    models.SessionMetadata
	calls []*memCall
}

func newMemProvider() *memProvider {
	return &memProvider{rooms: make(map[string]*memRoom), watchers: make(map[string][]func())}
}

func (p *memProvider) CreateOrJoin(_ context.Context, sessionID, userID string, asCreator bool) (services.CallHandle, error) {
	p.mu.Lock()
	room, ok := p.rooms[sessionID]
	if !ok {
		if !asCreator {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", pkg.ErrSessionNotFound, sessionID)
		}
		room = &memRoom{}
		p.rooms[sessionID] = room
	}
	watchers := append([]func(){}, p.watchers[sessionID]...)
	p.mu.Unlock()

	call := &memCall{room: room, sessionID: sessionID, userID: userID}
	room.mu.Lock()
	room.calls = append(room.calls, call)
	room.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
	return call, nil
}

func (p *memProvider) WatchSession(sessionID string, fn func()) (stop func()) {
	p.mu.Lock()
	p.watchers[sessionID] = append(p.watchers[sessionID], fn)
	p.mu.Unlock()
	return func() {}
}

func (p *memProvider) room(sessionID string) *memRoom {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rooms[sessionID]
}

type memCall struct {
	room      *memRoom
	sessionID string
	userID    string

	mu     sync.Mutex
	leaves int
	ends   int
}

func (c *memCall) SessionID() string   { return c.sessionID }
func (c *memCall) LocalUserID() string { return c.userID }

func (c *memCall) GrantCapabilities(context.Context, string, models.CapabilitySet) error  { return nil }
func (c *memCall) RevokeCapabilities(context.Context, string, models.CapabilitySet) error { return nil }

func (c *memCall) Metadata(context.Context) (models.SessionMetadata, error) {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	return c.room.md, nil
}

func (c *memCall) SetMetadata(_ context.Context, md models.SessionMetadata) error {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	c.room.md = md
	return nil
}

func (c *memCall) OnEvent(func(services.TransportEvent)) (remove func()) { return func() {} }
func (c *memCall) Participants() []models.Participant                  { return nil }

func (c *memCall) RequestPermission(context.Context, models.PermissionRequest) error { return nil }
func (c *memCall) EnableMicrophone(context.Context) error                          { return nil }
func (c *memCall) DisableMicrophone(context.Context) error                         { return nil }
func (c *memCall) DisableCamera(context.Context) error                             { return nil }

func (c *memCall) Leave(context.Context) error {
	c.mu.Lock()
	c.leaves++
	c.mu.Unlock()
	return nil
}

func (c *memCall) End(context.Context) error {
	c.mu.Lock()
	c.ends++
	c.mu.Unlock()
	return nil
}

func (c *memCall) closed() (leaves, ends int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaves, c.ends
}

// ─── In-memory broadcast ───

type memBus struct {
	mu       sync.Mutex
	channels []*memChannel
}

type memChannel struct {
	bus    *memBus
	userID string

	mu       sync.Mutex
	state    models.ChannelState
	handlers map[string]map[int]services.BroadcastHandler
	nextID   int
}

func (b *memBus) channel(userID string) *memChannel {
	ch := &memChannel{bus: b, userID: userID, state: models.ChannelClosed, handlers: make(map[string]map[int]services.BroadcastHandler)}
	b.mu.Lock()
	b.channels = append(b.channels, ch)
	b.mu.Unlock()
	return ch
}

func (c *memChannel) Publish(_ context.Context, topic, event string, payload any) error {
	if c.State() != models.ChannelSubscribed {
		return pkg.ErrNotConnected
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.bus.mu.Lock()
	peers := append([]*memChannel(nil), c.bus.channels...)
	c.bus.mu.Unlock()
	for _, peer := range peers {
		if peer != c {
			peer.deliver(topic+"|"+event, raw, c.userID)
		}
	}
	return nil
}

func (c *memChannel) deliver(key string, raw json.RawMessage, from string) {
	c.mu.Lock()
	handlers := make([]services.BroadcastHandler, 0, len(c.handlers[key]))
	for _, h := range c.handlers[key] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(raw, from)
	}
}

func (c *memChannel) Subscribe(topic, event string, handler services.BroadcastHandler) (unsubscribe func()) {
	key := topic + "|" + event
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[key] == nil {
		c.handlers[key] = make(map[int]services.BroadcastHandler)
	}
	id := c.nextID
	c.nextID++
	c.handlers[key][id] = handler
	return func() {
		c.mu.Lock()
		delete(c.handlers[key], id)
		c.mu.Unlock()
	}
}

func (c *memChannel) subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, hs := range c.handlers {
		n += len(hs)
	}
	return n
}

func (c *memChannel) Rejoin(context.Context) error {
	c.mu.Lock()
	c.state = models.ChannelSubscribed
	c.mu.Unlock()
	return nil
}

func (c *memChannel) OnConnectionStateChange(func(models.ChannelState)) (remove func()) {
	return func() {}
}

func (c *memChannel) State() models.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ─── In-memory store ───

type memStore struct {
	mu       sync.Mutex
	messages map[string]models.ChatMessage
	configs  map[string]models.SessionConfig
}

func newMemStore() *memStore {
	return &memStore{messages: make(map[string]models.ChatMessage), configs: make(map[string]models.SessionConfig)}
}

func (s *memStore) InsertMessage(_ context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; !ok {
		s.messages[msg.ID] = *msg
	}
	return nil
}

func (s *memStore) InsertReaction(context.Context, *models.Reaction) error { return nil }

func (s *memStore) ListMessages(context.Context, string, string, int) (*models.ChatPage, error) {
	return &models.ChatPage{Messages: []models.ChatMessage{}}, nil
}

func (s *memStore) GetSessionConfig(_ context.Context, sessionID string) (*models.SessionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pkg.ErrNotFound, sessionID)
	}
	return &cfg, nil
}

func (s *memStore) UpsertSessionConfig(_ context.Context, cfg *models.SessionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.configs[cfg.SessionID]; ok && prev.SongGen > cfg.SongGen {
		return nil
	}
	s.configs[cfg.SessionID] = *cfg
	return nil
}

func (s *memStore) config(sessionID string) (models.SessionConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[sessionID]
	return cfg, ok
}

func (s *memStore) message(id string) (models.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	return m, ok
}

type fixedProber struct{}

func (fixedProber) Probe(context.Context, string) (*audio.MP3Info, error) {
	return &audio.MP3Info{Duration: 240}, nil
}

// ─── Helpers ───

type world struct {
	provider *memProvider
	bus      *memBus
	store    *memStore
}

func newWorld() *world {
	return &world{provider: newMemProvider(), bus: &memBus{}, store: newMemStore()}
}

func (w *world) client(t *testing.T, userID string) (*Client, *memChannel) {
	t.Helper()
	ch := w.bus.channel(userID)
	c, err := NewClient(Options{
		Provider:   w.provider,
		Channel:    ch,
		Chat:       w.store,
		Configs:    w.store,
		Engine:     audio.NewClockEngine(fixedProber{}),
		Playback:   services.PlaybackConfig{HeartbeatInterval: time.Hour, MaxPublishRate: 100},
		Manager:    services.SessionManagerConfig{GrantRetryInterval: 5 * time.Millisecond, GrantTimeout: time.Second},
		AutoUnlock: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c, ch
}

// ─── Tests ───

func TestNewClientValidatesOptions(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err)

	w := newWorld()
	_, err = NewClient(Options{Provider: w.provider, Channel: w.bus.channel("u"), Chat: w.store, Configs: w.store})
	assert.Error(t, err)
}

func TestHostAndFollowerComposition(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	hostClient, _ := w.client(t, "host")
	guestClient, _ := w.client(t, "guest")

	host, err := hostClient.Join(ctx, "s1", "host", true)
	require.NoError(t, err)
	assert.True(t, host.IsHost())
	require.NotNil(t, host.Host())
	require.NotNil(t, host.Mixer())
	assert.Nil(t, host.Follower())

	again, err := hostClient.Join(ctx, "s1", "host", true)
	require.NoError(t, err)
	assert.Same(t, host, again)

	guest, err := guestClient.Join(ctx, "s1", "guest", false)
	require.NoError(t, err)
	assert.False(t, guest.IsHost())
	require.NotNil(t, guest.Follower())

	require.NoError(t, host.Host().SongChange(ctx, "https://cdn.test/song.mp3", ""))
	require.NoError(t, host.Host().Play(ctx))

	assert.Equal(t, "https://cdn.test/song.mp3", guest.Follower().SongURL())
	assert.True(t, guest.Follower().State().IsPlaying)
	assert.True(t, guest.Mixer().Playing())

	cfg, ok := w.store.config("s1")
	require.True(t, ok)
	assert.True(t, cfg.IsLive)
	assert.Equal(t, "host", cfg.HostID)
}

func TestChatBetweenClients(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	hostClient, _ := w.client(t, "host")
	anon := deviceid.New()
	guestClient, _ := w.client(t, anon)

	host, err := hostClient.Join(ctx, "s1", "host", true)
	require.NoError(t, err)
	guest, err := guestClient.Join(ctx, "s1", anon, false)
	require.NoError(t, err)

	msg, err := guest.Chat().SendMessage(ctx, "merhaba")
	require.NoError(t, err)
	assert.Nil(t, msg.SenderID, "anonymous device ids are not stored as sender")

	require.Len(t, host.Chat().Messages(), 1)
	stored, ok := w.store.message(msg.ID)
	require.True(t, ok)
	assert.Equal(t, "merhaba", stored.Content)
}

func TestSessionLeaveTearsDown(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	hostClient, hostCh := w.client(t, "host")

	host, err := hostClient.Join(ctx, "s1", "host", true)
	require.NoError(t, err)
	require.NotZero(t, hostCh.subscriptions())

	require.NoError(t, host.Leave(ctx))
	require.NoError(t, host.Leave(ctx))

	assert.Zero(t, hostCh.subscriptions())
	_, ok := hostClient.Session("s1")
	assert.False(t, ok)

	select {
	case <-host.Done():
	default:
		t.Fatal("session not marked done")
	}

	room := w.provider.room("s1")
	require.NotNil(t, room)
	_, ends := room.calls[0].closed()
	assert.Equal(t, 1, ends)

	cfg, ok := w.store.config("s1")
	require.True(t, ok)
	assert.False(t, cfg.IsLive)
}

func TestLeaveWhileWaitingForHost(t *testing.T) {
	w := newWorld()
	guestClient, _ := w.client(t, "guest")

	errc := make(chan error, 1)
	go func() {
		_, err := guestClient.Join(context.Background(), "s1", "guest", false)
		errc <- err
	}()

	require.Eventually(t, func() bool {
		return guestClient.manager.State("s1") == models.SessionWaitingForHost
	}, time.Second, time.Millisecond)

	require.NoError(t, guestClient.Leave(context.Background(), "s1"))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, pkg.ErrSessionLeft)
	case <-time.After(time.Second):
		t.Fatal("join did not return after leave")
	}
	_, ok := guestClient.Session("s1")
	assert.False(t, ok)
}

func TestGuestJoinsWhenHostArrives(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	hostClient, _ := w.client(t, "host")
	guestClient, _ := w.client(t, "guest")

	done := make(chan *Session, 1)
	go func() {
		s, err := guestClient.Join(ctx, "s1", "guest", false)
		if err == nil {
			done <- s
		}
	}()
	require.Eventually(t, func() bool {
		return guestClient.manager.State("s1") == models.SessionWaitingForHost
	}, time.Second, time.Millisecond)

	_, err := hostClient.Join(ctx, "s1", "host", true)
	require.NoError(t, err)

	select {
	case s := <-done:
		assert.Equal(t, "s1", s.ID())
	case <-time.After(time.Second):
		t.Fatal("guest did not join after host opened the session")
	}
}

// blockingStore, GetSessionConfig'i release kapanana ya da ctx bitene kadar bekletir.
type blockingStore struct {
	*memStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) GetSessionConfig(ctx context.Context, sessionID string) (*models.SessionConfig, error) {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.memStore.GetSessionConfig(ctx, sessionID)
}

func TestLeaveDuringSetupDiscardsSession(t *testing.T) {
	w := newWorld()
	store := &blockingStore{memStore: w.store, entered: make(chan struct{}), release: make(chan struct{})}
	defer close(store.release)

	c, err := NewClient(Options{
		Provider:   w.provider,
		Channel:    w.bus.channel("host"),
		Chat:       store,
		Configs:    store,
		Engine:     audio.NewClockEngine(fixedProber{}),
		Playback:   services.PlaybackConfig{HeartbeatInterval: time.Hour, MaxPublishRate: 100},
		AutoUnlock: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })

	type result struct {
		s   *Session
		err error
	}
	resc := make(chan result, 1)
	go func() {
		s, err := c.Join(context.Background(), "s1", "host", true)
		resc <- result{s, err}
	}()

	select {
	case <-store.entered:
	case <-time.After(time.Second):
		t.Fatal("host setup never reached the store")
	}
	require.NoError(t, c.Leave(context.Background(), "s1"))

	var res result
	select {
	case res = <-resc:
	case <-time.After(2 * time.Second):
		t.Fatal("join did not return after leave")
	}
	assert.ErrorIs(t, res.err, pkg.ErrSessionLeft)
	assert.Nil(t, res.s)

	_, ok := c.Session("s1")
	assert.False(t, ok)

	if cfg, ok := w.store.config("s1"); ok {
		assert.False(t, cfg.IsLive, "a discarded host session must not stay live")
	}
	room := w.provider.room("s1")
	require.NotNil(t, room)
	leaves, ends := room.calls[0].closed()
	assert.NotZero(t, leaves+ends, "the call must be closed")
}
