package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/pkg/lyrics"
)

func strPtr(s string) *string { return &s }

// ─── Transport ───

type fakeProvider struct {
	mu       sync.Mutex
	rooms    map[string]bool
	calls    []*fakeCall
	creates  int
	joins    int
	watchers map[string]map[int]func()
	nextID   int

	// release doluysa CreateOrJoin buradan sinyal bekler (ctx'i yoksayar).
	release chan struct{}
	// joinErr doluysa CreateOrJoin bunu döner.
	joinErr error
	// newCall, oluşturulan çağrıyı özelleştirmek için.
	newCall func(sessionID, userID string) *fakeCall
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		rooms:    make(map[string]bool),
		watchers: make(map[string]map[int]func()),
	}
}

func (p *fakeProvider) CreateOrJoin(ctx context.Context, sessionID, userID string, asCreator bool) (CallHandle, error) {
	p.mu.Lock()
	if asCreator {
		p.creates++
	} else {
		p.joins++
	}
	release := p.release
	p.mu.Unlock()

	if release != nil {
		<-release
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.joinErr != nil {
		return nil, p.joinErr
	}
	if !asCreator && !p.rooms[sessionID] {
		return nil, fmt.Errorf("%w: %s", pkg.ErrSessionNotFound, sessionID)
	}
	p.rooms[sessionID] = true

	var call *fakeCall
	if p.newCall != nil {
		call = p.newCall(sessionID, userID)
	} else {
		call = newFakeCall(sessionID, userID)
	}
	p.calls = append(p.calls, call)
	return call, nil
}

func (p *fakeProvider) WatchSession(sessionID string, fn func()) (stop func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watchers[sessionID] == nil {
		p.watchers[sessionID] = make(map[int]func())
	}
	id := p.nextID
	p.nextID++
	p.watchers[sessionID][id] = fn
	return func() {
		p.mu.Lock()
		delete(p.watchers[sessionID], id)
		p.mu.Unlock()
	}
}

func (p *fakeProvider) openRoom(sessionID string) {
	p.mu.Lock()
	p.rooms[sessionID] = true
	p.mu.Unlock()
}

func (p *fakeProvider) signal(sessionID string) {
	p.mu.Lock()
	fns := make([]func(), 0, len(p.watchers[sessionID]))
	for _, fn := range p.watchers[sessionID] {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *fakeProvider) watcherCount(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watchers[sessionID])
}

func (p *fakeProvider) counts() (creates, joins int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates, p.joins
}

func (p *fakeProvider) lastCall() *fakeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

type fakeCall struct {
	sessionID string
	userID    string

	mu           sync.Mutex
	caps         map[string]models.CapabilitySet
	present      map[string]bool
	metadata     models.SessionMetadata
	participants []models.Participant
	listeners    map[int]func(TransportEvent)
	nextID       int
	requests     []models.PermissionRequest

	grantErr    error
	revokeErr   error
	setMetaErr  error
	micEnabled  int
	micDisabled int
	cameraOff   int
	leaves      int
	ends        int
}

func newFakeCall(sessionID, userID string) *fakeCall {
	return &fakeCall{
		sessionID: sessionID,
		userID:    userID,
		caps:      make(map[string]models.CapabilitySet),
		present:   map[string]bool{userID: true},
		listeners: make(map[int]func(TransportEvent)),
	}
}

func (c *fakeCall) SessionID() string   { return c.sessionID }
func (c *fakeCall) LocalUserID() string { return c.userID }

func (c *fakeCall) GrantCapabilities(_ context.Context, userID string, caps models.CapabilitySet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.grantErr != nil {
		return c.grantErr
	}
	if !c.present[userID] {
		return fmt.Errorf("%w: %s", pkg.ErrParticipantNotFound, userID)
	}
	c.caps[userID] = c.caps[userID].Union(caps)
	return nil
}

func (c *fakeCall) RevokeCapabilities(_ context.Context, userID string, caps models.CapabilitySet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revokeErr != nil {
		return c.revokeErr
	}
	if !c.present[userID] {
		return fmt.Errorf("%w: %s", pkg.ErrParticipantNotFound, userID)
	}
	c.caps[userID] = c.caps[userID].Without(caps)
	return nil
}

func (c *fakeCall) Metadata(context.Context) (models.SessionMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata, nil
}

func (c *fakeCall) SetMetadata(_ context.Context, md models.SessionMetadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setMetaErr != nil {
		return c.setMetaErr
	}
	c.metadata = md
	return nil
}

func (c *fakeCall) OnEvent(fn func(TransportEvent)) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *fakeCall) emit(ev TransportEvent) {
	c.mu.Lock()
	fns := make([]func(TransportEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *fakeCall) Participants() []models.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Participant(nil), c.participants...)
}

func (c *fakeCall) RequestPermission(_ context.Context, req models.PermissionRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	return nil
}

func (c *fakeCall) EnableMicrophone(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.micEnabled++
	return nil
}

func (c *fakeCall) DisableMicrophone(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.micDisabled++
	return nil
}

func (c *fakeCall) DisableCamera(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cameraOff++
	return nil
}

func (c *fakeCall) Leave(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves++
	return nil
}

func (c *fakeCall) End(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ends++
	return nil
}

// addParticipant, kullanıcıyı provider'da görünür yapar.
func (c *fakeCall) addParticipant(userID string) {
	c.mu.Lock()
	c.present[userID] = true
	c.participants = append(c.participants, models.Participant{UserID: userID, ConnectionState: models.ConnConnected})
	c.mu.Unlock()
}

func (c *fakeCall) capsOf(userID string) models.CapabilitySet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps[userID]
}

func (c *fakeCall) stats() (micEnabled, cameraOff, leaves, ends int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.micEnabled, c.cameraOff, c.leaves, c.ends
}

func (c *fakeCall) currentMetadata() models.SessionMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata
}

// casCall, sürüm token'lı metadata sunan fakeCall.
type casCall struct {
	*fakeCall
	version int
	// interfere, ilk CompareAndSet'ten önce başka bir yazıcıyı taklit eder.
	interfere func(md models.SessionMetadata) models.SessionMetadata
	conflicts int
}

func (c *casCall) MetadataVersion(context.Context) (models.SessionMetadata, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata, fmt.Sprint(c.version), nil
}

func (c *casCall) CompareAndSetMetadata(_ context.Context, version string, md models.SessionMetadata) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interfere != nil {
		c.metadata = c.interfere(c.metadata)
		c.version++
		c.interfere = nil
	}
	if version != fmt.Sprint(c.version) {
		c.conflicts++
		return false, nil
	}
	c.metadata = md
	c.version++
	return true, nil
}

// ─── Broadcast channel ───

// fakeBus, aynı süreçteki fakeChannel'ları birbirine bağlar.
type fakeBus struct {
	mu       sync.Mutex
	channels []*fakeChannel
}

func (b *fakeBus) join(c *fakeChannel) {
	b.mu.Lock()
	b.channels = append(b.channels, c)
	b.mu.Unlock()
	c.bus = b
}

func (b *fakeBus) deliver(from *fakeChannel, topic, event string, payload json.RawMessage) {
	b.mu.Lock()
	targets := append([]*fakeChannel(nil), b.channels...)
	b.mu.Unlock()
	for _, c := range targets {
		if c != from {
			c.deliver(topic, event, payload, from.userID)
		}
	}
}

type published struct {
	Topic   string
	Event   string
	Payload json.RawMessage
}

type fakeChannel struct {
	userID string
	bus    *fakeBus

	mu          sync.Mutex
	state       models.ChannelState
	handlers    map[string]map[int]BroadcastHandler // topic|event → handlers
	listeners   map[int]func(models.ChannelState)
	nextID      int
	published   []published
	rejoinErrs  []error
	rejoinCalls int
	// rejoinGate doluysa Rejoin bu kanaldan bir değer bekler.
	rejoinGate chan struct{}
}

func newFakeChannel(userID string, state models.ChannelState) *fakeChannel {
	return &fakeChannel{
		userID:    userID,
		state:     state,
		handlers:  make(map[string]map[int]BroadcastHandler),
		listeners: make(map[int]func(models.ChannelState)),
	}
}

func (c *fakeChannel) Publish(_ context.Context, topic, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != models.ChannelSubscribed {
		c.mu.Unlock()
		return pkg.ErrNotConnected
	}
	c.published = append(c.published, published{Topic: topic, Event: event, Payload: raw})
	bus := c.bus
	c.mu.Unlock()

	if bus != nil {
		bus.deliver(c, topic, event, raw)
	}
	return nil
}

func (c *fakeChannel) Subscribe(topic, event string, handler BroadcastHandler) (unsubscribe func()) {
	key := topic + "|" + event

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[key] == nil {
		c.handlers[key] = make(map[int]BroadcastHandler)
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

func (c *fakeChannel) deliver(topic, event string, payload json.RawMessage, from string) {
	c.mu.Lock()
	hs := make([]BroadcastHandler, 0, len(c.handlers[topic+"|"+event]))
	for _, h := range c.handlers[topic+"|"+event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(payload, from)
	}
}

func (c *fakeChannel) Rejoin(ctx context.Context) error {
	c.mu.Lock()
	c.rejoinCalls++
	gate := c.rejoinGate
	var err error
	if len(c.rejoinErrs) > 0 {
		err = c.rejoinErrs[0]
		c.rejoinErrs = c.rejoinErrs[1:]
	}
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err != nil {
		c.setState(models.ChannelErrored)
		return err
	}
	c.setState(models.ChannelSubscribed)
	return nil
}

func (c *fakeChannel) OnConnectionStateChange(fn func(models.ChannelState)) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *fakeChannel) State() models.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) setState(s models.ChannelState) {
	c.mu.Lock()
	c.state = s
	fns := make([]func(models.ChannelState), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (c *fakeChannel) publishedEvents(event string) []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []published
	for _, p := range c.published {
		if event == "" || p.Event == event {
			out = append(out, p)
		}
	}
	return out
}

func (c *fakeChannel) rejoins() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejoinCalls
}

// ─── Durable store ───

type fakeStore struct {
	mu        sync.Mutex
	messages  map[string]models.ChatMessage
	reactions map[string]models.Reaction
	configs   map[string]models.SessionConfig
	writeErr  error
	writes    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages:  make(map[string]models.ChatMessage),
		reactions: make(map[string]models.Reaction),
		configs:   make(map[string]models.SessionConfig),
	}
}

func (s *fakeStore) InsertMessage(_ context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes++
	if _, ok := s.messages[msg.ID]; !ok {
		s.messages[msg.ID] = *msg
	}
	return nil
}

func (s *fakeStore) InsertReaction(_ context.Context, r *models.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes++
	if _, ok := s.reactions[r.ID]; !ok {
		s.reactions[r.ID] = *r
	}
	return nil
}

func (s *fakeStore) ListMessages(_ context.Context, sessionID, _ string, limit int) (*models.ChatPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page := &models.ChatPage{}
	for _, m := range s.messages {
		if m.SessionID == sessionID && len(page.Messages) < limit {
			page.Messages = append(page.Messages, m)
		}
	}
	return page, nil
}

func (s *fakeStore) GetSessionConfig(_ context.Context, sessionID string) (*models.SessionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session config %s", pkg.ErrNotFound, sessionID)
	}
	return &cfg, nil
}

func (s *fakeStore) UpsertSessionConfig(_ context.Context, cfg *models.SessionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	if prev, ok := s.configs[cfg.SessionID]; ok && prev.SongGen > cfg.SongGen {
		return nil
	}
	s.configs[cfg.SessionID] = *cfg
	return nil
}

func (s *fakeStore) setWriteErr(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

func (s *fakeStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// ─── Player ───

type fakePlayer struct {
	mu        sync.Mutex
	url       string
	loads     []string
	playing   bool
	pos       float64
	volume    float64
	seeks     []float64
	listeners map[int]func()
	nextID    int
	loadErr   error
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{listeners: make(map[int]func())}
}

func (p *fakePlayer) Load(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads = append(p.loads, url)
	if p.loadErr != nil {
		return p.loadErr
	}
	p.url = url
	p.pos = 0
	p.playing = false
	return nil
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	return nil
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	return nil
}

func (p *fakePlayer) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = seconds
	p.seeks = append(p.seeks, seconds)
	return nil
}

func (p *fakePlayer) SetVolume(v float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
	return nil
}

func (p *fakePlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

func (p *fakePlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayer) OnEnded(fn func()) (remove func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *fakePlayer) finish() {
	p.mu.Lock()
	p.playing = false
	fns := make([]func(), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *fakePlayer) snapshot() (url string, playing bool, pos float64, loads []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, p.playing, p.pos, append([]string(nil), p.loads...)
}

// ─── Lyrics ───

type fakeLyrics map[string]*lyrics.Sheet

func (f fakeLyrics) Fetch(_ context.Context, url string) (*lyrics.Sheet, error) {
	sheet, ok := f[url]
	if !ok {
		return nil, fmt.Errorf("%w: lyrics %s", pkg.ErrNotFound, url)
	}
	return sheet, nil
}

// ─── Wallet ───

type fakeWallets struct {
	addr string
	err  error
}

func (w fakeWallets) HostWallet(context.Context, string) (string, error) { return w.addr, w.err }
