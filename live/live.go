// Package live, client tarafının composition root'u.
//
// Client süreç başına bir kez kurulur; Join her oturum için session-scoped
// bileşenleri (SessionHandle, PermissionBroker, ChatFeed, host'ta
// PlaybackHost + AudioMixer, diğerlerinde PlaybackFollower) oluşturup
// birbirine bağlar. Global state yoktur: her şey Session'a aittir ve
// Session.Leave ile birlikte söker.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/akinalp/stagecast/audio"
	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/pkg/deviceid"
	"github.com/akinalp/stagecast/services"
)

// defaultLeaveTimeout, Leave sırasında kalıcı yazım ve çağrıdan çıkış için süre.
const defaultLeaveTimeout = 5 * time.Second

// Options, Client bağımlılıkları ve ayarları.
//
// Provider, Channel, Chat, Configs ve Engine zorunludur. Player verilmezse
// follower'lar da Engine üzerinde kendi AudioMixer'ını kullanır.
type Options struct {
	Provider services.TransportProvider
	Channel  services.BroadcastChannel
	Chat     services.ChatStore
	Configs  services.SessionConfigStore
	Engine   audio.Engine
	Player   services.Player
	Lyrics   services.LyricsFetcher
	Wallets  services.WalletResolver

	Manager  services.SessionManagerConfig
	Broker   services.PermissionBrokerConfig
	Playback services.PlaybackConfig
	Queue    services.OfflineQueueConfig
	ChatFeed services.ChatFeedConfig

	// AutoUnlock, kullanıcı etkileşimi beklemeden ses grafını kurar
	// (headless host'lar ve ClockEngine için).
	AutoUnlock   bool
	LeaveTimeout time.Duration
}

func (o Options) validate() error {
	switch {
	case o.Provider == nil:
		return errors.New("live: provider is required")
	case o.Channel == nil:
		return errors.New("live: broadcast channel is required")
	case o.Chat == nil:
		return errors.New("live: chat store is required")
	case o.Configs == nil:
		return errors.New("live: session config store is required")
	case o.Engine == nil && o.Player == nil:
		return errors.New("live: audio engine is required")
	}
	return nil
}

// ─── Client ───

// Client, süreç başına tek olan client. Broadcast kanalı ve offline queue
// bağlantı seviyesindedir; tüm oturumlar paylaşır.
type Client struct {
	opts    Options
	manager services.SessionManager
	queue   services.OfflineQueue
	joins   singleflight.Group

	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]*pendingJoin
	closed   bool
}

// pendingJoin, kurulumu süren bir Join. Leave bu sırada gelirse left işaretlenir
// ve kurulumun sonucu uygulanmaz.
type pendingJoin struct {
	left   bool
	cancel context.CancelFunc
}

// NewClient, yeni bir Client oluşturur ve kanalın yeniden bağlanma döngüsünü başlatır.
func NewClient(opts Options) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.LeaveTimeout <= 0 {
		opts.LeaveTimeout = defaultLeaveTimeout
	}

	queue := services.NewOfflineQueue(opts.Channel, opts.Chat, opts.Queue)
	queue.Start()

	return &Client{
		opts:     opts,
		manager:  services.NewSessionManager(opts.Provider, opts.Wallets, opts.Manager),
		queue:    queue,
		sessions: make(map[string]*Session),
		pending:  make(map[string]*pendingJoin),
	}, nil
}

// Connect, broadcast kanalını kurar. Başarısız olursa kanal errored durumuna
// geçer ve offline queue backoff ile yeniden dener; hata yine de döner.
func (c *Client) Connect(ctx context.Context) error {
	if c.opts.Channel.State() == models.ChannelSubscribed {
		return nil
	}
	return c.opts.Channel.Rejoin(ctx)
}

// NetworkOnline, platformun "ağ geri geldi" sinyalinde çağrılır.
func (c *Client) NetworkOnline(ctx context.Context) {
	c.queue.NetworkOnline(ctx)
}

// Pending, offline queue'da bekleyen broadcast ve store entry sayıları.
func (c *Client) Pending() (broadcast, store int) {
	return c.queue.Pending()
}

// Join, oturuma katılır ve session-scoped bileşenleri kurar.
// Aynı oturum için tekrar çağrılırsa mevcut Session döner.
//
// Host olmayan katılımcılar host odayı açana kadar bekler (ctx ile iptal
// edilebilir); bekleme sırasında Client.Leave çağrılırsa Join hata döner.
func (c *Client) Join(ctx context.Context, sessionID, userID string, isHost bool) (*Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, pkg.ErrSessionLeft
	}
	if s, ok := c.sessions[sessionID]; ok {
		c.mu.Unlock()
		if s.userID != userID {
			return nil, fmt.Errorf("%w: session %s is already joined as another user", pkg.ErrAlreadyExists, sessionID)
		}
		return s, nil
	}
	c.mu.Unlock()

	// Eşzamanlı Join'ler tek kurulumu paylaşır; iki PlaybackHost oluşmaz.
	v, err, _ := c.joins.Do(sessionID, func() (any, error) {
		return c.join(ctx, sessionID, userID, isHost)
	})
	if err != nil {
		return nil, err
	}
	s := v.(*Session)
	if s.userID != userID {
		return nil, fmt.Errorf("%w: session %s is already joined as another user", pkg.ErrAlreadyExists, sessionID)
	}
	return s, nil
}

func (c *Client) join(parent context.Context, sessionID, userID string, isHost bool) (*Session, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	p := &pendingJoin{cancel: cancel}
	c.mu.Lock()
	c.pending[sessionID] = p
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.pending[sessionID] == p {
			delete(c.pending, sessionID)
		}
		c.mu.Unlock()
	}()

	// Bekleyen katılımcılar membership_updated'i kanal üzerinden dinler
	if err := c.Connect(ctx); err != nil {
		log.Warn().Str("module", "live").Str("session_id", sessionID).Err(err).
			Msg("broadcast channel not connected, continuing with offline queue")
	}

	handle, err := c.manager.Join(ctx, sessionID, userID, isHost)
	if err != nil {
		if c.wasLeft(p) {
			return nil, pkg.ErrSessionLeft
		}
		return nil, err
	}
	if c.wasLeft(p) {
		c.leaveAfterSetup(ctx, sessionID)
		return nil, pkg.ErrSessionLeft
	}

	s, err := c.assemble(ctx, handle)
	if err != nil {
		c.leaveAfterSetup(ctx, sessionID)
		if c.wasLeft(p) {
			return nil, pkg.ErrSessionLeft
		}
		return nil, err
	}

	// Kayıt ve liveness kontrolü aynı kilit altında: Leave ya Session'ı
	// bulur ya da pending'i işaretler, ikisi birden kaçmaz.
	c.mu.Lock()
	if p.left {
		c.mu.Unlock()
		s.leaveOnce.Do(func() {
			s.leaveErr = s.teardown(ctx, true)
		})
		log.Info().Str("module", "live").Str("session_id", sessionID).Msg("left during setup, discarding session")
		return nil, pkg.ErrSessionLeft
	}
	c.sessions[sessionID] = s
	c.mu.Unlock()

	log.Info().Str("module", "live").
		Str("session_id", sessionID).
		Str("user_id", userID).
		Bool("is_host", isHost).
		Msg("session ready")
	return s, nil
}

func (c *Client) wasLeft(p *pendingJoin) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return p.left
}

func (c *Client) leaveAfterSetup(ctx context.Context, sessionID string) {
	leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.LeaveTimeout)
	defer cancel()
	if err := c.manager.Leave(leaveCtx, sessionID); err != nil {
		log.Warn().Str("module", "live").Str("session_id", sessionID).Err(err).Msg("failed to leave after setup error")
	}
}

// assemble, handle çevresindeki bileşenleri oluşturur ve başlatır.
func (c *Client) assemble(ctx context.Context, handle *services.SessionHandle) (*Session, error) {
	o := c.opts
	sessionID := handle.SessionID()

	s := &Session{
		client:    c,
		sessionID: sessionID,
		userID:    handle.UserID(),
		handle:    handle,
		done:      make(chan struct{}),
	}

	s.broker = services.NewPermissionBroker(handle, o.Broker)

	var sender *string
	if uid := handle.UserID(); !deviceid.IsAnonymous(uid) {
		sender = &uid
	}
	s.feed = services.NewChatFeed(sessionID, sender, o.Channel, c.queue, o.Chat, o.ChatFeed)
	s.feed.Start()

	if handle.IsHost() {
		if o.Engine == nil {
			s.teardown(ctx, false)
			return nil, errors.New("live: audio engine is required for hosts")
		}
		s.mixer = services.NewAudioMixer(o.Engine)
		s.host = services.NewPlaybackHost(sessionID, handle.UserID(), s.mixer, o.Channel, o.Configs, o.Lyrics, o.Playback)
	} else {
		player := o.Player
		if player == nil {
			s.mixer = services.NewAudioMixer(o.Engine)
			player = s.mixer
		}
		s.follower = services.NewPlaybackFollower(sessionID, player, o.Channel, o.Configs, o.Lyrics, o.Playback)
	}

	if o.AutoUnlock && s.mixer != nil {
		if err := s.mixer.Unlock(ctx); err != nil {
			s.teardown(ctx, false)
			return nil, fmt.Errorf("failed to unlock audio: %w", err)
		}
	}

	var err error
	if s.host != nil {
		err = s.host.Start(ctx)
	} else {
		err = s.follower.Start(ctx)
	}
	if err != nil {
		s.teardown(ctx, false)
		return nil, fmt.Errorf("failed to start playback: %w", err)
	}

	// Transport bağlantısı koparsa Session kendini söker
	go func() {
		select {
		case <-handle.Done():
			s.closeAfterDisconnect()
		case <-s.done:
		}
	}()

	return s, nil
}

// Session, katılınmış oturum.
func (c *Client) Session(sessionID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	return s, ok
}

// Leave, oturumdan çıkar. Join hâlâ bekliyorsa iptal edilir.
// Katılınmamış oturum için no-op.
func (c *Client) Leave(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		if p, pending := c.pending[sessionID]; pending {
			p.left = true
			p.cancel()
		}
	}
	c.mu.Unlock()

	if ok {
		return s.Leave(ctx)
	}
	return c.manager.Leave(ctx, sessionID)
}

// Close, tüm oturumlardan çıkar ve offline queue'yu durdurur.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	for _, p := range c.pending {
		p.left = true
		p.cancel()
	}
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Leave(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.queue.Close()
	return errors.Join(errs...)
}

func (c *Client) forget(s *Session) {
	c.mu.Lock()
	if c.sessions[s.sessionID] == s {
		delete(c.sessions, s.sessionID)
	}
	c.mu.Unlock()
}

// ─── Session ───

// Session, tek bir oturumun session-scoped bileşenleri.
// Host'ta Host() ve Mixer() doludur; diğerlerinde Follower().
type Session struct {
	client    *Client
	sessionID string
	userID    string

	handle   *services.SessionHandle
	broker   services.PermissionBroker
	feed     services.ChatFeed
	mixer    services.AudioMixer
	host     services.PlaybackHost
	follower services.PlaybackFollower

	leaveOnce sync.Once
	leaveErr  error
	done      chan struct{}
}

func (s *Session) ID() string                             { return s.sessionID }
func (s *Session) UserID() string                         { return s.userID }
func (s *Session) IsHost() bool                           { return s.host != nil }
func (s *Session) Handle() *services.SessionHandle        { return s.handle }
func (s *Session) Permissions() services.PermissionBroker { return s.broker }
func (s *Session) Chat() services.ChatFeed                { return s.feed }

// Host, host değilse nil.
func (s *Session) Host() services.PlaybackHost { return s.host }

// Follower, host ise nil.
func (s *Session) Follower() services.PlaybackFollower { return s.follower }

// Mixer, harici Player verilmiş follower'larda nil.
func (s *Session) Mixer() services.AudioMixer { return s.mixer }

// Done, Session söküldüğünde kapanır.
func (s *Session) Done() <-chan struct{} { return s.done }

// UnlockAudio, kullanıcı etkileşimi sonrası ses grafını kurar.
func (s *Session) UnlockAudio(ctx context.Context) error {
	if s.mixer == nil {
		return nil
	}
	return s.mixer.Unlock(ctx)
}

// Leave, yayını durdurur, sesi söker, tüm listener'ları kaldırır ve
// çağrıdan çıkar. Hangi adım uçuşta olursa olsun güvenlidir; tekrar
// çağrılırsa ilk sonucu döner.
func (s *Session) Leave(ctx context.Context) error {
	s.leaveOnce.Do(func() {
		s.leaveErr = s.teardown(ctx, true)
		s.client.forget(s)
	})
	return s.leaveErr
}

func (s *Session) closeAfterDisconnect() {
	s.leaveOnce.Do(func() {
		log.Warn().Str("module", "live").Str("session_id", s.sessionID).Msg("transport disconnected, tearing down session")
		s.leaveErr = s.teardown(context.Background(), false)
		s.client.forget(s)
	})
}

// teardown, bileşenleri kurulum sırasının tersinde kapatır.
// leaveCall=false ise çağrı zaten kapanmıştır (ya da manager kapatacaktır).
func (s *Session) teardown(ctx context.Context, leaveCall bool) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.client.opts.LeaveTimeout)
	defer cancel()

	var errs []error
	if s.host != nil {
		if err := s.host.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close playback host: %w", err))
		}
	}
	if s.follower != nil {
		s.follower.Close()
	}
	if s.mixer != nil {
		s.mixer.Teardown()
	}
	if s.feed != nil {
		s.feed.Close()
	}
	if s.broker != nil {
		s.broker.Close()
	}

	if leaveCall {
		if err := s.client.manager.Leave(ctx, s.sessionID); err != nil {
			errs = append(errs, fmt.Errorf("leave call: %w", err))
		}
	}

	select {
	case <-s.done:
	default:
		close(s.done)
	}

	if err := errors.Join(errs...); err != nil {
		log.Warn().Str("module", "live").Str("session_id", s.sessionID).Err(err).Msg("session teardown finished with errors")
		return err
	}
	log.Info().Str("module", "live").Str("session_id", s.sessionID).Msg("session left")
	return nil
}
