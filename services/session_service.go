// Package services, canlı oturum koordinasyon katmanının iş mantığını barındırır.
//
// SessionManager sorumlulukları:
// 1. Join/create state machine (Idle → Joining → WaitingForHost → Joined → Left)
// 2. Host-oluşturur / katılımcı-bekler yarışını çözmek
// 3. Katılımcı capability ve bağlantı durumlarını SessionHandle üzerinden izlemek
//
// Join idempotent'tir: aynı oturuma ikinci Join mevcut handle'ı döner, eşzamanlı
// Join çağrıları aynı denemenin sonucunu paylaşır. Leave, bekleyen bir Join'i
// iptal eder; deneme sonucu uygulanmadan önce entry'nin hâlâ istendiği
// (alive) kontrol edilir.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
)

// ─── SessionManager Interface ───

// SessionManager, oturum katılım yaşam döngüsünü yönetir.
type SessionManager interface {
	// Join, oturuma katılır. isHost=true ise oturumu oluşturur.
	// Host olmayan katılımcılar oda açılana kadar WaitingForHost'ta bekler;
	// Join bu sürede bloklanır (ctx ile iptal edilebilir).
	Join(ctx context.Context, sessionID, userID string, isHost bool) (*SessionHandle, error)

	// Leave, oturumdan çıkar. Bekleyen bir Join varsa iptal edilir.
	// Katılınmamış bir oturum için no-op.
	Leave(ctx context.Context, sessionID string) error

	// Handle, katılınmış oturumun handle'ını döner.
	Handle(sessionID string) (*SessionHandle, bool)

	// State, oturumun manager tarafındaki durumu.
	State(sessionID string) models.SessionState
}

// SessionManagerConfig, SessionManager ayarları.
type SessionManagerConfig struct {
	GrantRetryInterval time.Duration
	GrantTimeout       time.Duration
	// CleanupTimeout, yarım kalan join'lerde çağrıdan çıkma süresi.
	CleanupTimeout time.Duration
}

// ─── Implementasyon ───

type sessionEntry struct {
	sessionID string
	userID    string
	isHost    bool

	state   models.SessionState
	handle  *SessionHandle
	attempt *joinAttempt
	cancel  context.CancelFunc

	// alive, Leave çağrıldığında false olur. Join sonucu yalnızca
	// alive iken uygulanır.
	alive bool
}

// joinAttempt, uçuştaki tek bir join denemesi. Eşzamanlı Join'ler bunu paylaşır.
type joinAttempt struct {
	done    chan struct{}
	handle  *SessionHandle
	err     error
	waiters int
}

type sessionManager struct {
	provider TransportProvider
	wallets  WalletResolver // nil olabilir
	cfg      SessionManagerConfig

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

// NewSessionManager, yeni bir SessionManager oluşturur.
func NewSessionManager(provider TransportProvider, wallets WalletResolver, cfg SessionManagerConfig) SessionManager {
	if cfg.GrantRetryInterval <= 0 {
		cfg.GrantRetryInterval = DefaultGrantRetryInterval
	}
	if cfg.GrantTimeout <= 0 {
		cfg.GrantTimeout = DefaultGrantTimeout
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 5 * time.Second
	}
	return &sessionManager{
		provider: provider,
		wallets:  wallets,
		cfg:      cfg,
		entries:  make(map[string]*sessionEntry),
	}
}

func (m *sessionManager) Join(ctx context.Context, sessionID, userID string, isHost bool) (*SessionHandle, error) {
	if sessionID == "" || userID == "" {
		return nil, fmt.Errorf("%w: session id and user id are required", pkg.ErrBadRequest)
	}

	m.mu.Lock()
	if e, ok := m.entries[sessionID]; ok {
		if e.userID != userID {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: session %s is already joined as another user", pkg.ErrAlreadyExists, sessionID)
		}
		if e.state == models.SessionJoined {
			h := e.handle
			m.mu.Unlock()
			return h, nil
		}
		if a := e.attempt; a != nil {
			a.waiters++
			m.mu.Unlock()
			return m.wait(ctx, e, a)
		}
	}

	// Join context'i çağıranın iptalinden bağımsızdır; deneme yalnızca
	// Leave ya da son bekleyenin vazgeçmesiyle iptal edilir.
	joinCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &sessionEntry{
		sessionID: sessionID,
		userID:    userID,
		isHost:    isHost,
		state:     models.SessionJoining,
		cancel:    cancel,
		alive:     true,
	}
	a := &joinAttempt{done: make(chan struct{}), waiters: 1}
	e.attempt = a
	m.entries[sessionID] = e
	m.mu.Unlock()

	log.Info().Str("module", "session").
		Str("session_id", sessionID).
		Str("user_id", userID).
		Bool("is_host", isHost).
		Msg("joining session")

	go m.run(joinCtx, e, a)
	return m.wait(ctx, e, a)
}

// wait, denemenin bitmesini ya da ctx iptalini bekler. Son bekleyen de
// vazgeçerse deneme iptal edilir.
func (m *sessionManager) wait(ctx context.Context, e *sessionEntry, a *joinAttempt) (*SessionHandle, error) {
	select {
	case <-a.done:
		return a.handle, a.err
	case <-ctx.Done():
	}

	m.mu.Lock()
	a.waiters--
	abandon := a.waiters == 0 && e.attempt == a
	if abandon {
		e.alive = false
		e.cancel()
		if m.entries[e.sessionID] == e {
			delete(m.entries, e.sessionID)
		}
	}
	m.mu.Unlock()

	// Deneme aynı anda bitmiş olabilir
	select {
	case <-a.done:
		if !abandon {
			return a.handle, a.err
		}
	default:
	}
	return nil, ctx.Err()
}

// run, denemeyi yürütür ve sonucu (hâlâ isteniyorsa) uygular.
func (m *sessionManager) run(ctx context.Context, e *sessionEntry, a *joinAttempt) {
	h, err := m.join(ctx, e)

	m.mu.Lock()
	if err == nil && !e.alive {
		err = fmt.Errorf("%w: left while joining", pkg.ErrSessionLeft)
	} else if err != nil && !e.alive {
		err = fmt.Errorf("%w: %v", pkg.ErrSessionLeft, err)
	}

	if err == nil {
		e.state = models.SessionJoined
		e.handle = h
		h.setOnClosed(func() { m.forget(e.sessionID, h) })
		a.handle = h
	} else if m.entries[e.sessionID] == e {
		delete(m.entries, e.sessionID)
	}
	e.attempt = nil
	a.err = err
	m.mu.Unlock()
	close(a.done)

	if err != nil {
		if h != nil {
			// Leave, join bittikten hemen önce geldi: üyelik yeniden kurulmaz.
			m.closeDetached(h)
		}
		log.Warn().Str("module", "session").
			Str("session_id", e.sessionID).
			Err(err).
			Msg("join failed")
		return
	}

	log.Info().Str("module", "session").
		Str("session_id", e.sessionID).
		Str("user_id", e.userID).
		Msg("joined session")
}

// join, çağrıyı kurar ve katılım sonrası yan etkileri uygular.
// Hata dönerse kurulmuş çağrıdan zaten çıkılmıştır.
func (m *sessionManager) join(ctx context.Context, e *sessionEntry) (*SessionHandle, error) {
	var (
		call CallHandle
		err  error
	)
	if e.isHost {
		call, err = m.provider.CreateOrJoin(ctx, e.sessionID, e.userID, true)
	} else {
		call, err = m.joinWhenAvailable(ctx, e)
	}
	if err != nil {
		return nil, err
	}

	if !m.isAlive(e) {
		m.leaveCall(call, e.isHost)
		return nil, pkg.ErrSessionLeft
	}

	h, err := m.prepare(ctx, e, call)
	if err != nil {
		m.leaveCall(call, e.isHost)
		return nil, err
	}
	return h, nil
}

// joinWhenAvailable, oda açılana kadar bekler. Tight loop yok: her
// membership/metadata sinyali için tam bir deneme yapılır; aynı anda gelen
// sinyaller 1 slotluk buffer'da birleşir.
func (m *sessionManager) joinWhenAvailable(ctx context.Context, e *sessionEntry) (CallHandle, error) {
	signal := make(chan struct{}, 1)
	stop := m.provider.WatchSession(e.sessionID, func() {
		select {
		case signal <- struct{}{}:
		default:
		}
	})
	defer stop()

	for {
		call, err := m.provider.CreateOrJoin(ctx, e.sessionID, e.userID, false)
		if err == nil {
			return call, nil
		}
		if !errors.Is(err, pkg.ErrSessionNotFound) {
			return nil, err
		}

		if m.setState(e, models.SessionWaitingForHost) {
			log.Info().Str("module", "session").
				Str("session_id", e.sessionID).
				Msg("waiting for host")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-signal:
		}
	}
}

// prepare, katılım sonrası yan etkileri uygular ve handle'ı oluşturur.
func (m *sessionManager) prepare(ctx context.Context, e *sessionEntry, call CallHandle) (*SessionHandle, error) {
	// Audio-only ürün: kamera her zaman kapalı.
	if err := call.DisableCamera(ctx); err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("failed to disable camera")
	}

	var md models.SessionMetadata

	if e.isHost {
		err := retryParticipant(ctx, m.cfg.GrantRetryInterval, m.cfg.GrantTimeout, func(ctx context.Context) error {
			return call.GrantCapabilities(ctx, e.userID, models.AllCapabilities)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to grant host capabilities: %w", err)
		}

		if err := call.EnableMicrophone(ctx); err != nil {
			log.Warn().Str("module", "session").Err(err).Msg("failed to enable microphone")
		}

		wallet := m.hostWallet(ctx, e.userID)
		md, err = mergeMetadata(ctx, call, func(cur models.SessionMetadata) models.SessionMetadata {
			cur.IsStreaming = true
			if wallet != "" {
				cur.HostWalletAddress = &wallet
			}
			return cur
		})
		if err != nil {
			log.Warn().Str("module", "session").Err(err).Msg("failed to publish session metadata")
		}
	} else {
		var err error
		md, err = call.Metadata(ctx)
		if err != nil {
			log.Warn().Str("module", "session").Err(err).Msg("failed to read session metadata")
		}
		// Eski grant'ler kalmış olabilir; mirror'da yoksa yetkiler kaldırılır.
		if !md.IsAllowedSpeaker(e.userID) {
			if err := call.RevokeCapabilities(ctx, e.userID, models.AllCapabilities); err != nil {
				log.Warn().Str("module", "session").Err(err).Msg("failed to revoke stale capabilities")
			}
		}
	}

	return newSessionHandle(e.sessionID, e.userID, e.isHost, call, md), nil
}

// hostWallet, cüzdan adresini çözer. Bilgi amaçlıdır; hata loglanır.
func (m *sessionManager) hostWallet(ctx context.Context, userID string) string {
	if m.wallets == nil {
		return ""
	}
	addr, err := m.wallets.HostWallet(ctx, userID)
	if err != nil {
		log.Warn().Str("module", "session").Str("user_id", userID).Err(err).Msg("failed to resolve host wallet")
		return ""
	}
	return addr
}

func (m *sessionManager) Leave(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	e, ok := m.entries[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	e.alive = false
	e.state = models.SessionLeft
	e.cancel()
	delete(m.entries, sessionID)
	h := e.handle
	m.mu.Unlock()

	log.Info().Str("module", "session").Str("session_id", sessionID).Msg("leaving session")

	// Join hâlâ uçuştaysa çağrıyı run() kapatır.
	if h == nil {
		return nil
	}
	return h.close(ctx)
}

func (m *sessionManager) Handle(sessionID string) (*SessionHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[sessionID]
	if !ok || e.state != models.SessionJoined {
		return nil, false
	}
	return e.handle, true
}

func (m *sessionManager) State(sessionID string) models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[sessionID]; ok {
		return e.state
	}
	return models.SessionIdle
}

func (m *sessionManager) isAlive(e *sessionEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.alive
}

// setState, entry hâlâ canlıysa state'i değiştirir. Değiştiyse true döner.
func (m *sessionManager) setState(e *sessionEntry, s models.SessionState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !e.alive || e.state == s {
		return false
	}
	e.state = s
	return true
}

// forget, transport tarafından kapatılan handle'ın entry'sini siler.
func (m *sessionManager) forget(sessionID string, h *SessionHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[sessionID]; ok && e.handle == h {
		e.alive = false
		delete(m.entries, sessionID)
	}
}

func (m *sessionManager) leaveCall(call CallHandle, isHost bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CleanupTimeout)
	defer cancel()

	var err error
	if isHost {
		err = call.End(ctx)
	} else {
		err = call.Leave(ctx)
	}
	if err != nil {
		log.Warn().Str("module", "session").Str("session_id", call.SessionID()).Err(err).Msg("failed to leave call")
	}
}

func (m *sessionManager) closeDetached(h *SessionHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CleanupTimeout)
	defer cancel()
	if err := h.close(ctx); err != nil {
		log.Warn().Str("module", "session").Str("session_id", h.SessionID()).Err(err).Msg("failed to leave call")
	}
}

// ─── SessionHandle ───

// SessionHandle, katılınmış tek bir oturum. Leave ile Left olur ve bir daha
// kullanılamaz; sonraki Join yeni bir handle üretir.
//
// Transport event'leri tek bir dispatch fonksiyonunda işlenir: katılımcı
// snapshot'ı ve metadata mirror'ı burada tutulur, sonra dinleyicilere iletilir.
type SessionHandle struct {
	sessionID string
	userID    string
	isHost    bool
	call      CallHandle

	mu           sync.RWMutex
	state        models.SessionState
	participants map[string]models.Participant
	metadata     models.SessionMetadata
	listeners    map[int]func(TransportEvent)
	nextID       int

	removeEvent func()
	done        chan struct{}
	closeOnce   sync.Once
	closeErr    error

	// onClosed, manager'ın entry'yi unutması için (Disconnected).
	onClosed func()
}

func newSessionHandle(sessionID, userID string, isHost bool, call CallHandle, md models.SessionMetadata) *SessionHandle {
	h := &SessionHandle{
		sessionID:    sessionID,
		userID:       userID,
		isHost:       isHost,
		call:         call,
		state:        models.SessionJoined,
		participants: make(map[string]models.Participant),
		metadata:     md,
		listeners:    make(map[int]func(TransportEvent)),
		done:         make(chan struct{}),
	}
	for _, p := range call.Participants() {
		h.participants[p.UserID] = p
	}
	h.removeEvent = call.OnEvent(h.dispatch)
	return h
}

func (h *SessionHandle) SessionID() string { return h.sessionID }
func (h *SessionHandle) UserID() string    { return h.userID }
func (h *SessionHandle) IsHost() bool      { return h.isHost }
func (h *SessionHandle) Call() CallHandle  { return h.call }

// Done, handle Left olduğunda kapanır.
func (h *SessionHandle) Done() <-chan struct{} { return h.done }

func (h *SessionHandle) State() models.SessionState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Metadata, paylaşılan metadata'nın yerel mirror'ı.
func (h *SessionHandle) Metadata() models.SessionMetadata {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.metadata
}

// Participants, uzak katılımcıların snapshot'ı (UserID sıralı).
func (h *SessionHandle) Participants() []models.Participant {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.Participant, 0, len(h.participants))
	for _, p := range h.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Speakers, en az bir track yayınlayan katılımcılar.
func (h *SessionHandle) Speakers() []models.Participant {
	all := h.Participants()
	out := all[:0]
	for _, p := range all {
		if p.IsPublishing() {
			out = append(out, p)
		}
	}
	return out
}

// OnEvent, handle'ın işlediği transport event'lerini dinler.
func (h *SessionHandle) OnEvent(fn func(TransportEvent)) (remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == models.SessionLeft {
		return func() {}
	}
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn

	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

func (h *SessionHandle) setOnClosed(fn func()) {
	h.mu.Lock()
	h.onClosed = fn
	h.mu.Unlock()
}

// setMetadata, başarılı bir yazımdan sonra mirror'ı günceller.
func (h *SessionHandle) setMetadata(md models.SessionMetadata) {
	h.mu.Lock()
	h.metadata = md
	h.mu.Unlock()
}

// dispatch, transport event'lerinin tek giriş noktası.
func (h *SessionHandle) dispatch(ev TransportEvent) {
	h.mu.Lock()
	if h.state == models.SessionLeft {
		h.mu.Unlock()
		return
	}

	switch ev.Kind {
	case TransportMetadataChanged:
		h.metadata = ev.Metadata
	case TransportParticipantJoined, TransportParticipantUpdated,
		TransportTrackPublished, TransportTrackUnpublished:
		if ev.Participant.UserID != "" && ev.Participant.UserID != h.userID {
			h.participants[ev.Participant.UserID] = ev.Participant
		}
	case TransportParticipantLeft:
		delete(h.participants, ev.Participant.UserID)
	case TransportPermissionRequested:
		// mirror'da tutulmaz; PermissionBroker dinler
	case TransportDisconnected:
	}

	listeners := make([]func(TransportEvent), 0, len(h.listeners))
	for _, fn := range h.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}

	if ev.Kind == TransportDisconnected {
		log.Warn().Str("module", "session").
			Str("session_id", h.sessionID).
			AnErr("reason", ev.Err).
			Msg("transport disconnected")

		// Provider callback'i içinden çağrıdan çıkılmaz.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = h.close(ctx)
		}()
	}
}

// close, handle'ı Left yapar, dinleyicileri siler ve çağrıdan çıkar.
// Host için oda herkes için kapatılır. İdempotent.
func (h *SessionHandle) close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.state = models.SessionLeft
		h.listeners = make(map[int]func(TransportEvent))
		onClosed := h.onClosed
		h.mu.Unlock()

		if h.removeEvent != nil {
			h.removeEvent()
		}
		close(h.done)
		if onClosed != nil {
			onClosed()
		}

		if h.isHost {
			h.closeErr = h.call.End(ctx)
		} else {
			h.closeErr = h.call.Leave(ctx)
		}
	})
	return h.closeErr
}
