package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumeoagency/newsdesk/backend/internal/notify"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultConnectTimeout = 3 * time.Second
)

// State names the delivery mode of one subscription.
type State string

const (
	StateConnecting State = "connecting"
	StateLive       State = "live"
	StatePolling    State = "polling"
	StateClosed     State = "closed"
)

var (
	errMissingRecipient = errors.New("realtime: recipient id required")
	errMissingFetcher   = errors.New("realtime: fetcher required")
)

// ChannelSource opens a live event stream for a recipient. A handshake
// error or timeout sends the session to polling.
type ChannelSource interface {
	Open(ctx context.Context, recipientID string) (<-chan Message, func(), error)
}

// DispatcherSource adapts the in-process Dispatcher to the ChannelSource
// contract; its handshake never fails.
type DispatcherSource struct {
	Dispatcher *Dispatcher
}

// Open subscribes to the dispatcher.
func (s DispatcherSource) Open(ctx context.Context, recipientID string) (<-chan Message, func(), error) {
	stream, cleanup := s.Dispatcher.Subscribe(ctx, recipientID)
	return stream, cleanup, nil
}

// Fetcher loads the recipient's full record set for the polling fallback.
type Fetcher interface {
	FetchAll(ctx context.Context, recipientID string) ([]notify.Record, error)
}

// Marker flips the read flag in the store; the session updates its local
// counts optimistically before the call resolves.
type Marker interface {
	MarkRead(ctx context.Context, recipientID, recordID string) error
}

// SessionConfig describes one viewer subscription.
type SessionConfig struct {
	RecipientID    string
	Source         ChannelSource
	Fetcher        Fetcher
	Marker         Marker
	PollInterval   time.Duration
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

// Session is a per-viewer subscription to the notification feed with
// automatic degradation to fixed-interval polling. States move Connecting to
// Live on a successful handshake, Connecting or Live to Polling on failure;
// there is no polling-to-live upgrade within a session. The live channel and
// the poll timer are never active at the same time.
type Session struct {
	recipientID    string
	source         ChannelSource
	fetcher        Fetcher
	marker         Marker
	pollInterval   time.Duration
	connectTimeout time.Duration
	logger         *zap.Logger

	mu      sync.Mutex
	state   State
	records []notify.Record
	unread  int

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession constructs and starts the subscription. The initial record set
// is fetched synchronously so the caller starts from authoritative state.
func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.RecipientID == "" {
		return nil, errMissingRecipient
	}
	if cfg.Fetcher == nil {
		return nil, errMissingFetcher
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		recipientID:    cfg.RecipientID,
		source:         cfg.Source,
		fetcher:        cfg.Fetcher,
		marker:         cfg.Marker,
		pollInterval:   pollInterval,
		connectTimeout: connectTimeout,
		logger:         logger,
		state:          StateConnecting,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	if records, err := cfg.Fetcher.FetchAll(sessionCtx, cfg.RecipientID); err == nil {
		session.replaceRecords(records)
	} else {
		logger.Warn("initial notification fetch failed", zap.Error(err))
	}

	go session.run(sessionCtx)
	return session, nil
}

// run is the single owner of all state transitions.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	stream, cleanup, err := s.openChannel(ctx)
	if err != nil {
		s.logger.Info("live channel unavailable, falling back to polling",
			zap.String("recipient_id", s.recipientID), zap.Error(err))
		s.setState(StatePolling)
		s.poll(ctx)
		return
	}
	defer cleanup()

	s.setState(StateLive)
	for {
		select {
		case <-ctx.Done():
			s.setState(StateClosed)
			return
		case message, ok := <-stream:
			if !ok {
				// Channel closed or errored mid-session: degrade, never
				// re-attempt live within this session.
				cleanup()
				s.logger.Info("live channel dropped, falling back to polling",
					zap.String("recipient_id", s.recipientID))
				s.setState(StatePolling)
				s.poll(ctx)
				return
			}
			s.apply(message)
		}
	}
}

func (s *Session) openChannel(ctx context.Context) (<-chan Message, func(), error) {
	if s.source == nil {
		return nil, nil, errors.New("realtime: no channel source configured")
	}

	type handshake struct {
		stream  <-chan Message
		cleanup func()
		err     error
	}
	resultCh := make(chan handshake, 1)
	go func() {
		stream, cleanup, err := s.source.Open(ctx, s.recipientID)
		resultCh <- handshake{stream: stream, cleanup: cleanup, err: err}
	}()

	timer := time.NewTimer(s.connectTimeout)
	defer timer.Stop()
	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, nil, result.err
		}
		return result.stream, result.cleanup, nil
	case <-timer.C:
		go func() {
			if result := <-resultCh; result.cleanup != nil {
				result.cleanup()
			}
		}()
		return nil, nil, errors.New("realtime: channel handshake timed out")
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// poll refetches the full record set on a fixed interval and replaces local
// state wholesale.
func (s *Session) poll(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setState(StateClosed)
			return
		case <-ticker.C:
			records, err := s.fetcher.FetchAll(ctx, s.recipientID)
			if err != nil {
				s.logger.Warn("poll refetch failed", zap.Error(err))
				continue
			}
			s.replaceRecords(records)
		}
	}
}

// apply appends a live event, deduplicating by record id, or by the
// {source id, event type} pair when the id is not yet known locally. The
// pair check absorbs races between an optimistic local echo and the
// authoritative event.
func (s *Session) apply(message Message) {
	if message.EventType != EventNotificationCreated {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if message.RecordID != "" && existing.ID == message.RecordID {
			return
		}
		if existing.ID == "" && existing.SourceID == message.SourceID && existing.EventType == message.EventType {
			return
		}
	}
	s.records = append([]notify.Record{{
		ID:          message.RecordID,
		RecipientID: s.recipientID,
		EventType:   message.EventType,
		SourceID:    message.SourceID,
		Message:     message.Payload,
		CreatedAt:   message.Timestamp,
	}}, s.records...)
	s.unread++
}

func (s *Session) replaceRecords(records []notify.Record) {
	unread := 0
	for _, record := range records {
		if !record.IsRead {
			unread++
		}
	}
	s.mu.Lock()
	s.records = records
	s.unread = unread
	s.mu.Unlock()
}

// MarkRead optimistically updates the local unread count, then issues the
// synchronous store call. The count never drops below zero.
func (s *Session) MarkRead(ctx context.Context, recordID string) error {
	s.mu.Lock()
	for index := range s.records {
		if s.records[index].ID == recordID && !s.records[index].IsRead {
			s.records[index].IsRead = true
			if s.unread > 0 {
				s.unread--
			}
			break
		}
	}
	s.mu.Unlock()

	if s.marker == nil {
		return nil
	}
	return s.marker.MarkRead(ctx, s.recipientID, recordID)
}

// Records returns a copy of the local record set.
func (s *Session) Records() []notify.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]notify.Record, len(s.records))
	copy(snapshot, s.records)
	return snapshot
}

// Unread returns the local unread count.
func (s *Session) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// State reports the current delivery mode.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = state
	}
	s.mu.Unlock()
}

// Close tears the subscription down: the live channel is unsubscribed and
// any pending poll timer stopped in one operation.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
	})
}

// SessionManager enforces at most one active session per viewer.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager constructs an empty manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// Open starts a new session for the viewer, tearing down any previous one
// first so duplicate delivery and leaked timers cannot occur.
func (m *SessionManager) Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	m.mu.Lock()
	previous := m.sessions[cfg.RecipientID]
	delete(m.sessions, cfg.RecipientID)
	m.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	session, err := NewSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[cfg.RecipientID] = session
	m.mu.Unlock()
	return session, nil
}

// CloseAll tears down every active session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, session := range sessions {
		session.Close()
	}
}
