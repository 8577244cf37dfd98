// Package service runs one account session: it owns the tracking state and
// serializes every mutation of it on a single event loop goroutine.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/quocanhngo/fleetwatch/internal/channel"
	"github.com/quocanhngo/fleetwatch/internal/mapview"
	"github.com/quocanhngo/fleetwatch/internal/model"
	"github.com/quocanhngo/fleetwatch/internal/publisher"
	"github.com/quocanhngo/fleetwatch/internal/telemetry"
	"github.com/quocanhngo/fleetwatch/internal/tracking"
	"github.com/quocanhngo/fleetwatch/pkg/auth"
	"github.com/quocanhngo/fleetwatch/pkg/storage"
)

// ErrSessionClosed is returned by operations on a session that has ended.
var ErrSessionClosed = errors.New("session closed")

const (
	DefaultStaleAfter    = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second
	DefaultNotifyDedup   = time.Minute

	eventQueueSize    = 256
	journalQueueSize  = 64
	maxPendingDeltas  = 64
	teardownTimeout   = 15 * time.Second
	backgroundTimeout = 30 * time.Second
)

// Backend is the REST collaborator.
type Backend interface {
	Roster(ctx context.Context) ([]model.Device, error)
	Locations(ctx context.Context) ([]model.LocationRecord, error)
	Campus(ctx context.Context) (*model.Campus, error)
	EstablishCampus(ctx context.Context, s model.PositionSample) (*model.Campus, error)
	TrainingStatus(ctx context.Context) (model.TrainingStatus, error)
}

// Journal persists counters and alerts across agent restarts.
type Journal interface {
	LoadStats(sessionKey uuid.UUID) (model.ValidationStats, bool, error)
	SaveStats(sessionKey uuid.UUID, account string, stats model.ValidationStats) error
	AppendAlert(sessionKey uuid.UUID, alert model.AlertEvent) error
	DismissAlert(sessionKey uuid.UUID, alertID uuid.UUID) error
	RecentAlerts(sessionKey uuid.UUID, limit int) ([]model.AlertEvent, error)
}

// Notifier forwards anomaly alerts to operators outside the dashboard.
type Notifier interface {
	Name() string
	NotifyAnomaly(ctx context.Context, alert model.AlertEvent) error
}

// Broadcaster fans dashboard events out to connected operators.
type Broadcaster interface {
	Broadcast(event *model.WSEvent)
}

// Options wires a Session. Backend, Transport and Credential are required;
// everything else may be left zero.
type Options struct {
	Credential auth.Credential
	DeviceID   string

	Backend       Backend
	Transport     channel.Transport
	ChannelConfig channel.Config
	Source        publisher.Source

	Journal     Journal
	Archive     storage.Archive
	Notifiers   []Notifier
	Broadcaster Broadcaster
	Scene       *mapview.Scene

	AutoStartTracking bool
	StaleAfter        time.Duration
	SweepInterval     time.Duration
	RosterRefresh     time.Duration // 0 disables periodic refresh
	NoticeTTL         time.Duration
	AlertCapacity     int
	NotifyDedup       time.Duration

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Session is the session context: the credential and device identity plus
// every component built for them.
type Session struct {
	cred       auth.Credential
	deviceID   string
	sessionKey uuid.UUID

	backend     Backend
	journal     Journal
	archive     storage.Archive
	notifiers   []Notifier
	broadcaster Broadcaster
	metrics     *telemetry.Metrics
	logger      *slog.Logger

	store   *tracking.LocationStore
	zones   *tracking.ZoneOverlay
	alerts  *tracking.AlertAggregator
	stats   *tracking.ValidationStatsAggregator
	notices *tracking.NoticeBoard
	mapview *mapview.Controller
	scene   *mapview.Scene
	channel *channel.Manager
	tracker *publisher.Publisher

	autoStart     bool
	staleAfter    time.Duration
	sweepInterval time.Duration
	rosterRefresh time.Duration
	notified      *cache.Cache

	// loop
	events  chan func()
	quit    chan struct{}
	alive   atomic.Bool
	started atomic.Bool
	done    chan struct{}

	// background work (REST calls, notifiers) bound to the session lifetime
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	// journal writes, drained in order by one background writer
	journalQ chan func()

	// held shared by operations that drive the channel or the publisher
	opsMu sync.RWMutex

	// loop-owned
	rosterInFlight bool
	campusInFlight bool
	pendingDeltas  []model.LocationDelta

	// written on the loop, read by dashboard snapshots
	stateMu       sync.RWMutex
	connState     model.ConnectionState
	trackingState model.TrackingState
	training      model.TrainingStatus
}

// NewSession builds the session and its components. Nothing runs until Run.
func NewSession(opts Options) (*Session, error) {
	if opts.Backend == nil || opts.Transport == nil {
		return nil, errors.New("session requires a backend and a transport")
	}
	if opts.Credential.Token == "" || opts.Credential.Account == "" {
		return nil, auth.ErrMissingCredential
	}
	if opts.Credential.Expired(time.Now()) {
		return nil, auth.ErrCredentialExpired
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("account", opts.Credential.Account)

	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = tracking.DefaultNoticeTTL
	}
	if opts.NotifyDedup <= 0 {
		opts.NotifyDedup = DefaultNotifyDedup
	}
	if opts.Scene == nil {
		opts.Scene = mapview.NewScene(0, 0)
	}

	s := &Session{
		cred:          opts.Credential,
		deviceID:      opts.DeviceID,
		sessionKey:    opts.Credential.SessionKey(),
		backend:       opts.Backend,
		journal:       opts.Journal,
		archive:       opts.Archive,
		notifiers:     opts.Notifiers,
		broadcaster:   opts.Broadcaster,
		metrics:       opts.Metrics,
		logger:        logger,
		scene:         opts.Scene,
		autoStart:     opts.AutoStartTracking,
		staleAfter:    opts.StaleAfter,
		sweepInterval: opts.SweepInterval,
		rosterRefresh: opts.RosterRefresh,
		notified:      cache.New(opts.NotifyDedup, 0),
		events:        make(chan func(), eventQueueSize),
		journalQ:      make(chan func(), journalQueueSize),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
		connState:     model.ConnDisconnected,
		trackingState: model.TrackingInactive,
	}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())

	initial := s.restoreStats()

	s.store = tracking.NewLocationStore(logger)
	s.zones = tracking.NewZoneOverlay(s.store)
	s.alerts = tracking.NewAlertAggregator(opts.AlertCapacity)
	s.stats = tracking.NewValidationStatsAggregator(logger, initial)
	s.notices = tracking.NewNoticeBoard(opts.NoticeTTL)
	s.mapview = mapview.NewController(opts.DeviceID, logger)
	s.channel = channel.NewManager(opts.Transport, s, opts.ChannelConfig, opts.Metrics, logger)
	s.tracker = publisher.New(opts.Source, s.channel, s, opts.DeviceID, opts.Metrics, logger)

	s.restoreAlerts()
	s.alive.Store(true)
	return s, nil
}

func (s *Session) restoreStats() model.ValidationStats {
	if s.journal == nil {
		return model.ValidationStats{}
	}
	stats, found, err := s.journal.LoadStats(s.sessionKey)
	if err != nil {
		s.logger.Warn("failed to load session counters", "error", err)
		return model.ValidationStats{}
	}
	if found {
		s.logger.Info("resuming session counters", "accepted", stats.Accepted, "constrained", stats.Constrained, "rejected", stats.Rejected)
	}
	return stats
}

func (s *Session) restoreAlerts() {
	if s.journal == nil {
		return
	}
	recent, err := s.journal.RecentAlerts(s.sessionKey, tracking.DefaultAlertCapacity)
	if err != nil {
		s.logger.Warn("failed to load alert log", "error", err)
		return
	}
	// stored newest first; push oldest first so the view order matches
	for i := len(recent) - 1; i >= 0; i-- {
		s.alerts.Push(recent[i])
	}
}

// SessionKey identifies this login session in the journal and the archive.
func (s *Session) SessionKey() uuid.UUID { return s.sessionKey }

// Account returns the account identifier announced on the channel.
func (s *Session) Account() string { return s.cred.Account }

// Run loads the baseline, connects the channel and processes events until
// ctx is cancelled. Teardown (tracking stop, channel disconnect, journal
// flush, report archive) happens on every return path.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	defer close(s.done)
	defer s.teardown()

	if err := s.mapview.Attach(s.scene); err != nil {
		return err
	}

	if s.journal != nil {
		s.background(s.runJournal)
	}
	s.background(s.startup)

	sweep := time.NewTicker(s.sweepInterval)
	defer sweep.Stop()

	var rosterC <-chan time.Time
	if s.rosterRefresh > 0 {
		t := time.NewTicker(s.rosterRefresh)
		defer t.Stop()
		rosterC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session ending", "reason", ctx.Err())
			return nil
		case fn := <-s.events:
			fn()
		case <-sweep.C:
			s.sweepStale()
		case <-rosterC:
			s.refreshRoster()
		}
	}
}

// Done is closed once Run has returned and teardown has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// startup runs off the loop: REST baseline, then channel connect, then the
// optional tracking auto-start.
func (s *Session) startup(ctx context.Context) {
	b, err := s.loadBaseline(ctx)
	if err != nil {
		s.post(func() { s.networkFailure("initial load", err) })
	}
	if !s.post(func() { s.applyBaseline(b) }) {
		return
	}

	if ctx.Err() != nil {
		return
	}
	if err := s.channel.Connect(ctx, s.cred); err != nil {
		s.logger.Error("push channel unavailable", "error", err)
	}

	if s.autoStart && ctx.Err() == nil {
		if err := s.tracker.Start(); err != nil {
			s.logger.Warn("tracking auto-start failed", "error", err)
		}
	}
}

type baseline struct {
	roster    []model.Device
	locations []model.LocationRecord
	campus    *model.Campus
	training  *model.TrainingStatus
}

// loadBaseline fetches what it can. Individual failures leave the matching
// part empty; the first error is returned for reporting.
func (s *Session) loadBaseline(ctx context.Context) (baseline, error) {
	var (
		b        baseline
		firstErr error
	)
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	roster, err := s.backend.Roster(ctx)
	keep(err)
	b.roster = roster

	locations, err := s.backend.Locations(ctx)
	keep(err)
	b.locations = locations

	campus, err := s.backend.Campus(ctx)
	keep(err)
	b.campus = campus

	if st, err := s.backend.TrainingStatus(ctx); err == nil {
		b.training = &st
	} else {
		s.logger.Debug("training status unavailable", "error", err)
	}
	return b, firstErr
}

// post queues fn for the loop. It returns false once the session is ending.
func (s *Session) post(fn func()) bool {
	if !s.alive.Load() {
		return false
	}
	select {
	case s.events <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})
	if !s.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrSessionClosed
	}
	select {
	case <-finished:
		return nil
	case <-s.quit:
		return ErrSessionClosed
	}
}

// background runs fn on its own goroutine, bounded by the session lifetime.
func (s *Session) background(fn func(ctx context.Context)) {
	if !s.alive.Load() {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(s.bgCtx)
	}()
}

// journalWrite queues a journal write for the background writer so the loop
// never waits on the database. Called from the loop only.
func (s *Session) journalWrite(what string, fn func() error) {
	if s.journal == nil {
		return
	}
	write := func() {
		if err := fn(); err != nil {
			s.logger.Warn("journal write failed", "op", what, "error", err)
		}
	}
	select {
	case s.journalQ <- write:
	default:
		s.logger.Warn("journal queue full, write dropped", "op", what)
	}
}

// runJournal applies queued writes in order. Once the session ends it
// flushes what is left; the loop has stopped by then, so nothing new arrives.
func (s *Session) runJournal(ctx context.Context) {
	for {
		select {
		case write := <-s.journalQ:
			write()
		case <-ctx.Done():
			for {
				select {
				case write := <-s.journalQ:
					write()
				default:
					return
				}
			}
		}
	}
}

func (s *Session) teardown() {
	s.alive.Store(false)
	close(s.quit)

	s.bgCancel()
	s.bg.Wait()

	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	s.tracker.Stop()
	s.channel.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if s.journal != nil {
		if err := s.journal.SaveStats(s.sessionKey, s.cred.Account, s.stats.Snapshot()); err != nil {
			s.logger.Error("failed to persist session counters", "error", err)
		}
	}
	if err := s.archiveReport(ctx); err != nil {
		s.logger.Error("failed to archive session report", "error", err)
	}
	s.logger.Info("session closed", "session_key", s.sessionKey)
}

func (s *Session) networkFailure(what string, err error) {
	s.logger.Warn("backend call failed", "call", what, "error", err)
	s.postNotice(model.AlertWarning, fmt.Sprintf("Network error during %s: %v", what, err))
	s.publish()
}
