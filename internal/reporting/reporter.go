// Package reporting tells the media server what this client is playing.
//
// Reports are best-effort: they are queued and delivered in order by a
// single worker, failures are logged and never reach the caller. Start
// reports are retried with exponential backoff; progress and stop reports
// get one attempt.
package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/KartoffelChipss/pelagica/playerd/internal/jellyfin"
	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

// ErrNoSession means the server has no session for this client yet.
var ErrNoSession = errors.New("reporting: no active session")

// SessionDirectory resolves the server-side session of this client.
// An empty id with a nil error means no session exists.
type SessionDirectory interface {
	CurrentSessionID(ctx context.Context) (string, error)
}

// Remote receives playstate reports.
type Remote interface {
	ReportPlaybackStart(ctx context.Context, r jellyfin.PlaybackReport) error
	ReportPlaybackProgress(ctx context.Context, r jellyfin.PlaybackReport) error
	ReportPlaybackStopped(ctx context.Context, r jellyfin.PlaybackReport) error
}

// Sink is what playback surfaces report through.
type Sink interface {
	ReportStart(itemID string, position types.Ticks)
	ReportProgress(itemID string, position types.Ticks, paused bool)
	ReportStop(itemID string, position types.Ticks)
}

// Backoff is the retry policy for start reports.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Options configures a Reporter.
type Options struct {
	SessionTTL     time.Duration
	StartRetry     Backoff
	RequestTimeout time.Duration
	Now            func() time.Time
}

func normalizeOptions(opts Options) Options {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Second
	}
	if opts.StartRetry.Base <= 0 {
		opts.StartRetry.Base = time.Second
	}
	if opts.StartRetry.Max <= 0 {
		opts.StartRetry.Max = 30 * time.Second
	}
	if opts.StartRetry.MaxAttempts <= 0 {
		opts.StartRetry.MaxAttempts = 3
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}

type kind int

const (
	kindStart kind = iota
	kindProgress
	kindStop
	kindBarrier
)

func (k kind) String() string {
	switch k {
	case kindStart:
		return "start"
	case kindProgress:
		return "progress"
	case kindStop:
		return "stop"
	default:
		return "barrier"
	}
}

type job struct {
	kind   kind
	report jellyfin.PlaybackReport
	done   chan struct{} // barrier only
}

// Reporter delivers playstate reports.
type Reporter struct {
	dir    SessionDirectory
	remote Remote
	opts   Options
	logger zerolog.Logger

	sf        singleflight.Group
	sessMu    sync.Mutex
	sessionID string
	fetchedAt time.Time

	mu      sync.Mutex
	cond    *sync.Cond
	pending []job
	closed  bool

	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
}

// New starts a Reporter. Close it to stop the worker.
func New(dir SessionDirectory, remote Remote, opts Options) *Reporter {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		dir:      dir,
		remote:   remote,
		opts:     normalizeOptions(opts),
		logger:   log.WithComponent("reporting"),
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	go r.worker()
	return r
}

// ReportStart queues a start report.
func (r *Reporter) ReportStart(itemID string, position types.Ticks) {
	r.enqueue(kindStart, jellyfin.PlaybackReport{ItemID: itemID, PositionTicks: position})
}

// ReportProgress queues a progress report. It replaces a progress report
// for the same item that has not been sent yet.
func (r *Reporter) ReportProgress(itemID string, position types.Ticks, paused bool) {
	r.enqueue(kindProgress, jellyfin.PlaybackReport{ItemID: itemID, PositionTicks: position, IsPaused: paused})
}

// ReportStop queues a stop report.
func (r *Reporter) ReportStop(itemID string, position types.Ticks) {
	r.enqueue(kindStop, jellyfin.PlaybackReport{ItemID: itemID, PositionTicks: position})
}

// WithPlaySession returns a Sink that tags every report with playSessionID.
func (r *Reporter) WithPlaySession(playSessionID string) Sink {
	return &scoped{r: r, playSessionID: playSessionID}
}

type scoped struct {
	r             *Reporter
	playSessionID string
}

func (s *scoped) ReportStart(itemID string, position types.Ticks) {
	s.r.enqueue(kindStart, jellyfin.PlaybackReport{ItemID: itemID, PositionTicks: position, PlaySessionID: s.playSessionID})
}

func (s *scoped) ReportProgress(itemID string, position types.Ticks, paused bool) {
	s.r.enqueue(kindProgress, jellyfin.PlaybackReport{ItemID: itemID, PositionTicks: position, IsPaused: paused, PlaySessionID: s.playSessionID})
}

func (s *scoped) ReportStop(itemID string, position types.Ticks) {
	s.r.enqueue(kindStop, jellyfin.PlaybackReport{ItemID: itemID, PositionTicks: position, PlaySessionID: s.playSessionID})
}

func (r *Reporter) enqueue(k kind, report jellyfin.PlaybackReport) {
	if report.ItemID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		reportsTotal.WithLabelValues(k.String(), "dropped").Inc()
		return
	}
	if k == kindProgress {
		if n := len(r.pending); n > 0 {
			last := &r.pending[n-1]
			if last.kind == kindProgress && last.report.ItemID == report.ItemID && last.report.PlaySessionID == report.PlaySessionID {
				last.report = report
				reportsTotal.WithLabelValues(k.String(), "coalesced").Inc()
				return
			}
		}
	}
	r.pending = append(r.pending, job{kind: k, report: report})
	r.cond.Signal()
}

// Flush blocks until every report queued before the call has been handled.
func (r *Reporter) Flush(ctx context.Context) error {
	done := make(chan struct{})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.pending = append(r.pending, job{kind: kindBarrier, done: done})
	r.cond.Signal()
	r.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close delivers what is queued and stops the worker. When ctx expires
// first, in-flight requests are cancelled and the rest is dropped.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()

	select {
	case <-r.finished:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-r.finished
		return ctx.Err()
	}
}

func (r *Reporter) next() (job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.pending) == 0 && !r.closed {
		r.cond.Wait()
	}
	if len(r.pending) == 0 {
		return job{}, false
	}
	j := r.pending[0]
	r.pending = r.pending[1:]
	return j, true
}

func (r *Reporter) worker() {
	defer close(r.finished)
	for {
		j, ok := r.next()
		if !ok {
			return
		}
		if j.kind == kindBarrier {
			close(j.done)
			continue
		}
		if r.ctx.Err() != nil {
			reportsTotal.WithLabelValues(j.kind.String(), "dropped").Inc()
			continue
		}
		r.deliver(j)
	}
}

func (r *Reporter) deliver(j job) {
	start := time.Now()
	var err error
	if j.kind == kindStart {
		err = r.deliverWithRetry(j)
	} else {
		err = r.send(j)
	}
	reportDuration.WithLabelValues(j.kind.String()).Observe(time.Since(start).Seconds())

	logger := r.logger.With().
		Str("kind", j.kind.String()).
		Str("item_id", j.report.ItemID).
		Int64("position_ticks", int64(j.report.PositionTicks)).
		Logger()

	switch {
	case err == nil:
		reportsTotal.WithLabelValues(j.kind.String(), "ok").Inc()
		logger.Debug().Msg("playback reported")
	case errors.Is(err, ErrNoSession):
		reportsTotal.WithLabelValues(j.kind.String(), "skipped").Inc()
		logger.Debug().Msg("no session, report skipped")
	default:
		reportsTotal.WithLabelValues(j.kind.String(), "failed").Inc()
		logger.Warn().Err(err).Msg("playback report failed")
	}
}

func (r *Reporter) deliverWithRetry(j job) error {
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     r.opts.StartRetry.Base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         r.opts.StartRetry.Max,
	}
	policy.Reset()
	_, err := backoff.Retry(r.ctx, func() (struct{}, error) {
		err := r.send(j)
		if errors.Is(err, ErrNoSession) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(r.opts.StartRetry.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Debug().Err(err).Str("item_id", j.report.ItemID).Dur("retry_in", wait).Msg("start report failed, retrying")
		}),
	)
	return err
}

func (r *Reporter) send(j job) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.opts.RequestTimeout)
	defer cancel()

	sid, err := r.CurrentSession(ctx)
	if err != nil {
		return err
	}
	report := j.report
	report.SessionID = sid

	switch j.kind {
	case kindStart:
		return r.remote.ReportPlaybackStart(ctx, report)
	case kindProgress:
		return r.remote.ReportPlaybackProgress(ctx, report)
	default:
		return r.remote.ReportPlaybackStopped(ctx, report)
	}
}

// CurrentSession returns the cached session id, resolving it when the cache
// is empty or older than the TTL. Concurrent callers share one lookup.
func (r *Reporter) CurrentSession(ctx context.Context) (string, error) {
	r.sessMu.Lock()
	if r.sessionID != "" && r.opts.Now().Sub(r.fetchedAt) < r.opts.SessionTTL {
		id := r.sessionID
		r.sessMu.Unlock()
		return id, nil
	}
	r.sessMu.Unlock()

	v, err, _ := r.sf.Do("session", func() (any, error) {
		id, err := r.dir.CurrentSessionID(ctx)
		if err != nil {
			return "", err
		}
		if id == "" {
			return "", ErrNoSession
		}
		r.sessMu.Lock()
		r.sessionID = id
		r.fetchedAt = r.opts.Now()
		r.sessMu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// InvalidateSession drops the cached session id.
func (r *Reporter) InvalidateSession() {
	r.sessMu.Lock()
	r.sessionID = ""
	r.sessMu.Unlock()
}
