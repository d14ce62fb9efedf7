package playback

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"twinbridge/internal/metrics"
	"twinbridge/internal/trajectory"
)

var ErrEmptySequence = errors.New("trajectory sequence is empty")

type State int

const (
	Idle State = iota
	Playing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PointPublisher receives every due trajectory point
type PointPublisher interface {
	PublishTrajectoryPoint(point trajectory.Point) int
}

type Options struct {
	Loop    bool
	Speed   float64 // multiplier applied by Run; defaults to 1
	Logger  *slog.Logger
	Metrics *metrics.Telemetry
}

// Status is a point-in-time view of the scheduler
type Status struct {
	State  string  `json:"state"`
	Clock  float64 `json:"clock"`
	Cursor int     `json:"cursor"`
	Points int     `json:"points"`
	Loop   bool    `json:"loop"`
	Speed  float64 `json:"speed"`
	Loops  uint64  `json:"loops"`
}

// Scheduler advances a virtual clock and publishes the trajectory points that
// fall due. It is not safe for concurrent use; Run serialises outside calls
// through its command channel.
type Scheduler struct {
	pub     PointPublisher
	logger  *slog.Logger
	metrics *metrics.Telemetry

	seq    *trajectory.Sequence
	points []trajectory.Point
	cursor int     // next point to publish
	clock  float64 // virtual time, same unit as the timestamps
	state  State
	loop   bool
	speed  float64
	loops  uint64
}

func New(pub PointPublisher, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	return &Scheduler{
		pub:     pub,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		loop:    opts.Loop,
		speed:   opts.Speed,
	}
}

// Initialize starts playback of seq from its first point, which is published
// immediately. The cursor stays on that point so the first Tick sends it again
// together with everything else already due.
func (s *Scheduler) Initialize(seq *trajectory.Sequence) error {
	if seq == nil || seq.Len() == 0 {
		return ErrEmptySequence
	}
	s.seq = seq
	s.points = seq.Points
	s.cursor = 0
	s.clock = s.points[0].Timestamp
	s.state = Playing

	s.pub.PublishTrajectoryPoint(s.points[0])
	s.metrics.SetCursor(s.cursor)

	s.logger.Info("playback_initialized",
		"points", len(s.points),
		"duration", seq.Duration(),
		"loop", s.loop,
	)
	return nil
}

// Restart plays the last initialized sequence again from the beginning
func (s *Scheduler) Restart() error {
	return s.Initialize(s.seq)
}

// Tick advances the clock by dt*speed and publishes every due point in order.
// It returns the number of points published.
func (s *Scheduler) Tick(dt, speed float64) int {
	if s.state != Playing {
		return 0
	}
	advance := dt * speed
	// a non-finite step would leave the clock unusable
	if !(advance > 0) || math.IsInf(advance, 1) {
		return 0
	}
	s.clock += advance

	published := 0
	for {
		for s.cursor < len(s.points) && s.points[s.cursor].Timestamp <= s.clock {
			s.pub.PublishTrajectoryPoint(s.points[s.cursor])
			s.cursor++
			published++
		}
		if s.cursor < len(s.points) {
			break
		}

		if !s.loop {
			s.state = Stopped
			s.logger.Info("playback_finished", "clock", s.clock, "points", len(s.points))
			break
		}

		first := s.points[0].Timestamp
		last := s.points[len(s.points)-1].Timestamp
		overshoot := s.clock - last
		s.clock = first + overshoot
		s.pub.PublishTrajectoryPoint(s.points[0])
		s.cursor = 1
		published++
		s.loops++
		s.metrics.IncLoops()
		s.logger.Debug("playback_looped", "overshoot", overshoot, "loops", s.loops)

		// a zero-length sequence would wrap forever within one tick
		if last-first <= 0 {
			break
		}
	}
	s.metrics.SetCursor(s.cursor)
	return published
}

// Stop halts playback from any state. Calling it again is a no-op.
func (s *Scheduler) Stop() {
	if s.state == Stopped {
		return
	}
	s.state = Stopped
	s.logger.Info("playback_stopped", "clock", s.clock, "cursor", s.cursor)
}

func (s *Scheduler) State() State   { return s.state }
func (s *Scheduler) Clock() float64 { return s.clock }
func (s *Scheduler) Cursor() int    { return s.cursor }
func (s *Scheduler) Loops() uint64  { return s.loops }
func (s *Scheduler) Speed() float64 { return s.speed }

func (s *Scheduler) SetLooping(loop bool) { s.loop = loop }

// SetSpeed changes the multiplier Run uses; zero pauses, negative values are rejected
func (s *Scheduler) SetSpeed(speed float64) error {
	if speed < 0 {
		return errors.New("speed must not be negative")
	}
	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		return errors.New("speed must be a finite number")
	}
	s.speed = speed
	return nil
}

func (s *Scheduler) Status() Status {
	return Status{
		State:  s.state.String(),
		Clock:  s.clock,
		Cursor: s.cursor,
		Points: len(s.points),
		Loop:   s.loop,
		Speed:  s.speed,
		Loops:  s.loops,
	}
}

// Run drives Tick from a ticker until ctx is cancelled. Functions received on
// commands run on the same goroutine, between ticks, so callers on other
// goroutines (the control API) never touch the scheduler directly.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, commands <-chan func()) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("playback_driver_stopped", "state", s.state.String())
			return nil
		case cmd := <-commands:
			if cmd != nil {
				cmd()
			}
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			s.Tick(dt, s.speed)
		}
	}
}
