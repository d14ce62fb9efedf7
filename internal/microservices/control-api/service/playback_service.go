package service

import (
	"context"
	"errors"
	"fmt"

	"twinbridge/internal/microservices/control-api/dto"
	"twinbridge/internal/microservices/playback"
	"twinbridge/internal/microservices/publisher"
)

var (
	ErrInvalidChannel = errors.New("channel index out of range")
	ErrNoTrajectory   = errors.New("no trajectory loaded")
)

type PlaybackService interface {
	Status(ctx context.Context) (*dto.PlaybackResponse, error)
	Start(ctx context.Context) (*dto.PlaybackResponse, error)
	Stop(ctx context.Context) (*dto.PlaybackResponse, error)
	SetSpeed(ctx context.Context, speed float64) (*dto.PlaybackResponse, error)
	SetLoop(ctx context.Context, loop bool) (*dto.PlaybackResponse, error)
	FeedChannel(ctx context.Context, index int, angle float32) (*dto.FeedChannelResponse, error)
}

// ChannelFeeder is the part of the publisher the control API drives
type ChannelFeeder interface {
	FeedChannelAngle(index int, angle float32) bool
	Stats() publisher.Stats
	Peers() int
}

// playbackService never touches the scheduler or publisher directly: every
// call is shipped to the goroutine running Scheduler.Run, which owns both
type playbackService struct {
	scheduler *playback.Scheduler
	feeder    ChannelFeeder
	channels  int
	commands  chan<- func()
}

func NewPlaybackService(scheduler *playback.Scheduler, feeder ChannelFeeder, channels int, commands chan<- func()) PlaybackService {
	return &playbackService{
		scheduler: scheduler,
		feeder:    feeder,
		channels:  channels,
		commands:  commands,
	}
}

// exec runs fn on the driver goroutine and waits for it, or for ctx
func (s *playbackService) exec(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case s.commands <- func() { done <- fn() }:
	case <-ctx.Done():
		return fmt.Errorf("playback driver busy: %w", ctx.Err())
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("playback driver busy: %w", ctx.Err())
	}
}

func (s *playbackService) snapshot() *dto.PlaybackResponse {
	st := s.scheduler.Status()
	stats := s.feeder.Stats()
	return &dto.PlaybackResponse{
		State:   st.State,
		Clock:   st.Clock,
		Cursor:  st.Cursor,
		Points:  st.Points,
		Loop:    st.Loop,
		Speed:   st.Speed,
		Loops:   st.Loops,
		Sent:    stats.Sent,
		Dropped: stats.Dropped,
		Peers:   s.feeder.Peers(),
	}
}

func (s *playbackService) Status(ctx context.Context) (*dto.PlaybackResponse, error) {
	var resp *dto.PlaybackResponse
	err := s.exec(ctx, func() error {
		resp = s.snapshot()
		return nil
	})
	return resp, err
}

// Start restarts the loaded trajectory from its first point
func (s *playbackService) Start(ctx context.Context) (*dto.PlaybackResponse, error) {
	var resp *dto.PlaybackResponse
	err := s.exec(ctx, func() error {
		if err := s.scheduler.Restart(); err != nil {
			if errors.Is(err, playback.ErrEmptySequence) {
				return ErrNoTrajectory
			}
			return err
		}
		resp = s.snapshot()
		return nil
	})
	return resp, err
}

func (s *playbackService) Stop(ctx context.Context) (*dto.PlaybackResponse, error) {
	var resp *dto.PlaybackResponse
	err := s.exec(ctx, func() error {
		s.scheduler.Stop()
		resp = s.snapshot()
		return nil
	})
	return resp, err
}

func (s *playbackService) SetSpeed(ctx context.Context, speed float64) (*dto.PlaybackResponse, error) {
	var resp *dto.PlaybackResponse
	err := s.exec(ctx, func() error {
		if err := s.scheduler.SetSpeed(speed); err != nil {
			return err
		}
		resp = s.snapshot()
		return nil
	})
	return resp, err
}

func (s *playbackService) SetLoop(ctx context.Context, loop bool) (*dto.PlaybackResponse, error) {
	var resp *dto.PlaybackResponse
	err := s.exec(ctx, func() error {
		s.scheduler.SetLooping(loop)
		resp = s.snapshot()
		return nil
	})
	return resp, err
}

func (s *playbackService) FeedChannel(ctx context.Context, index int, angle float32) (*dto.FeedChannelResponse, error) {
	if index < 0 || (s.channels > 0 && index >= s.channels) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrInvalidChannel, index, s.channels)
	}
	var sent bool
	err := s.exec(ctx, func() error {
		sent = s.feeder.FeedChannelAngle(index, angle)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dto.FeedChannelResponse{Channel: index, Angle: angle, Sent: sent}, nil
}
