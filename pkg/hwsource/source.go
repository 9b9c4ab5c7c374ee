package hwsource

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp/codecs"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/avsender/pkg/avmedia"
)

// Source passthrough источник сжатого H.264 видео. Реализует avmedia.Track.
type Source struct {
	avmedia.TrackBase

	config  Config
	demux   demuxer
	filter  Filter
	logger  *logrus.Entry
	payload codecs.H264Payloader

	metadata map[string]string

	// Темп выдачи для Realtime
	paceStart time.Time
	paceFirst int64
	paced     bool

	keyframeWarnOnce sync.Once
	stopOnce         sync.Once
	stopped          atomic.Bool
	stopErr          error

	// Держится ToStream на время чтения
	readMu sync.Mutex
}

// Open открывает устройство или контейнер
func Open(config Config) (*Source, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("неверная конфигурация источника: %w", err)
	}

	demux, err := openDemuxer(config)
	if err != nil {
		return nil, avmedia.NewStreamError("open", config.File, err)
	}

	source, err := newSource(config, demux)
	if err != nil {
		demux.Close()
		return nil, err
	}

	source.logger.WithFields(logrus.Fields{
		"time_base": demux.TimeBase().String(),
		"realtime":  config.Realtime,
		"mtu":       config.MTU,
	}).Info("источник открыт")
	return source, nil
}

func newSource(config Config, demux demuxer) (*Source, error) {
	metadata, err := DecodeMetadata(demux.Metadata(), config.MetadataEncoding, config.MetadataErrors)
	if err != nil {
		return nil, avmedia.NewStreamError("metadata", config.File, err)
	}

	logger := config.Logger
	if logger == nil {
		logger = logrus.WithFields(logrus.Fields{
			"component": "hwsource",
			"kind":      avmedia.KindVideo.String(),
		})
	}
	logger = logger.WithFields(logrus.Fields{
		"file":   config.File,
		"format": config.Format,
	})

	return &Source{
		TrackBase: avmedia.NewTrackBase(avmedia.KindVideo),
		config:    config,
		demux:     demux,
		filter:    demux.Filter(),
		logger:    logger,
		metadata:  metadata,
	}, nil
}

// Metadata возвращает декодированные метаданные источника
func (s *Source) Metadata() map[string]string {
	return s.metadata
}

// ToStream читает один блок доступа и выдает его одной пачкой: один пакет
// или фрагменты по MTU. Метки времени нормализуются часами трека относительно
// req.TimeOrigin и выдаются во временной базе 1/90000.
func (s *Source) ToStream(ctx context.Context, req avmedia.StreamRequest) iter.Seq2[*avmedia.Packet, error] {
	return func(yield func(*avmedia.Packet, error) bool) {
		packets, err := s.nextBatch(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, pkt := range packets {
			if !yield(pkt, nil) {
				return
			}
		}
	}
}

func (s *Source) nextBatch(ctx context.Context, req avmedia.StreamRequest) ([]*avmedia.Packet, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.stopped.Load() {
		return nil, avmedia.NewStreamError("read", s.config.File, ErrSourceStopped)
	}

	if req.ForceKeyframe {
		s.requestKeyframe()
	}

	au, err := s.demux.ReadAccessUnit(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, avmedia.NewStreamError("read", s.config.File, err)
	}

	data, keyframe, err := s.filter.Filter(au.Data)
	if err != nil {
		s.logger.WithError(err).Debug("блок доступа отброшен фильтром")
		return nil, avmedia.NewStreamError("filter", s.config.File, err)
	}
	keyframe = keyframe || au.Keyframe

	if s.config.Realtime {
		if err := s.pace(ctx, au.PTS); err != nil {
			return nil, err
		}
	}

	target := s.Clock().Target()
	pts := int64(s.ElapsedTime(req.TimeOrigin, s.demux.TimeBase(), au.PTS))

	if s.config.MTU == 0 {
		return []*avmedia.Packet{{Data: data, PTS: pts, TimeBase: target, Keyframe: keyframe}}, nil
	}

	fragments := s.payload.Payload(s.config.payloadMTU(), data)
	packets := make([]*avmedia.Packet, 0, len(fragments))
	for _, fragment := range fragments {
		packets = append(packets, &avmedia.Packet{Data: fragment, PTS: pts, TimeBase: target, Keyframe: keyframe})
	}
	return packets, nil
}

// pace ждет, пока с начала чтения пройдет столько же реального времени,
// сколько медиа времени прошло с первого блока доступа
func (s *Source) pace(ctx context.Context, pts int64) error {
	if !s.paced {
		s.paced = true
		s.paceStart = time.Now()
		s.paceFirst = pts
		return nil
	}

	offset := avmedia.ConvertTimebase(pts-s.paceFirst, s.demux.TimeBase(), avmedia.NewTimeBase(1, int64(time.Second)))
	wait := time.Until(s.paceStart.Add(time.Duration(offset)))
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Source) requestKeyframe() {
	err := s.demux.RequestKeyframe()
	switch {
	case err == nil:
		s.config.Metrics.KeyframeRequestForwarded(s.config.Format)
		s.logger.Debug("запрос ключевого кадра передан кодеру")
	case errors.Is(err, ErrKeyframeUnsupported):
		s.config.Metrics.KeyframeRequestIgnored(s.config.Format)
		s.keyframeWarnOnce.Do(func() {
			s.logger.Warn("источник не умеет выдавать ключевой кадр по запросу, запросы игнорируются")
		})
	default:
		s.config.Metrics.KeyframeRequestIgnored(s.config.Format)
		s.logger.WithError(err).Warn("ошибка запроса ключевого кадра")
	}
}

// Stop закрывает устройство или контейнер. Повторный вызов безопасен.
func (s *Source) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.stopErr = s.demux.Close()
		s.logger.Debug("источник остановлен")
	})
	return s.stopErr
}
