package rtp

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/avsender/pkg/avmedia"
	"github.com/arzzra/avsender/pkg/metrics"
)

// DefaultIdleInterval период проверки подключения трека в состоянии idle
const DefaultIdleInterval = 20 * time.Millisecond

// Состояния отправителя
const (
	StateIdle      = "idle"
	StateStreaming = "streaming"
	StateStopped   = "stopped"
)

// События конечного автомата отправителя
const (
	eventAttach = "attach"
	eventDetach = "detach"
	eventStop   = "stop"
)

// SenderConfig конфигурация отправителя RTP
type SenderConfig struct {
	Kind  avmedia.Kind
	Codec avmedia.Codec

	// Mid согласованный идентификатор медиа
	Mid        string
	Extensions HeaderExtensionMap

	// SSRC источника. 0 - случайный.
	SSRC uint32

	// InitialSequenceNumber первый номер последовательности. 0 - случайный.
	InitialSequenceNumber uint16

	// TimeOrigin начало отсчета RTP времени для треков. 0 - случайное.
	TimeOrigin uint32

	// CNAME для SDES. Пустой - случайный UUID.
	CNAME string

	IdleInterval time.Duration
	Transport    Transport

	Metrics *metrics.Metrics
	Logger  *logrus.Entry

	// Now источник времени для abs-send-time и отчетов
	Now func() time.Time
}

// DefaultSenderConfig возвращает конфигурацию видео отправителя H.264 по умолчанию
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Kind: avmedia.KindVideo,
		Codec: avmedia.Codec{
			PayloadType: 96,
			ClockRate:   avmedia.VideoClockRate,
			MimeType:    "video/H264",
		},
		Mid:          "0",
		Extensions:   DefaultHeaderExtensionMap(),
		IdleInterval: DefaultIdleInterval,
	}
}

// ApplyDefaults заполняет незаданные поля
func (c *SenderConfig) ApplyDefaults() {
	if c.Codec.ClockRate == 0 {
		c.Codec.ClockRate = c.Kind.ClockRate()
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = DefaultIdleInterval
	}
	if c.CNAME == "" {
		c.CNAME = uuid.NewString()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Validate проверяет конфигурацию
func (c *SenderConfig) Validate() error {
	if c.Transport == nil {
		return fmt.Errorf("транспорт обязателен")
	}
	if c.Kind != avmedia.KindAudio && c.Kind != avmedia.KindVideo {
		return fmt.Errorf("неизвестный тип медиа: %s", c.Kind)
	}
	if c.Codec.PayloadType > 127 {
		return fmt.Errorf("невалидный payload type: %d (максимум 127)", c.Codec.PayloadType)
	}
	if c.Codec.ClockRate == 0 {
		return fmt.Errorf("частота тактирования кодека не задана")
	}
	if len(c.Mid) > 16 {
		return fmt.Errorf("mid длиннее 16 байт: %q", c.Mid)
	}
	return c.Extensions.Validate()
}

// SenderStats счетчики отправителя для RTCP sender report
type SenderStats struct {
	PacketsSent      uint32    // Отправлено пакетов (по модулю 2^32)
	OctetsSent       uint32    // Отправлено байт полезной нагрузки (по модулю 2^32)
	LastNTPTime      uint64    // NTP время последней отправки
	LastRTPTimestamp uint32    // RTP метка последнего пакета
	LastSentAt       time.Time // Время последней отправки
	SequenceNumber   uint16    // Номер следующего пакета
}

// Sender цикл отправки RTP одного трека.
//
// Состояния: idle (трек не подключен) -> streaming -> stopped (конечное).
// Цикл запрашивает у трека пачки пакетов, нумерует их, ставит маркер на
// последний пакет пачки, заполняет расширения заголовка и передает
// сериализованный пакет транспорту.
type Sender struct {
	config    SenderConfig
	logger    *logrus.Entry
	transport Transport
	ssrc      uint32

	stateMachine *fsm.FSM

	mu       sync.Mutex
	track    avmedia.Track
	attached chan struct{}

	forceKeyframe atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	cancel    context.CancelFunc
	exited    chan struct{}
	exitErr   error

	history history

	statsMu sync.RWMutex
	stats   SenderStats

	// Принадлежат горутине цикла
	sequenceNumber uint16
	timeOrigin     uint32
}

// NewSender создает отправитель в состоянии idle
func NewSender(config SenderConfig) (*Sender, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("неверная конфигурация отправителя: %w", err)
	}

	ssrc := config.SSRC
	if ssrc == 0 {
		var err error
		if ssrc, err = generateSSRC(); err != nil {
			return nil, fmt.Errorf("ошибка генерации SSRC: %w", err)
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = logrus.WithFields(logrus.Fields{
			"component": "rtp_sender",
			"kind":      config.Kind.String(),
		})
	}
	logger = logger.WithField("ssrc", ssrc)

	s := &Sender{
		config:    config,
		logger:    logger,
		transport: config.Transport,
		ssrc:      ssrc,
		attached:  make(chan struct{}, 1),
		exited:    make(chan struct{}),
	}
	s.stateMachine = s.newStateMachine()
	return s, nil
}

func (s *Sender) newStateMachine() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventAttach, Src: []string{StateIdle}, Dst: StateStreaming},
			{Name: eventDetach, Src: []string{StateStreaming}, Dst: StateIdle},
			{Name: eventStop, Src: []string{StateIdle, StateStreaming}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.config.Metrics.StateTransition(e.Src, e.Dst)
				s.logger.WithFields(logrus.Fields{
					"from": e.Src,
					"to":   e.Dst,
				}).Debug("смена состояния")
			},
		},
	)
}

// SSRC возвращает идентификатор источника
func (s *Sender) SSRC() uint32 {
	return s.ssrc
}

// CNAME возвращает каноническое имя источника
func (s *Sender) CNAME() string {
	return s.config.CNAME
}

// Kind возвращает тип медиа отправителя
func (s *Sender) Kind() avmedia.Kind {
	return s.config.Kind
}

// State возвращает текущее состояние
func (s *Sender) State() string {
	return s.stateMachine.Current()
}

// Track возвращает подключенный трек
func (s *Sender) Track() avmedia.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// ReplaceTrack подключает трек и возвращает предыдущий. Предыдущий трек не
// останавливается: владение им возвращается вызывающему. nil отключает трек,
// цикл возвращается в ожидание.
func (s *Sender) ReplaceTrack(track avmedia.Track) (avmedia.Track, error) {
	if track != nil && track.Kind() != s.config.Kind {
		return nil, fmt.Errorf("%w: %s вместо %s", ErrKindMismatch, track.Kind(), s.config.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stateMachine.Is(StateStopped) {
		return nil, ErrSenderStopped
	}

	prev := s.track
	s.track = track

	switch {
	case track != nil && s.stateMachine.Can(eventAttach):
		if err := s.stateMachine.Event(context.Background(), eventAttach); err != nil {
			return prev, err
		}
	case track == nil && s.stateMachine.Can(eventDetach):
		if err := s.stateMachine.Event(context.Background(), eventDetach); err != nil {
			return prev, err
		}
	}

	if track != nil {
		select {
		case s.attached <- struct{}{}:
		default:
		}
	}

	return prev, nil
}

// RequestKeyframe просит трек выдать ключевой кадр в следующей пачке
func (s *Sender) RequestKeyframe() {
	s.forceKeyframe.Store(true)
}

// Start запускает цикл отправки. Цикл завершается при отмене ctx, Stop,
// потере соединения, окончании медиа потока или неожиданной ошибке.
func (s *Sender) Start(ctx context.Context) error {
	if s.stateMachine.Is(StateStopped) {
		return ErrSenderStopped
	}

	err := ErrSenderRunning
	s.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)

		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()

		s.sequenceNumber = s.config.InitialSequenceNumber
		if s.sequenceNumber == 0 {
			s.sequenceNumber = generateRandomUint16()
		}
		s.timeOrigin = s.config.TimeOrigin
		if s.timeOrigin == 0 {
			s.timeOrigin = generateRandomUint32()
		}

		s.statsMu.Lock()
		s.stats.SequenceNumber = s.sequenceNumber
		s.statsMu.Unlock()

		s.started.Store(true)
		go s.run(loopCtx)
		err = nil
	})
	return err
}

// Stop останавливает цикл и ждет его завершения. Без Start переводит
// отправитель в stopped и останавливает подключенный трек. Повторный вызов
// безопасен.
func (s *Sender) Stop() error {
	s.stopOnce.Do(func() {
		// Закрываем startOnce, чтобы Start после Stop не запустил цикл
		s.startOnce.Do(func() {})

		if !s.started.Load() {
			s.finish(nil)
			return
		}

		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		cancel()
	})

	<-s.exited
	return nil
}

// Wait ждет завершения цикла и возвращает причину. Отмена и потеря
// соединения возвращаются как есть, их можно проверить через errors.Is.
func (s *Sender) Wait(ctx context.Context) error {
	select {
	case <-s.exited:
		return s.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done закрывается после завершения цикла
func (s *Sender) Done() <-chan struct{} {
	return s.exited
}

// Stats возвращает снимок счетчиков
func (s *Sender) Stats() SenderStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

// HistoryPacket возвращает недавно отправленный пакет с номером seq
// для повторной отправки
func (s *Sender) HistoryPacket(seq uint16) *rtp.Packet {
	return s.history.lookup(seq)
}

func (s *Sender) run(ctx context.Context) {
	s.finish(s.loop(ctx))
}

// loop основной цикл. Паника трека или транспорта превращается в ошибку.
func (s *Sender) loop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника в цикле отправки: %v\n%s", r, debug.Stack())
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"sequence_number": s.sequenceNumber,
		"time_origin":     s.timeOrigin,
	}).Debug("- RTP started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		track := s.Track()
		if track == nil {
			if err := s.idleWait(ctx); err != nil {
				return err
			}
			continue
		}

		req := avmedia.StreamRequest{
			TimeOrigin:    s.timeOrigin,
			ForceKeyframe: s.forceKeyframe.Swap(false),
			Codec:         s.config.Codec,
		}

		sent, err := s.sendBatch(ctx, track, req)
		if err != nil {
			return err
		}

		// Пустая пачка: трек пока нечего отдать
		if sent == 0 {
			if err := s.idleWait(ctx); err != nil {
				return err
			}
		}
	}
}

// sendBatch отправляет пакеты пачки по мере поступления, задерживая каждый
// пакет до следующего, чтобы поставить маркер на последний. Возвращает
// число отправленных пакетов.
func (s *Sender) sendBatch(ctx context.Context, track avmedia.Track, req avmedia.StreamRequest) (int, error) {
	var pending *avmedia.Packet
	sent := 0
	for pkt, err := range track.ToStream(ctx, req) {
		if err != nil {
			return sent, err
		}
		if pending != nil {
			if err := s.sendPacket(ctx, pending, false); err != nil {
				return sent, err
			}
			sent++
		}
		pending = pkt
	}

	if pending == nil {
		return sent, nil
	}
	if err := s.sendPacket(ctx, pending, true); err != nil {
		return sent, err
	}
	return sent + 1, nil
}

func (s *Sender) idleWait(ctx context.Context) error {
	timer := time.NewTimer(s.config.IdleInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.attached:
	case <-timer.C:
	}
	return nil
}

// rtpTimestamp переводит pts пакета в частоту кодека. Пакет без временной
// базы считается уже пересчитанным.
func (s *Sender) rtpTimestamp(pkt *avmedia.Packet) uint32 {
	if !pkt.TimeBase.IsValid() {
		return uint32(pkt.PTS)
	}
	return uint32(avmedia.ConvertTimebase(pkt.PTS, pkt.TimeBase, s.config.Codec.TimeBase()))
}

func (s *Sender) sendPacket(ctx context.Context, pkt *avmedia.Packet, marker bool) error {
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    s.config.Codec.PayloadType,
			SequenceNumber: s.sequenceNumber,
			Timestamp:      s.rtpTimestamp(pkt),
			SSRC:           s.ssrc,
		},
		Payload: pkt.Data,
	}

	if err := s.config.Extensions.Stamp(&packet.Header, NTPTime(s.config.Now()), s.config.Mid); err != nil {
		return err
	}

	if s.logger.Logger.IsLevelEnabled(logrus.DebugLevel) {
		s.logger.WithFields(logrus.Fields{
			"sequence_number": packet.SequenceNumber,
			"timestamp":       packet.Timestamp,
			"marker":          packet.Marker,
			"size":            len(packet.Payload),
		}).Debug("> packet")
	}

	s.history.store(packet)

	data, err := packet.Marshal()
	if err != nil {
		return fmt.Errorf("ошибка маршалинга RTP пакета: %w", err)
	}

	if err := s.transport.Send(ctx, data); err != nil {
		return err
	}

	now := s.config.Now()
	s.statsMu.Lock()
	s.stats.LastNTPTime = NTPTime(now)
	s.stats.LastSentAt = now
	s.stats.LastRTPTimestamp = packet.Timestamp
	s.stats.OctetsSent += uint32(pkt.Size())
	s.stats.PacketsSent++
	s.sequenceNumber = avmedia.Uint16Add(s.sequenceNumber, 1)
	s.stats.SequenceNumber = s.sequenceNumber
	s.statsMu.Unlock()

	s.config.Metrics.PacketSent(s.config.Kind.String(), pkt.Size())
	return nil
}

// finish переводит отправитель в stopped, останавливает трек и снимает
// сигнал завершения. Выполняется ровно один раз.
func (s *Sender) finish(err error) {
	reason := exitReason(err)
	logger := s.logger.WithField("reason", reason)
	if reason == "error" {
		logger.WithError(err).Warn("цикл отправки завершился с ошибкой")
	}
	s.config.Metrics.SendLoopExited(s.config.Kind.String(), reason)

	s.mu.Lock()
	track := s.track
	s.track = nil
	if !s.stateMachine.Is(StateStopped) {
		_ = s.stateMachine.Event(context.Background(), eventStop)
	}
	s.mu.Unlock()

	if track != nil {
		if stopErr := track.Stop(); stopErr != nil {
			logger.WithError(stopErr).Debug("ошибка остановки трека")
		}
	}

	logger.Debug("- RTP finished")
	s.exitErr = err
	close(s.exited)
}

// exitReason классифицирует причину завершения цикла
func exitReason(err error) string {
	switch {
	case err == nil:
		return "stopped"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, avmedia.ErrStreamEnded):
		return "stream_ended"
	default:
		return "error"
	}
}
