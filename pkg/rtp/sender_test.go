package rtp

import (
	"context"
	"errors"
	"iter"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/avsender/pkg/avmedia"
)

// === MOCK ТРАНСПОРТ И ТРЕКИ ДЛЯ ТЕСТИРОВАНИЯ ===

// MockTransport запоминает отправленные пакеты
type MockTransport struct {
	mutex       sync.Mutex
	sentPackets []*rtp.Packet
	rawPackets  [][]byte
	failErr     error
	active      bool
}

func NewMockTransport() *MockTransport {
	return &MockTransport{active: true}
}

func (mt *MockTransport) Send(ctx context.Context, data []byte) error {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	if mt.failErr != nil {
		return mt.failErr
	}

	raw := append([]byte(nil), data...)
	mt.rawPackets = append(mt.rawPackets, raw)

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(raw); err != nil {
		return err
	}
	mt.sentPackets = append(mt.sentPackets, packet)
	return nil
}

func (mt *MockTransport) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5004}
}

func (mt *MockTransport) RemoteAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5006}
}

func (mt *MockTransport) Close() error {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()
	mt.active = false
	return nil
}

func (mt *MockTransport) IsActive() bool {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()
	return mt.active
}

func (mt *MockTransport) SetError(err error) {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()
	mt.failErr = err
}

// GetSentPackets возвращает копию отправленных пакетов
func (mt *MockTransport) GetSentPackets() []*rtp.Packet {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	result := make([]*rtp.Packet, len(mt.sentPackets))
	copy(result, mt.sentPackets)
	return result
}

func (mt *MockTransport) Count() int {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()
	return len(mt.sentPackets)
}

// batchTrack выдает заданные пачки, затем блокируется до отмены
type batchTrack struct {
	avmedia.TrackBase

	mu       sync.Mutex
	batches  [][]*avmedia.Packet
	requests []avmedia.StreamRequest
	final    error
	panicMsg string
	stops    atomic.Int64
}

func newBatchTrack(kind avmedia.Kind, batches ...[]*avmedia.Packet) *batchTrack {
	return &batchTrack{TrackBase: avmedia.NewTrackBase(kind), batches: batches}
}

func (t *batchTrack) ToStream(ctx context.Context, req avmedia.StreamRequest) iter.Seq2[*avmedia.Packet, error] {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests = append(t.requests, req)
	if t.panicMsg != "" {
		panic(t.panicMsg)
	}

	if len(t.batches) == 0 {
		final := t.final
		return func(yield func(*avmedia.Packet, error) bool) {
			if final != nil {
				yield(nil, final)
				return
			}
			<-ctx.Done()
			yield(nil, ctx.Err())
		}
	}

	batch := t.batches[0]
	t.batches = t.batches[1:]
	return func(yield func(*avmedia.Packet, error) bool) {
		for _, pkt := range batch {
			if !yield(pkt, nil) {
				return
			}
		}
	}
}

func (t *batchTrack) Stop() error {
	t.stops.Add(1)
	return nil
}

func (t *batchTrack) Requests() []avmedia.StreamRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]avmedia.StreamRequest(nil), t.requests...)
}

// countingTrack выдает total пакетов пачками по batchSize
type countingTrack struct {
	avmedia.TrackBase
	total     int
	batchSize int
	produced  int
}

func (t *countingTrack) ToStream(ctx context.Context, req avmedia.StreamRequest) iter.Seq2[*avmedia.Packet, error] {
	return func(yield func(*avmedia.Packet, error) bool) {
		if t.produced >= t.total {
			<-ctx.Done()
			yield(nil, ctx.Err())
			return
		}
		for i := 0; i < t.batchSize && t.produced < t.total; i++ {
			pkt := &avmedia.Packet{Data: []byte{byte(t.produced)}, PTS: int64(t.produced)}
			t.produced++
			if !yield(pkt, nil) {
				return
			}
		}
	}
}

func (t *countingTrack) Stop() error { return nil }

// emptyTrack всегда выдает пустую пачку и считает запросы
type emptyTrack struct {
	avmedia.TrackBase
	calls atomic.Int64
}

func (t *emptyTrack) ToStream(ctx context.Context, req avmedia.StreamRequest) iter.Seq2[*avmedia.Packet, error] {
	t.calls.Add(1)
	return func(yield func(*avmedia.Packet, error) bool) {}
}

func (t *emptyTrack) Stop() error { return nil }

// frameTrack выдает по кадру в пачке, нормализуя pts часами трека от
// req.TimeOrigin, затем блокируется до отмены
type frameTrack struct {
	avmedia.TrackBase
	pts  []int64
	next int
}

func (t *frameTrack) ToStream(ctx context.Context, req avmedia.StreamRequest) iter.Seq2[*avmedia.Packet, error] {
	return func(yield func(*avmedia.Packet, error) bool) {
		if t.next >= len(t.pts) {
			<-ctx.Done()
			yield(nil, ctx.Err())
			return
		}
		pts := t.pts[t.next]
		t.next++

		rtpTime := t.ElapsedTime(req.TimeOrigin, avmedia.NewTimeBase(1, 90000), pts)
		yield(&avmedia.Packet{Data: []byte{1}, PTS: int64(rtpTime), TimeBase: t.Clock().Target()}, nil)
	}
}

func (t *frameTrack) Stop() error { return nil }

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 500_000_000, time.UTC)

func msPacket(pts int64, size int) *avmedia.Packet {
	return &avmedia.Packet{
		Data:     make([]byte, size),
		PTS:      pts,
		TimeBase: avmedia.NewTimeBase(1, 1000),
	}
}

func testSenderConfig(transport Transport) SenderConfig {
	cfg := DefaultSenderConfig()
	cfg.Transport = transport
	cfg.SSRC = 0x11223344
	cfg.InitialSequenceNumber = 1000
	cfg.TimeOrigin = 1234
	cfg.IdleInterval = 5 * time.Millisecond
	cfg.CNAME = "avsender-test"
	cfg.Now = func() time.Time { return fixedNow }
	return cfg
}

func newTestLogger() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(logger), hook
}

func warnings(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e)
		}
	}
	return out
}

// === ТЕСТЫ ЦИКЛА ОТПРАВКИ ===

func TestSenderEndToEnd(t *testing.T) {
	transport := NewMockTransport()
	track := newBatchTrack(avmedia.KindVideo,
		[]*avmedia.Packet{msPacket(1000, 10)},
		[]*avmedia.Packet{},
		[]*avmedia.Packet{msPacket(1010, 20), msPacket(1020, 30)},
	)

	sender, err := NewSender(testSenderConfig(transport))
	require.NoError(t, err)

	_, err = sender.ReplaceTrack(track)
	require.NoError(t, err)
	require.NoError(t, sender.Start(context.Background()))

	require.Eventually(t, func() bool { return transport.Count() == 3 }, time.Second, time.Millisecond)
	require.NoError(t, sender.Stop())

	packets := transport.GetSentPackets()
	require.Len(t, packets, 3)

	ms := avmedia.NewTimeBase(1, 1000)
	video := avmedia.ClockTimeBase(90000)
	expectedTimestamps := []uint32{
		uint32(avmedia.ConvertTimebase(1000, ms, video)),
		uint32(avmedia.ConvertTimebase(1010, ms, video)),
		uint32(avmedia.ConvertTimebase(1020, ms, video)),
	}
	expectedMarkers := []bool{true, false, true}

	for i, pkt := range packets {
		assert.Equal(t, uint16(1000+i), pkt.SequenceNumber, "пакет %d", i)
		assert.Equal(t, expectedMarkers[i], pkt.Marker, "пакет %d", i)
		assert.Equal(t, expectedTimestamps[i], pkt.Timestamp, "пакет %d", i)
		assert.Equal(t, uint8(96), pkt.PayloadType)
		assert.Equal(t, uint32(0x11223344), pkt.SSRC)

		var abs rtp.AbsSendTimeExtension
		require.NoError(t, abs.Unmarshal(pkt.GetExtension(1)))
		assert.Equal(t, uint64(AbsSendTime(NTPTime(fixedNow))), abs.Timestamp)
		assert.Equal(t, []byte("0"), pkt.GetExtension(2))
	}

	stats := sender.Stats()
	assert.Equal(t, uint32(3), stats.PacketsSent)
	assert.Equal(t, uint32(60), stats.OctetsSent)
	assert.Equal(t, expectedTimestamps[2], stats.LastRTPTimestamp)
	assert.Equal(t, NTPTime(fixedNow), stats.LastNTPTime)
	assert.Equal(t, uint16(1003), stats.SequenceNumber)

	// Трек получает фиксированное начало отсчета и параметры кодека
	for _, req := range track.Requests() {
		assert.Equal(t, uint32(1234), req.TimeOrigin)
		assert.Equal(t, uint8(96), req.Codec.PayloadType)
		assert.Equal(t, uint32(90000), req.Codec.ClockRate)
	}
}

func TestSenderMarkerBatchSizes(t *testing.T) {
	tests := []struct {
		name    string
		batches [][]*avmedia.Packet
		markers []bool
	}{
		{"пустая пачка", [][]*avmedia.Packet{{}}, nil},
		{"один пакет", [][]*avmedia.Packet{{msPacket(0, 1)}}, []bool{true}},
		{"N пакетов", [][]*avmedia.Packet{{msPacket(0, 1), msPacket(0, 1), msPacket(0, 1), msPacket(0, 1)}}, []bool{false, false, false, true}},
		{"несколько пачек", [][]*avmedia.Packet{{msPacket(0, 1), msPacket(0, 1)}, {}, {msPacket(1, 1)}}, []bool{false, true, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewMockTransport()
			track := newBatchTrack(avmedia.KindVideo, tt.batches...)

			sender, err := NewSender(testSenderConfig(transport))
			require.NoError(t, err)
			_, err = sender.ReplaceTrack(track)
			require.NoError(t, err)
			require.NoError(t, sender.Start(context.Background()))

			// Все пачки прочитаны, трек блокируется на следующем запросе
			require.Eventually(t, func() bool {
				return len(track.Requests()) == len(tt.batches)+1
			}, time.Second, time.Millisecond)
			require.NoError(t, sender.Stop())

			var markers []bool
			for _, pkt := range transport.GetSentPackets() {
				markers = append(markers, pkt.Marker)
			}
			assert.Equal(t, tt.markers, markers)
		})
	}
}

func TestSenderSequenceWraparound(t *testing.T) {
	const total = 70000

	transport := NewMockTransport()
	track := &countingTrack{TrackBase: avmedia.NewTrackBase(avmedia.KindVideo), total: total, batchSize: 100}

	cfg := testSenderConfig(transport)
	cfg.InitialSequenceNumber = 65000
	sender, err := NewSender(cfg)
	require.NoError(t, err)

	_, err = sender.ReplaceTrack(track)
	require.NoError(t, err)
	require.NoError(t, sender.Start(context.Background()))

	require.Eventually(t, func() bool { return transport.Count() == total }, 30*time.Second, 10*time.Millisecond)
	require.NoError(t, sender.Stop())

	packets := transport.GetSentPackets()
	expected := uint16(65000)
	wrapped := false
	for i, pkt := range packets {
		require.Equal(t, expected, pkt.SequenceNumber, "пакет %d", i)
		if pkt.SequenceNumber == 0 {
			wrapped = true
			assert.Equal(t, uint16(65535), packets[i-1].SequenceNumber)
		}
		assert.Equal(t, (i+1)%100 == 0, pkt.Marker, "пакет %d", i)
		expected++
	}
	assert.True(t, wrapped, "номер последовательности должен перейти через 65535")

	// Кольцо истории хранит последние RTPHistorySize пакетов
	assert.Equal(t, RTPHistorySize, sender.history.len())
	last := packets[len(packets)-1].SequenceNumber
	for back := uint16(0); back < RTPHistorySize; back++ {
		seq := last - back
		pkt := sender.HistoryPacket(seq)
		require.NotNil(t, pkt, "seq %d", seq)
		assert.Equal(t, seq, pkt.SequenceNumber)
	}
	assert.Nil(t, sender.HistoryPacket(last-RTPHistorySize), "старая запись перезаписана")
	assert.Nil(t, sender.HistoryPacket(last-200))
}

func TestSenderIdleUntilTrackAttached(t *testing.T) {
	transport := NewMockTransport()
	sender, err := NewSender(testSenderConfig(transport))
	require.NoError(t, err)
	require.NoError(t, sender.Start(context.Background()))
	defer sender.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateIdle, sender.State())
	assert.Equal(t, 0, transport.Count())

	track := newBatchTrack(avmedia.KindVideo, []*avmedia.Packet{msPacket(0, 1)})
	prev, err := sender.ReplaceTrack(track)
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.Equal(t, StateStreaming, sender.State())

	require.Eventually(t, func() bool { return transport.Count() == 1 }, 100*time.Millisecond, time.Millisecond)
}

func TestSenderEmptyBatchesWaitIdleInterval(t *testing.T) {
	transport := NewMockTransport()
	track := &emptyTrack{TrackBase: avmedia.NewTrackBase(avmedia.KindVideo)}

	sender, err := NewSender(testSenderConfig(transport))
	require.NoError(t, err)
	_, err = sender.ReplaceTrack(track)
	require.NoError(t, err)
	require.NoError(t, sender.Start(context.Background()))

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, sender.Stop())

	// IdleInterval 5ms: около 20 запросов за 100ms
	calls := track.calls.Load()
	assert.Greater(t, calls, int64(1))
	assert.Less(t, calls, int64(60), "пустые пачки не должны крутить цикл без ожидания")
	assert.Zero(t, transport.Count())
}

func TestSenderThroughProducerUsesSenderOrigin(t *testing.T) {
	transport := NewMockTransport()
	track := &frameTrack{
		TrackBase: avmedia.NewTrackBase(avmedia.KindVideo),
		pts:       []int64{500, 3500, 6500, 9500, 12500},
	}

	producer := avmedia.NewProducer(track, avmedia.DefaultProducerConfig())
	require.NoError(t, producer.Start())
	defer producer.Stop()

	// Реле запущено раньше отправителя
	time.Sleep(20 * time.Millisecond)

	sender, err := NewSender(testSenderConfig(transport))
	require.NoError(t, err)
	_, err = sender.ReplaceTrack(producer)
	require.NoError(t, err)
	require.NoError(t, sender.Start(context.Background()))

	require.Eventually(t, func() bool { return transport.Count() == 5 }, time.Second, time.Millisecond)
	require.NoError(t, sender.Stop())

	var timestamps []uint32
	for _, pkt := range transport.GetSentPackets() {
		timestamps = append(timestamps, pkt.Timestamp)
	}
	assert.Equal(t, []uint32{1234, 4234, 7234, 10234, 13234}, timestamps)
}

func TestSenderReplaceTrack(t *testing.T) {
	sender, err := NewSender(testSenderConfig(NewMockTransport()))
	require.NoError(t, err)

	first := newBatchTrack(avmedia.KindVideo)
	second := newBatchTrack(avmedia.KindVideo)

	_, err = sender.ReplaceTrack(first)
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, sender.State())

	prev, err := sender.ReplaceTrack(second)
	require.NoError(t, err)
	assert.Same(t, first, prev)
	assert.Equal(t, int64(0), first.stops.Load(), "замененный трек не останавливается")

	prev, err = sender.ReplaceTrack(nil)
	require.NoError(t, err)
	assert.Same(t, second, prev)
	assert.Equal(t, StateIdle, sender.State())

	_, err = sender.ReplaceTrack(newBatchTrack(avmedia.KindAudio))
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestSenderStop(t *testing.T) {
	track := newBatchTrack(avmedia.KindVideo)
	sender, err := NewSender(testSenderConfig(NewMockTransport()))
	require.NoError(t, err)

	_, err = sender.ReplaceTrack(track)
	require.NoError(t, err)
	require.NoError(t, sender.Start(context.Background()))
	assert.ErrorIs(t, sender.Start(context.Background()), ErrSenderRunning)

	require.NoError(t, sender.Stop())
	require.NoError(t, sender.Stop())

	select {
	case <-sender.Done():
	default:
		t.Fatal("Done должен быть закрыт после Stop")
	}

	assert.Equal(t, StateStopped, sender.State())
	assert.Equal(t, int64(1), track.stops.Load())
	assert.Nil(t, sender.Track())
	assert.ErrorIs(t, sender.Wait(context.Background()), context.Canceled)

	_, err = sender.ReplaceTrack(newBatchTrack(avmedia.KindVideo))
	assert.ErrorIs(t, err, ErrSenderStopped)
	assert.ErrorIs(t, sender.Start(context.Background()), ErrSenderStopped)
}

func TestSenderStopWithoutStart(t *testing.T) {
	track := newBatchTrack(avmedia.KindVideo)
	sender, err := NewSender(testSenderConfig(NewMockTransport()))
	require.NoError(t, err)
	_, err = sender.ReplaceTrack(track)
	require.NoError(t, err)

	require.NoError(t, sender.Stop())
	assert.Equal(t, StateStopped, sender.State())
	assert.Equal(t, int64(1), track.stops.Load())
	assert.ErrorIs(t, sender.Start(context.Background()), ErrSenderStopped)
}

func TestSenderParentContextCancel(t *testing.T) {
	track := newBatchTrack(avmedia.KindVideo)
	sender, err := NewSender(testSenderConfig(NewMockTransport()))
	require.NoError(t, err)
	_, err = sender.ReplaceTrack(track)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sender.Start(ctx))
	cancel()

	select {
	case <-sender.Done():
	case <-time.After(time.Second):
		t.Fatal("цикл не завершился после отмены контекста")
	}
	assert.Equal(t, int64(1), track.stops.Load())
}

func TestSenderTermination(t *testing.T) {
	tests := []struct {
		name        string
		prepare     func(*MockTransport, *batchTrack)
		wantErr     error
		wantWarning bool
	}{
		{
			name: "потеря соединения",
			prepare: func(tr *MockTransport, _ *batchTrack) {
				tr.SetError(&TransportError{Op: "write", Transport: "UDP", Err: net.ErrClosed, ConnectionLost: true})
			},
			wantErr: ErrConnectionLost,
		},
		{
			name: "конец медиа потока",
			prepare: func(_ *MockTransport, track *batchTrack) {
				track.batches = nil
				track.final = avmedia.ErrStreamEnded
			},
			wantErr: avmedia.ErrStreamEnded,
		},
		{
			name: "неожиданная ошибка транспорта",
			prepare: func(tr *MockTransport, _ *batchTrack) {
				tr.SetError(errors.New("boom"))
			},
			wantWarning: true,
		},
		{
			name: "паника трека",
			prepare: func(_ *MockTransport, track *batchTrack) {
				track.panicMsg = "сломанный трек"
			},
			wantWarning: true,
		},
		{
			name: "ошибка источника",
			prepare: func(_ *MockTransport, track *batchTrack) {
				track.batches = nil
				track.final = avmedia.NewStreamError("demux", "/dev/video0", errors.New("decode"))
			},
			wantWarning: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewMockTransport()
			track := newBatchTrack(avmedia.KindVideo, []*avmedia.Packet{msPacket(0, 4)})
			tt.prepare(transport, track)

			logger, hook := newTestLogger()
			cfg := testSenderConfig(transport)
			cfg.Logger = logger

			sender, err := NewSender(cfg)
			require.NoError(t, err)
			_, err = sender.ReplaceTrack(track)
			require.NoError(t, err)
			require.NoError(t, sender.Start(context.Background()))

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			loopErr := sender.Wait(ctx)
			require.NotErrorIs(t, loopErr, context.DeadlineExceeded, "цикл должен завершиться сам")

			if tt.wantErr != nil {
				assert.ErrorIs(t, loopErr, tt.wantErr)
			}
			assert.Equal(t, tt.wantWarning, len(warnings(hook)) > 0)
			assert.Equal(t, StateStopped, sender.State())
			assert.Equal(t, int64(1), track.stops.Load())

			// Stop после самостоятельного завершения не блокируется
			require.NoError(t, sender.Stop())
		})
	}
}

func TestSenderRequestKeyframe(t *testing.T) {
	track := newBatchTrack(avmedia.KindVideo, []*avmedia.Packet{msPacket(0, 1)})
	sender, err := NewSender(testSenderConfig(NewMockTransport()))
	require.NoError(t, err)

	sender.RequestKeyframe()
	_, err = sender.ReplaceTrack(track)
	require.NoError(t, err)
	require.NoError(t, sender.Start(context.Background()))
	defer sender.Stop()

	require.Eventually(t, func() bool { return len(track.Requests()) >= 2 }, time.Second, time.Millisecond)
	reqs := track.Requests()
	assert.True(t, reqs[0].ForceKeyframe)
	assert.False(t, reqs[1].ForceKeyframe)
}

func TestSenderRTCPReport(t *testing.T) {
	transport := NewMockTransport()
	track := newBatchTrack(avmedia.KindVideo, []*avmedia.Packet{msPacket(1000, 100), msPacket(1040, 50)})

	sender, err := NewSender(testSenderConfig(transport))
	require.NoError(t, err)
	_, err = sender.ReplaceTrack(track)
	require.NoError(t, err)
	require.NoError(t, sender.Start(context.Background()))
	require.Eventually(t, func() bool { return transport.Count() == 2 }, time.Second, time.Millisecond)
	require.NoError(t, sender.Stop())

	sr := sender.SenderReport()
	assert.Equal(t, uint32(0x11223344), sr.SSRC)
	assert.Equal(t, uint32(2), sr.PacketCount)
	assert.Equal(t, uint32(150), sr.OctetCount)
	assert.Equal(t, uint32(93600), sr.RTPTime)
	assert.Equal(t, NTPTime(fixedNow), sr.NTPTime)

	data, err := sender.MarshalRTCP()
	require.NoError(t, err)

	packets, err := rtcp.Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, packets, 2)

	parsedSR, ok := packets[0].(*rtcp.SenderReport)
	require.True(t, ok)
	assert.Equal(t, sr.OctetCount, parsedSR.OctetCount)

	sdes, ok := packets[1].(*rtcp.SourceDescription)
	require.True(t, ok)
	require.Len(t, sdes.Chunks, 1)
	assert.Equal(t, "avsender-test", sdes.Chunks[0].Items[0].Text)
}

func TestSenderConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*SenderConfig)
		wantErr bool
	}{
		{"валидная конфигурация", func(*SenderConfig) {}, false},
		{"нет транспорта", func(c *SenderConfig) { c.Transport = nil }, true},
		{"неизвестный тип", func(c *SenderConfig) { c.Kind = avmedia.KindUnknown }, true},
		{"payload type вне диапазона", func(c *SenderConfig) { c.Codec.PayloadType = 200 }, true},
		{"длинный mid", func(c *SenderConfig) { c.Mid = "0123456789abcdefg" }, true},
		{"совпадающие расширения", func(c *SenderConfig) { c.Extensions = HeaderExtensionMap{AbsSendTime: 3, Mid: 3} }, true},
		{"расширение вне диапазона", func(c *SenderConfig) { c.Extensions.Mid = 15 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testSenderConfig(NewMockTransport())
			tt.modify(&cfg)
			_, err := NewSender(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSenderDefaults(t *testing.T) {
	cfg := DefaultSenderConfig()
	cfg.Transport = NewMockTransport()
	cfg.Kind = avmedia.KindAudio
	cfg.Codec = avmedia.Codec{PayloadType: 111, MimeType: "audio/opus"}

	sender, err := NewSender(cfg)
	require.NoError(t, err)
	assert.NotZero(t, sender.SSRC())
	assert.NotEmpty(t, sender.CNAME())
	assert.Equal(t, avmedia.KindAudio, sender.Kind())
	assert.Equal(t, StateIdle, sender.State())
}

func TestSenderWithoutExtensions(t *testing.T) {
	transport := NewMockTransport()
	cfg := testSenderConfig(transport)
	cfg.Extensions = HeaderExtensionMap{}

	sender, err := NewSender(cfg)
	require.NoError(t, err)
	_, err = sender.ReplaceTrack(newBatchTrack(avmedia.KindVideo, []*avmedia.Packet{msPacket(0, 1)}))
	require.NoError(t, err)
	require.NoError(t, sender.Start(context.Background()))
	require.Eventually(t, func() bool { return transport.Count() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, sender.Stop())

	assert.False(t, transport.GetSentPackets()[0].Extension)
}
