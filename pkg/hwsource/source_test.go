package hwsource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/avsender/pkg/avmedia"
	"github.com/arzzra/avsender/pkg/metrics"
)

// fakeDemuxer выдает заранее заданные блоки доступа в Annex-B
type fakeDemuxer struct {
	mu          sync.Mutex
	units       []*accessUnit
	timeBase    avmedia.TimeBase
	metadata    map[string][]byte
	keyframeErr error
	keyframes   int
	closes      int
}

func (d *fakeDemuxer) ReadAccessUnit(ctx context.Context) (*accessUnit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closes > 0 {
		return nil, ErrSourceStopped
	}
	if len(d.units) == 0 {
		return nil, io.EOF
	}
	au := d.units[0]
	d.units = d.units[1:]
	return au, nil
}

func (d *fakeDemuxer) TimeBase() avmedia.TimeBase  { return d.timeBase }
func (d *fakeDemuxer) Filter() Filter              { return &AnnexBFilter{} }
func (d *fakeDemuxer) Metadata() map[string][]byte { return d.metadata }

func (d *fakeDemuxer) RequestKeyframe() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keyframes++
	return d.keyframeErr
}

func (d *fakeDemuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func newTestSource(t *testing.T, cfg Config, demux *fakeDemuxer) *Source {
	t.Helper()
	if cfg.File == "" {
		cfg.File = "/media/test.mp4"
	}
	cfg.ApplyDefaults()
	source, err := newSource(cfg, demux)
	require.NoError(t, err)
	return source
}

func TestSourceNormalizesTimestamps(t *testing.T) {
	frame := annexB(t, testSPS, testPPS, testIDR)
	demux := &fakeDemuxer{
		timeBase: avmedia.NewTimeBase(1, 1_000_000),
		units: []*accessUnit{
			{Data: frame, PTS: 5_000_000},
			{Data: annexB(t, testP), PTS: 5_040_000},
			{Data: annexB(t, testP), PTS: 4_990_000},
		},
	}
	source := newTestSource(t, Config{}, demux)
	defer source.Stop()

	req := avmedia.StreamRequest{TimeOrigin: 1000}
	var batches [][]*avmedia.Packet
	for range 3 {
		batch, err := avmedia.CollectBatch(source.ToStream(context.Background(), req))
		require.NoError(t, err)
		require.Len(t, batch, 1)
		batches = append(batches, batch)
	}

	video := avmedia.ClockTimeBase(avmedia.VideoClockRate)
	assert.Equal(t, int64(1000), batches[0][0].PTS)
	assert.Equal(t, int64(1000+3600), batches[1][0].PTS)
	// Немонотонные метки источника не исправляются
	assert.Equal(t, int64(avmedia.Uint32Add(1000, uint32(0xFFFFFFFF-899))), batches[2][0].PTS)

	for _, batch := range batches {
		assert.True(t, batch[0].TimeBase.Equal(video))
	}
	assert.True(t, batches[0][0].Keyframe)
	assert.False(t, batches[1][0].Keyframe)
	assert.Equal(t, frame, batches[0][0].Data)
}

func TestSourceFragmentsByMTU(t *testing.T) {
	idr := append([]byte{0x65}, bytes.Repeat([]byte{0xab}, 500)...)
	demux := &fakeDemuxer{
		timeBase: avmedia.NewTimeBase(1, 90000),
		units:    []*accessUnit{{Data: annexB(t, testSPS, testPPS, idr), PTS: 9000}},
	}
	cfg := Config{MTU: 140}
	source := newTestSource(t, cfg, demux)
	defer source.Stop()

	batch, err := avmedia.CollectBatch(source.ToStream(context.Background(), avmedia.StreamRequest{TimeOrigin: 7}))
	require.NoError(t, err)
	require.Greater(t, len(batch), 2)

	for _, pkt := range batch {
		assert.LessOrEqual(t, len(pkt.Data), 140-rtpOverhead)
		assert.Equal(t, int64(7), pkt.PTS)
		assert.True(t, pkt.Keyframe)
	}

	// Первый фрагмент STAP-A (тип 24) с SPS и PPS, затем FU-A (тип 28)
	assert.Equal(t, byte(24), batch[0].Data[0]&0x1F)
	for _, pkt := range batch[1:] {
		assert.Equal(t, byte(28), pkt.Data[0]&0x1F)
	}
}

func TestSourceEndOfStream(t *testing.T) {
	source := newTestSource(t, Config{}, &fakeDemuxer{timeBase: avmedia.NewTimeBase(1, 90000)})
	defer source.Stop()

	_, err := avmedia.CollectBatch(source.ToStream(context.Background(), avmedia.StreamRequest{}))

	var streamErr *avmedia.StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "read", streamErr.Op)
	assert.ErrorIs(t, err, avmedia.ErrStreamEnded)
	assert.True(t, avmedia.IsRecoverable(err))
}

func TestSourceFilterError(t *testing.T) {
	demux := &fakeDemuxer{
		timeBase: avmedia.NewTimeBase(1, 90000),
		units:    []*accessUnit{{Data: []byte{0x65, 0x01}, PTS: 1}},
	}
	source := newTestSource(t, Config{}, demux)
	defer source.Stop()

	_, err := avmedia.CollectBatch(source.ToStream(context.Background(), avmedia.StreamRequest{}))
	var streamErr *avmedia.StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "filter", streamErr.Op)
}

func TestSourceKeyframeRequestIgnored(t *testing.T) {
	reg := prometheus.NewRegistry()
	logger, hook := test.NewNullLogger()

	demux := &fakeDemuxer{
		timeBase:    avmedia.NewTimeBase(1, 90000),
		keyframeErr: ErrKeyframeUnsupported,
		units: []*accessUnit{
			{Data: annexB(t, testP), PTS: 0},
			{Data: annexB(t, testP), PTS: 3000},
		},
	}
	cfg := Config{
		Format:  FormatMP4,
		Logger:  logrus.NewEntry(logger),
		Metrics: metrics.NewMetrics(reg),
	}
	source := newTestSource(t, cfg, demux)
	defer source.Stop()

	req := avmedia.StreamRequest{ForceKeyframe: true}
	for range 2 {
		_, err := avmedia.CollectBatch(source.ToStream(context.Background(), req))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, demux.keyframes)

	var warns int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warns++
		}
	}
	assert.Equal(t, 1, warns, "предупреждение пишется один раз")

	expected := `
# HELP avsender_media_keyframe_requests_ignored_total Total number of keyframe requests a source could not honour
# TYPE avsender_media_keyframe_requests_ignored_total counter
avsender_media_keyframe_requests_ignored_total{format="mp4"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "avsender_media_keyframe_requests_ignored_total"))
}

func TestSourceKeyframeRequestForwarded(t *testing.T) {
	reg := prometheus.NewRegistry()
	demux := &fakeDemuxer{
		timeBase: avmedia.NewTimeBase(1, 90000),
		units:    []*accessUnit{{Data: annexB(t, testIDR), PTS: 0}},
	}
	source := newTestSource(t, Config{File: "/dev/video0", Metrics: metrics.NewMetrics(reg)}, demux)
	defer source.Stop()

	_, err := avmedia.CollectBatch(source.ToStream(context.Background(), avmedia.StreamRequest{ForceKeyframe: true}))
	require.NoError(t, err)

	expected := `
# HELP avsender_media_keyframe_requests_forwarded_total Total number of keyframe requests forwarded to a device
# TYPE avsender_media_keyframe_requests_forwarded_total counter
avsender_media_keyframe_requests_forwarded_total{format="v4l2"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "avsender_media_keyframe_requests_forwarded_total"))
}

func TestSourceRealtimePacing(t *testing.T) {
	demux := &fakeDemuxer{
		timeBase: avmedia.NewTimeBase(1, 1000),
		units: []*accessUnit{
			{Data: annexB(t, testIDR), PTS: 0},
			{Data: annexB(t, testP), PTS: 100},
		},
	}
	source := newTestSource(t, Config{Realtime: true}, demux)
	defer source.Stop()

	start := time.Now()
	for range 2 {
		_, err := avmedia.CollectBatch(source.ToStream(context.Background(), avmedia.StreamRequest{}))
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	// Отмена контекста прерывает ожидание
	demux.units = append(demux.units, &accessUnit{Data: annexB(t, testP), PTS: 10_000})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := avmedia.CollectBatch(source.ToStream(ctx, avmedia.StreamRequest{}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSourceStop(t *testing.T) {
	demux := &fakeDemuxer{
		timeBase: avmedia.NewTimeBase(1, 90000),
		units:    []*accessUnit{{Data: annexB(t, testIDR), PTS: 0}},
	}
	source := newTestSource(t, Config{}, demux)

	require.NoError(t, source.Stop())
	require.NoError(t, source.Stop())
	assert.Equal(t, 1, demux.closes)

	_, err := avmedia.CollectBatch(source.ToStream(context.Background(), avmedia.StreamRequest{}))
	assert.ErrorIs(t, err, ErrSourceStopped)
	assert.False(t, errors.Is(err, avmedia.ErrStreamEnded))
}

func TestSourceMetadata(t *testing.T) {
	demux := &fakeDemuxer{
		timeBase: avmedia.NewTimeBase(1, 90000),
		metadata: map[string][]byte{"card": []byte("Cam\xe9ra")},
	}

	source := newTestSource(t, Config{MetadataEncoding: "windows-1252"}, demux)
	assert.Equal(t, "Caméra", source.Metadata()["card"])
	assert.Equal(t, avmedia.KindVideo, source.Kind())

	cfg := Config{File: "/media/test.mp4"}
	cfg.ApplyDefaults()
	_, err := newSource(cfg, demux)
	assert.ErrorIs(t, err, ErrInvalidOption, "utf-8 strict отвергает невалидные байты")
}

func TestSourceInProducer(t *testing.T) {
	demux := &fakeDemuxer{
		timeBase: avmedia.NewTimeBase(1, 90000),
		units: []*accessUnit{
			{Data: annexB(t, testSPS, testPPS, testIDR), PTS: 0},
			{Data: annexB(t, testP), PTS: 3000},
		},
	}
	source := newTestSource(t, Config{}, demux)

	producer := avmedia.NewProducer(source, avmedia.DefaultProducerConfig())
	require.NoError(t, producer.Start())

	req := avmedia.StreamRequest{TimeOrigin: 10}
	var got []int64
	require.Eventually(t, func() bool {
		batch, err := avmedia.CollectBatch(producer.ToStream(context.Background(), req))
		if err != nil {
			return false
		}
		for _, pkt := range batch {
			got = append(got, pkt.PTS)
		}
		return len(got) == 2
	}, time.Second, time.Millisecond)

	require.NoError(t, producer.Stop())
	assert.Equal(t, []int64{10, 3010}, got)
	assert.Equal(t, 1, demux.closes)
}
