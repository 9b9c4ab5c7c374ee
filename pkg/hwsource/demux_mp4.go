package hwsource

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/abema/go-mp4"

	"github.com/arzzra/avsender/pkg/avmedia"
)

// mp4Sample положение одного сэмпла видео дорожки в файле
type mp4Sample struct {
	offset int64
	size   uint32
	pts    int64
}

// mp4Demuxer читает сэмплы первой H.264 дорожки MP4 файла по таблице
// сэмплов, собранной go-mp4
type mp4Demuxer struct {
	file     *os.File
	filter   *AVCCToAnnexB
	timeBase avmedia.TimeBase
	samples  []mp4Sample
	metadata map[string][]byte

	mu     sync.Mutex
	next   int
	buf    []byte
	closed bool
}

func openMP4(cfg Config) (demuxer, error) {
	file, err := os.Open(cfg.File)
	if err != nil {
		return nil, err
	}

	d, err := probeMP4(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return d, nil
}

func probeMP4(file *os.File) (*mp4Demuxer, error) {
	info, err := mp4.Probe(file)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора MP4: %w", err)
	}

	var track *mp4.Track
	for _, t := range info.Tracks {
		if t.Codec == mp4.CodecAVC1 && t.AVC != nil {
			track = t
			break
		}
	}
	if track == nil {
		return nil, fmt.Errorf("%w: в MP4 нет H.264 дорожки", ErrUnsupportedFormat)
	}
	if track.Encrypted {
		return nil, fmt.Errorf("%w: зашифрованная дорожка", ErrUnsupportedFormat)
	}

	sps, pps, err := readAVCParameterSets(file)
	if err != nil {
		return nil, err
	}

	filter, err := NewAVCCToAnnexB(int(track.AVC.LengthSize), sps, pps)
	if err != nil {
		return nil, err
	}

	return &mp4Demuxer{
		file:     file,
		filter:   filter,
		timeBase: avmedia.NewTimeBase(1, int64(track.Timescale)),
		samples:  buildSampleTable(track),
		metadata: map[string][]byte{
			"major_brand":   info.MajorBrand[:],
			"minor_version": []byte(strconv.FormatUint(uint64(info.MinorVersion), 10)),
			"width":         []byte(strconv.Itoa(int(track.AVC.Width))),
			"height":        []byte(strconv.Itoa(int(track.AVC.Height))),
		},
	}, nil
}

// readAVCParameterSets достает SPS и PPS из avcC первой H.264 дорожки
func readAVCParameterSets(r io.ReadSeeker) ([][]byte, [][]byte, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, nil, err
	}

	boxes, err := mp4.ExtractBoxWithPayload(r, nil, mp4.BoxPath{
		mp4.BoxTypeMoov(),
		mp4.BoxTypeTrak(),
		mp4.BoxTypeMdia(),
		mp4.BoxTypeMinf(),
		mp4.BoxTypeStbl(),
		mp4.BoxTypeStsd(),
		mp4.BoxTypeAvc1(),
		mp4.BoxTypeAvcC(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка чтения avcC: %w", err)
	}
	if len(boxes) == 0 {
		return nil, nil, fmt.Errorf("%w: нет avcC", ErrUnsupportedFormat)
	}

	avcC, ok := boxes[0].Payload.(*mp4.AVCDecoderConfiguration)
	if !ok {
		return nil, nil, fmt.Errorf("неожиданный тип avcC: %T", boxes[0].Payload)
	}

	var sps, pps [][]byte
	for _, ps := range avcC.SequenceParameterSets {
		sps = append(sps, ps.NALUnit)
	}
	for _, ps := range avcC.PictureParameterSets {
		pps = append(pps, ps.NALUnit)
	}
	return sps, pps, nil
}

// buildSampleTable раскладывает сэмплы по чанкам и считает PTS = DTS + CTS
func buildSampleTable(track *mp4.Track) []mp4Sample {
	samples := make([]mp4Sample, 0, len(track.Samples))

	var dts int64
	index := 0
	for _, chunk := range track.Chunks {
		offset := int64(chunk.DataOffset)
		for i := uint32(0); i < chunk.SamplesPerChunk && index < len(track.Samples); i++ {
			s := track.Samples[index]
			samples = append(samples, mp4Sample{
				offset: offset,
				size:   s.Size,
				pts:    dts + s.CompositionTimeOffset,
			})
			offset += int64(s.Size)
			dts += int64(s.TimeDelta)
			index++
		}
	}
	return samples
}

func (d *mp4Demuxer) ReadAccessUnit(ctx context.Context) (*accessUnit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrSourceStopped
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.next >= len(d.samples) {
		return nil, io.EOF
	}

	sample := d.samples[d.next]
	d.next++

	if cap(d.buf) < int(sample.size) {
		d.buf = make([]byte, sample.size)
	}
	data := d.buf[:sample.size]
	if _, err := d.file.ReadAt(data, sample.offset); err != nil {
		return nil, fmt.Errorf("ошибка чтения сэмпла %d: %w", d.next-1, err)
	}

	return &accessUnit{Data: data, PTS: sample.pts}, nil
}

func (d *mp4Demuxer) TimeBase() avmedia.TimeBase {
	return d.timeBase
}

func (d *mp4Demuxer) Filter() Filter {
	return d.filter
}

func (d *mp4Demuxer) Metadata() map[string][]byte {
	return d.metadata
}

func (d *mp4Demuxer) RequestKeyframe() error {
	return ErrKeyframeUnsupported
}

func (d *mp4Demuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.file.Close()
}
