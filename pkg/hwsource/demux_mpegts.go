package hwsource

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/arzzra/avsender/pkg/avmedia"
)

// mpegtsTimeBase метки PES в MPEG-TS идут в 90 кГц
var mpegtsTimeBase = avmedia.NewTimeBase(1, 90000)

// mpegtsDemuxer читает H.264 блоки доступа первой видео дорожки транспортного
// потока через mediacommon
type mpegtsDemuxer struct {
	file   *os.File
	reader *mpegts.Reader
	filter *AnnexBFilter

	mu      sync.Mutex
	pending []*accessUnit
	decErr  error
	closed  bool
}

func openMPEGTS(cfg Config) (demuxer, error) {
	file, err := os.Open(cfg.File)
	if err != nil {
		return nil, err
	}

	d := &mpegtsDemuxer{
		file:   file,
		filter: &AnnexBFilter{},
	}

	d.reader = &mpegts.Reader{R: bufio.NewReaderSize(file, cfg.BufferSize)}
	if err := d.reader.Initialize(); err != nil {
		file.Close()
		return nil, fmt.Errorf("ошибка разбора MPEG-TS: %w", err)
	}

	var track *mpegts.Track
	for _, t := range d.reader.Tracks() {
		if _, ok := t.Codec.(*mpegts.CodecH264); ok {
			track = t
			break
		}
	}
	if track == nil {
		file.Close()
		return nil, fmt.Errorf("%w: в MPEG-TS нет H.264 дорожки", ErrUnsupportedFormat)
	}

	d.reader.OnDecodeError(func(err error) {
		d.decErr = err
	})

	d.reader.OnDataH264(track, func(pts int64, _ int64, au [][]byte) error {
		data, err := h264.AnnexB(au).Marshal()
		if err != nil {
			return err
		}
		d.pending = append(d.pending, &accessUnit{
			Data:     data,
			PTS:      pts,
			Keyframe: h264.IsRandomAccess(au),
		})
		return nil
	})

	return d, nil
}

func (d *mpegtsDemuxer) ReadAccessUnit(ctx context.Context) (*accessUnit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.pending) == 0 {
		if d.closed {
			return nil, ErrSourceStopped
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := d.reader.Read(); err != nil {
			return nil, err
		}
		if d.decErr != nil {
			err := d.decErr
			d.decErr = nil
			return nil, fmt.Errorf("ошибка декодирования MPEG-TS: %w", err)
		}
	}

	au := d.pending[0]
	d.pending = d.pending[1:]
	return au, nil
}

func (d *mpegtsDemuxer) TimeBase() avmedia.TimeBase {
	return mpegtsTimeBase
}

func (d *mpegtsDemuxer) Filter() Filter {
	return d.filter
}

func (d *mpegtsDemuxer) Metadata() map[string][]byte {
	return map[string][]byte{"format": []byte(FormatMPEGTS)}
}

func (d *mpegtsDemuxer) RequestKeyframe() error {
	return ErrKeyframeUnsupported
}

// Close закрывает файл. Чтение, ожидающее данных, получит ошибку закрытого файла.
func (d *mpegtsDemuxer) Close() error {
	if err := d.file.Close(); err != nil {
		return err
	}

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
