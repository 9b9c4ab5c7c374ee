package hwsource

import (
	"context"
	"fmt"

	"github.com/arzzra/avsender/pkg/avmedia"
)

// accessUnit блок доступа в исходном формате демультиплексора
type accessUnit struct {
	Data     []byte
	PTS      int64
	Keyframe bool
}

// demuxer читает блоки доступа одного видео потока. ReadAccessUnit может
// блокироваться. Close прерывает ожидание и освобождает дескрипторы.
type demuxer interface {
	ReadAccessUnit(ctx context.Context) (*accessUnit, error)

	// TimeBase временная база меток PTS
	TimeBase() avmedia.TimeBase

	// Filter фильтр битового потока для этого формата
	Filter() Filter

	// Metadata сырые текстовые метаданные
	Metadata() map[string][]byte

	// RequestKeyframe просит кодер выдать ключевой кадр.
	// ErrKeyframeUnsupported, если формат этого не умеет.
	RequestKeyframe() error

	Close() error
}

func openDemuxer(cfg Config) (demuxer, error) {
	switch cfg.Format {
	case FormatV4L2:
		opts, err := ParseOptions(cfg.Options)
		if err != nil {
			return nil, err
		}
		return openV4L2(cfg, opts)
	case FormatMP4:
		return openMP4(cfg)
	case FormatMPEGTS:
		return openMPEGTS(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, cfg.Format)
	}
}
