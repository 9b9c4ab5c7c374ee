//go:build !linux || !(amd64 || arm64)

package hwsource

import "fmt"

func openV4L2(cfg Config, _ Options) (demuxer, error) {
	return nil, fmt.Errorf("%w: v4l2 доступен только на 64-битном linux (%s)", ErrUnsupportedFormat, cfg.File)
}
