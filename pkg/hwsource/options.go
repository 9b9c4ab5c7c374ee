package hwsource

import (
	"fmt"
	"strconv"
	"strings"
)

// Распознаваемые опции устройства
const (
	OptionVideoSize   = "video_size"
	OptionInputFormat = "input_format"
	OptionFramerate   = "framerate"
	OptionTimestamps  = "timestamps"
)

// TimestampMode режим меток времени V4L2 буферов
type TimestampMode string

const (
	// TimestampsDefault метки драйвера как есть
	TimestampsDefault TimestampMode = "default"
	// TimestampsAbs абсолютное время получения буфера
	TimestampsAbs TimestampMode = "abs"
	// TimestampsMono2Abs монотонные метки драйвера переводятся в абсолютные
	TimestampsMono2Abs TimestampMode = "mono2abs"
)

// Options разобранные опции устройства
type Options struct {
	Width       int
	Height      int
	InputFormat string
	Framerate   int
	Timestamps  TimestampMode
}

// DefaultOptions опции по умолчанию: 1080p H.264, 30 кадров/с, абсолютные метки
func DefaultOptions() map[string]string {
	return map[string]string{
		OptionVideoSize:   "1920x1080",
		OptionInputFormat: "h264",
		OptionFramerate:   "30",
		OptionTimestamps:  string(TimestampsAbs),
	}
}

var videoSizeAbbreviations = map[string]string{
	"vga":     "640x480",
	"svga":    "800x600",
	"hd720":   "1280x720",
	"hd1080":  "1920x1080",
	"uhd2160": "3840x2160",
}

// ParseOptions разбирает карту опций. Незаданные опции берутся из DefaultOptions.
func ParseOptions(raw map[string]string) (Options, error) {
	merged := DefaultOptions()
	for key, value := range raw {
		if _, known := merged[key]; !known {
			return Options{}, fmt.Errorf("%w: %s", ErrInvalidOption, key)
		}
		merged[key] = strings.TrimSpace(value)
	}

	var opts Options
	var err error

	if opts.Width, opts.Height, err = parseVideoSize(merged[OptionVideoSize]); err != nil {
		return Options{}, err
	}

	opts.InputFormat = strings.ToLower(merged[OptionInputFormat])
	if opts.InputFormat != "h264" {
		return Options{}, fmt.Errorf("%w: input_format %q (поддерживается только h264)", ErrUnsupportedFormat, opts.InputFormat)
	}

	opts.Framerate, err = strconv.Atoi(merged[OptionFramerate])
	if err != nil || opts.Framerate <= 0 {
		return Options{}, fmt.Errorf("%w: framerate %q", ErrInvalidOption, merged[OptionFramerate])
	}

	switch mode := TimestampMode(strings.ToLower(merged[OptionTimestamps])); mode {
	case TimestampsDefault, TimestampsAbs, TimestampsMono2Abs:
		opts.Timestamps = mode
	default:
		return Options{}, fmt.Errorf("%w: timestamps %q", ErrInvalidOption, merged[OptionTimestamps])
	}

	return opts, nil
}

func parseVideoSize(value string) (int, int, error) {
	if abbr, ok := videoSizeAbbreviations[strings.ToLower(value)]; ok {
		value = abbr
	}

	w, h, found := strings.Cut(strings.ToLower(value), "x")
	if !found {
		return 0, 0, fmt.Errorf("%w: video_size %q (ожидается WxH)", ErrInvalidOption, value)
	}

	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: video_size %q", ErrInvalidOption, value)
	}
	return width, height, nil
}
