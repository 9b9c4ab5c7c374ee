package hwsource

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/avsender/pkg/metrics"
)

// Поддерживаемые форматы источника
const (
	FormatV4L2   = "v4l2"
	FormatMP4    = "mp4"
	FormatMPEGTS = "mpegts"
)

// Значения по умолчанию для контейнеров
const (
	DefaultBufferSize       = 32768
	DefaultMetadataEncoding = "utf-8"
	DefaultReadTimeout      = 5 * time.Second

	// rtpOverhead заголовок RTP с расширениями abs-send-time и mid
	rtpOverhead = 12 + 4 + 4 + 20
)

// Политики обработки невалидных байт метаданных
const (
	MetadataStrict  = "strict"
	MetadataIgnore  = "ignore"
	MetadataReplace = "replace"
)

// Config конфигурация аппаратного источника
type Config struct {
	// File путь к устройству (/dev/video0) или контейнеру
	File string

	// Format v4l2, mp4 или mpegts. Пустой - по пути файла.
	Format string

	// Options опции устройства (video_size, input_format, framerate, timestamps)
	Options map[string]string

	// BufferSize размер буфера чтения контейнера
	BufferSize int

	// MetadataEncoding кодировка текстовых метаданных (имя из WHATWG Encoding)
	MetadataEncoding string

	// MetadataErrors политика невалидных байт: strict, ignore, replace
	MetadataErrors string

	// Timeout открытия устройства и ожидания кадра
	Timeout time.Duration

	// Realtime выдавать кадры контейнера в темпе их меток времени
	Realtime bool

	// MTU размер RTP пакета. 0 - блок доступа отдается одним пакетом.
	MTU int

	Logger  *logrus.Entry
	Metrics *metrics.Metrics
}

// DefaultConfig возвращает конфигурацию по умолчанию для устройства file
func DefaultConfig(file string) Config {
	return Config{
		File:             file,
		Options:          DefaultOptions(),
		BufferSize:       DefaultBufferSize,
		MetadataEncoding: DefaultMetadataEncoding,
		MetadataErrors:   MetadataStrict,
		Timeout:          DefaultReadTimeout,
	}
}

// ApplyDefaults заполняет незаданные поля и определяет формат по пути
func (c *Config) ApplyDefaults() {
	if c.Format == "" {
		c.Format = detectFormat(c.File)
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.MetadataEncoding == "" {
		c.MetadataEncoding = DefaultMetadataEncoding
	}
	if c.MetadataErrors == "" {
		c.MetadataErrors = MetadataStrict
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultReadTimeout
	}
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if c.File == "" {
		return fmt.Errorf("путь к источнику обязателен")
	}

	switch c.Format {
	case FormatV4L2:
		if _, err := ParseOptions(c.Options); err != nil {
			return err
		}
	case FormatMP4, FormatMPEGTS:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, c.Format)
	}

	switch c.MetadataErrors {
	case MetadataStrict, MetadataIgnore, MetadataReplace:
	default:
		return fmt.Errorf("%w: metadata_errors %q", ErrInvalidOption, c.MetadataErrors)
	}

	if c.MTU != 0 && c.MTU <= rtpOverhead {
		return fmt.Errorf("%w: MTU %d меньше заголовка RTP", ErrInvalidOption, c.MTU)
	}

	return nil
}

// payloadMTU размер полезной нагрузки одного фрагмента
func (c *Config) payloadMTU() uint16 {
	return uint16(c.MTU - rtpOverhead)
}

func detectFormat(file string) string {
	if strings.HasPrefix(file, "/dev/video") {
		return FormatV4L2
	}

	switch strings.ToLower(filepath.Ext(file)) {
	case ".mp4", ".m4v", ".mov":
		return FormatMP4
	case ".ts", ".m2ts", ".mts":
		return FormatMPEGTS
	default:
		return ""
	}
}
