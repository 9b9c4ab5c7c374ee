package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/arzzra/avsender/pkg/avmedia"
	"github.com/arzzra/avsender/pkg/hwsource"
	"github.com/arzzra/avsender/pkg/metrics"
	"github.com/arzzra/avsender/pkg/rtp"
)

// Типы транспорта
const (
	TransportUDP        = "udp"
	TransportDTLSClient = "dtls-client"
	TransportDTLSServer = "dtls-server"
)

// Config конфигурация демо отправителя
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Source      SourceConfig      `yaml:"source"`
	Relay       RelayConfig       `yaml:"relay"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	Transport   TransportConfig   `yaml:"transport"`
	Sender      SenderConfig      `yaml:"sender"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text или json
}

type SourceConfig struct {
	File             string            `yaml:"file"`
	Format           string            `yaml:"format"`
	Options          map[string]string `yaml:"options"`
	BufferSize       int               `yaml:"buffer_size"`
	MetadataEncoding string            `yaml:"metadata_encoding"`
	MetadataErrors   string            `yaml:"metadata_errors"`
	Timeout          time.Duration     `yaml:"timeout"`
	Realtime         bool              `yaml:"realtime"`
	MTU              int               `yaml:"mtu"`
}

type RelayConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

type NegotiationConfig struct {
	// Answer путь к SDP ответу получателя
	Answer string `yaml:"answer"`

	// Offer куда записать предложение. Пустой - не записывать.
	Offer string `yaml:"offer"`

	// OfferAddress адрес для c= строки предложения
	OfferAddress string `yaml:"offer_address"`
	OfferPort    int    `yaml:"offer_port"`
}

type TransportConfig struct {
	Type string `yaml:"type"`

	LocalAddr string `yaml:"local_addr"`

	// RemoteAddr перекрывает адрес из SDP ответа
	RemoteAddr string `yaml:"remote_addr"`

	DSCP        int           `yaml:"dscp"`
	SendTimeout time.Duration `yaml:"send_timeout"`

	CertFile           string        `yaml:"cert_file"`
	KeyFile            string        `yaml:"key_file"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
}

type SenderConfig struct {
	SSRC         uint32        `yaml:"ssrc"`
	CNAME        string        `yaml:"cname"`
	IdleInterval time.Duration `yaml:"idle_interval"`

	// ReportInterval период RTCP sender report. 0 - не отправлять.
	ReportInterval time.Duration `yaml:"report_interval"`
}

type MetricsConfig struct {
	// Listen адрес HTTP сервера /metrics. Пустой - сервер не запускается.
	Listen string `yaml:"listen"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Source: SourceConfig{
			File:             "/dev/video0",
			Options:          hwsource.DefaultOptions(),
			BufferSize:       hwsource.DefaultBufferSize,
			MetadataEncoding: hwsource.DefaultMetadataEncoding,
			MetadataErrors:   hwsource.MetadataStrict,
			Timeout:          hwsource.DefaultReadTimeout,
			MTU:              1200,
		},
		Relay: RelayConfig{
			BufferSize:    avmedia.DefaultProducerBufferSize,
			RetryInterval: avmedia.DefaultProducerRetryInterval,
		},
		Negotiation: NegotiationConfig{
			Answer:       "answer.sdp",
			OfferAddress: "127.0.0.1",
			OfferPort:    5004,
		},
		Transport: TransportConfig{
			Type:             TransportUDP,
			LocalAddr:        ":0",
			DSCP:             rtp.DSCPForKind(avmedia.KindVideo),
			SendTimeout:      rtp.DefaultSendTimeout,
			HandshakeTimeout: rtp.DefaultHandshakeTimeout,
		},
		Sender: SenderConfig{
			IdleInterval:   rtp.DefaultIdleInterval,
			ReportInterval: time.Second,
		},
		Metrics: MetricsConfig{
			Listen: ":9090",
		},
	}
}

// LoadConfig накладывает YAML файл на конфигурацию по умолчанию
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("ошибка чтения конфигурации: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate проверяет то, что не проверяют сами компоненты
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("неверный уровень логирования: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("неизвестный формат логов: %s", c.Log.Format)
	}

	switch c.Transport.Type {
	case TransportUDP, TransportDTLSClient, TransportDTLSServer:
	default:
		return fmt.Errorf("неизвестный тип транспорта: %s", c.Transport.Type)
	}
	if (c.Transport.CertFile == "") != (c.Transport.KeyFile == "") {
		return fmt.Errorf("cert_file и key_file задаются вместе")
	}

	if c.Negotiation.Answer == "" {
		return fmt.Errorf("путь к SDP ответу обязателен")
	}
	if c.Sender.ReportInterval < 0 {
		return fmt.Errorf("период RTCP отчетов не может быть отрицательным")
	}
	return nil
}

// hwsourceConfig конфигурация аппаратного источника
func (c *SourceConfig) hwsourceConfig(logger *logrus.Entry, m *metrics.Metrics) hwsource.Config {
	return hwsource.Config{
		File:             c.File,
		Format:           c.Format,
		Options:          c.Options,
		BufferSize:       c.BufferSize,
		MetadataEncoding: c.MetadataEncoding,
		MetadataErrors:   c.MetadataErrors,
		Timeout:          c.Timeout,
		Realtime:         c.Realtime,
		MTU:              c.MTU,
		Logger:           logger,
		Metrics:          m,
	}
}

// setupLogging настраивает стандартный логгер logrus
func setupLogging(cfg LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
