// Команда avsender передает H.264 видео с устройства или из контейнера
// получателю по RTP. Параметры кодека и расширений берутся из SDP ответа.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/dtls/v2/pkg/crypto/selfsign"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/avsender/pkg/avmedia"
	"github.com/arzzra/avsender/pkg/hwsource"
	"github.com/arzzra/avsender/pkg/metrics"
	"github.com/arzzra/avsender/pkg/negotiation"
	"github.com/arzzra/avsender/pkg/rtp"
)

func main() {
	var (
		configPath = flag.String("config", "avsender.yaml", "Путь к YAML конфигурации")
		logLevel   = flag.String("log-level", "", "Уровень логирования (перекрывает конфигурацию)")
	)
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("не удалось загрузить конфигурацию")
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := setupLogging(cfg.Log); err != nil {
		logrus.WithError(err).Fatal("не удалось настроить логирование")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.WithError(err).Fatal("отправка завершилась с ошибкой")
	}
	logrus.Info("отправка завершена")
}

func run(ctx context.Context, cfg Config) error {
	logger := logrus.WithField("component", "avsender")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	source, err := hwsource.Open(cfg.Source.hwsourceConfig(
		logrus.WithFields(logrus.Fields{"component": "hwsource", "kind": avmedia.KindVideo.String()}), m))
	if err != nil {
		return err
	}
	defer source.Stop()

	for key, value := range source.Metadata() {
		logger.WithField(key, value).Debug("метаданные источника")
	}

	params, err := negotiate(cfg.Negotiation, source.Kind())
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"codec":        params.Codec.MimeType,
		"payload_type": params.Codec.PayloadType,
		"mid":          params.Mid,
		"remote":       params.RemoteAddr,
	}).Info("параметры согласованы")

	transport, err := openTransport(ctx, cfg.Transport, params.RemoteAddr)
	if err != nil {
		return err
	}
	defer transport.Close()

	producer := avmedia.NewProducer(source, avmedia.ProducerConfig{
		BufferSize:    cfg.Relay.BufferSize,
		RetryInterval: cfg.Relay.RetryInterval,
		Logger:        logrus.WithFields(logrus.Fields{"component": "relay", "kind": source.Kind().String()}),
		Metrics:       m,
	})
	defer producer.Close()

	senderConfig := rtp.DefaultSenderConfig()
	params.Apply(&senderConfig)
	senderConfig.Kind = source.Kind()
	senderConfig.SSRC = cfg.Sender.SSRC
	senderConfig.CNAME = cfg.Sender.CNAME
	senderConfig.IdleInterval = cfg.Sender.IdleInterval
	senderConfig.Transport = transport
	senderConfig.Metrics = m
	senderConfig.Logger = logrus.WithFields(logrus.Fields{"component": "rtp", "kind": source.Kind().String()})

	sender, err := rtp.NewSender(senderConfig)
	if err != nil {
		return err
	}
	if _, err := sender.ReplaceTrack(producer); err != nil {
		return err
	}

	if err := producer.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sender.Start(gctx); err != nil {
			return err
		}
		err := sender.Wait(context.Background())
		if errors.Is(err, context.Canceled) || errors.Is(err, avmedia.ErrStreamEnded) {
			return nil
		}
		return err
	})

	if cfg.Sender.ReportInterval > 0 {
		g.Go(func() error {
			sendReports(gctx, sender, cfg.Sender.ReportInterval, logger)
			return nil
		})
	}

	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Listen, registry, logger)
		})
	}

	// Цикл отправки завершился сам: останавливаем остальных
	g.Go(func() error {
		select {
		case <-sender.Done():
			return errSenderFinished
		case <-gctx.Done():
			return nil
		}
	})

	err = g.Wait()
	sender.Stop()
	if errors.Is(err, errSenderFinished) {
		return nil
	}
	return err
}

var errSenderFinished = errors.New("цикл отправки завершен")

// negotiate пишет предложение (если задан путь) и разбирает ответ получателя
func negotiate(cfg NegotiationConfig, kind avmedia.Kind) (negotiation.Parameters, error) {
	if cfg.Offer != "" {
		offerConfig := negotiation.DefaultOfferConfig()
		offerConfig.Kind = kind
		offerConfig.Address = cfg.OfferAddress
		offerConfig.Port = cfg.OfferPort

		offer, err := negotiation.MarshalOffer(offerConfig)
		if err != nil {
			return negotiation.Parameters{}, err
		}
		if err := os.WriteFile(cfg.Offer, offer, 0o644); err != nil {
			return negotiation.Parameters{}, fmt.Errorf("ошибка записи SDP предложения: %w", err)
		}
	}

	answer, err := os.ReadFile(cfg.Answer)
	if err != nil {
		return negotiation.Parameters{}, fmt.Errorf("ошибка чтения SDP ответа: %w", err)
	}
	return negotiation.FromAnswer(answer, kind)
}

// openTransport создает UDP или DTLS транспорт. Адрес из конфигурации
// перекрывает адрес из SDP ответа.
func openTransport(ctx context.Context, cfg TransportConfig, negotiated string) (rtp.Transport, error) {
	remote := cfg.RemoteAddr
	if remote == "" {
		remote = negotiated
	}

	switch cfg.Type {
	case TransportUDP:
		transport, err := rtp.NewUDPTransport(rtp.ExtendedTransportConfig{
			TransportConfig: rtp.TransportConfig{
				LocalAddr:  cfg.LocalAddr,
				RemoteAddr: remote,
			},
			DSCP:        cfg.DSCP,
			SendTimeout: cfg.SendTimeout,
		})
		if err != nil {
			return nil, err
		}
		return transport, nil

	case TransportDTLSClient, TransportDTLSServer:
		certificate, err := loadCertificate(cfg)
		if err != nil {
			return nil, err
		}

		dtlsConfig := rtp.DefaultDTLSTransportConfig()
		dtlsConfig.LocalAddr = cfg.LocalAddr
		dtlsConfig.RemoteAddr = remote
		dtlsConfig.Certificates = []tls.Certificate{certificate}
		dtlsConfig.InsecureSkipVerify = cfg.InsecureSkipVerify
		dtlsConfig.HandshakeTimeout = cfg.HandshakeTimeout

		var transport *rtp.DTLSTransport
		if cfg.Type == TransportDTLSServer {
			transport, err = rtp.NewDTLSTransportServer(ctx, dtlsConfig)
		} else {
			transport, err = rtp.NewDTLSTransportClient(ctx, dtlsConfig)
		}
		if err != nil {
			return nil, err
		}
		return transport, nil
	}

	return nil, fmt.Errorf("неизвестный тип транспорта: %s", cfg.Type)
}

// loadCertificate читает сертификат из файлов или создает самоподписанный
func loadCertificate(cfg TransportConfig) (tls.Certificate, error) {
	if cfg.CertFile == "" {
		return selfsign.GenerateSelfSigned()
	}
	return tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
}

// sendReports периодически отправляет RTCP SR + SDES, пока цикл отправки жив
func sendReports(ctx context.Context, sender *rtp.Sender, interval time.Duration, logger *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sender.Done():
			return
		case <-ticker.C:
			if sender.State() != rtp.StateStreaming {
				continue
			}
			if err := sender.SendReport(ctx); err != nil {
				logger.WithError(err).Warn("ошибка отправки RTCP отчета")
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", addr).Info("метрики доступны на /metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ошибка сервера метрик: %w", err)
	}
	return nil
}
