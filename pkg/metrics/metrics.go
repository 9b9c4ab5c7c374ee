// Package metrics собирает Prometheus метрики отправителя медиа:
// цикла отправки RTP, реле источника и аппаратных источников.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config конфигурация метрик
type Config struct {
	// Namespace префикс для Prometheus метрик
	Namespace string

	// Subsystem подсистема для Prometheus метрик
	Subsystem string

	// Registerer куда регистрируются метрики. nil - prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Namespace: "avsender",
		Subsystem: "media",
	}
}

// Metrics набор коллекторов отправителя.
//
// Все методы безопасны для nil получателя: компоненты без метрик передают nil.
type Metrics struct {
	packetsSent        *prometheus.CounterVec
	octetsSent         *prometheus.CounterVec
	sendErrors         *prometheus.CounterVec
	stateTransitions   *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
	batchesRelayed     *prometheus.CounterVec
	sourceErrors       *prometheus.CounterVec
	keyframesIgnored   *prometheus.CounterVec
	keyframesForwarded *prometheus.CounterVec
}

// NewMetrics создает и регистрирует коллекторы в reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	cfg := DefaultConfig()
	cfg.Registerer = reg
	return NewMetricsWithConfig(cfg)
}

// NewMetricsWithConfig создает коллекторы по конфигурации
func NewMetricsWithConfig(cfg Config) *Metrics {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	ns, sub := cfg.Namespace, cfg.Subsystem

	m := &Metrics{}

	// Цикл отправки
	m.packetsSent = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "rtp_packets_sent_total",
		Help:      "Total number of RTP packets sent",
	}, []string{"kind"})

	m.octetsSent = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "rtp_octets_sent_total",
		Help:      "Total number of RTP payload octets sent",
	}, []string{"kind"})

	m.sendErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "rtp_send_errors_total",
		Help:      "Total number of send loop terminations by reason",
	}, []string{"kind", "reason"})

	m.stateTransitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "sender_state_transitions_total",
		Help:      "Total number of sender state transitions",
	}, []string{"from_state", "to_state"})

	// Реле
	m.queueDepth = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "relay_queue_depth",
		Help:      "Number of items waiting in the relay queue",
	}, []string{"kind"})

	m.batchesRelayed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "relay_batches_total",
		Help:      "Total number of batches pushed by the relay",
	}, []string{"kind"})

	// Источники
	m.sourceErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "source_errors_total",
		Help:      "Total number of absorbed source errors",
	}, []string{"kind"})

	m.keyframesIgnored = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "keyframe_requests_ignored_total",
		Help:      "Total number of keyframe requests a source could not honour",
	}, []string{"format"})

	m.keyframesForwarded = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "keyframe_requests_forwarded_total",
		Help:      "Total number of keyframe requests forwarded to a device",
	}, []string{"format"})

	return m
}

// PacketSent учитывает отправленный RTP пакет
func (m *Metrics) PacketSent(kind string, size int) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(kind).Inc()
	m.octetsSent.WithLabelValues(kind).Add(float64(size))
}

// SendLoopExited учитывает завершение цикла отправки
func (m *Metrics) SendLoopExited(kind, reason string) {
	if m == nil {
		return
	}
	m.sendErrors.WithLabelValues(kind, reason).Inc()
}

// StateTransition учитывает переход состояния отправителя
func (m *Metrics) StateTransition(from, to string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(from, to).Inc()
}

// QueueDepth обновляет глубину очереди реле
func (m *Metrics) QueueDepth(kind string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(kind).Set(float64(depth))
}

// BatchRelayed учитывает пачку, переданную реле
func (m *Metrics) BatchRelayed(kind string) {
	if m == nil {
		return
	}
	m.batchesRelayed.WithLabelValues(kind).Inc()
}

// SourceError учитывает поглощенную ошибку источника
func (m *Metrics) SourceError(kind string) {
	if m == nil {
		return
	}
	m.sourceErrors.WithLabelValues(kind).Inc()
}

// KeyframeRequestIgnored учитывает запрос ключевого кадра, который источник не смог выполнить
func (m *Metrics) KeyframeRequestIgnored(format string) {
	if m == nil {
		return
	}
	m.keyframesIgnored.WithLabelValues(format).Inc()
}

// KeyframeRequestForwarded учитывает запрос ключевого кадра, переданный устройству
func (m *Metrics) KeyframeRequestForwarded(format string) {
	if m == nil {
		return
	}
	m.keyframesForwarded.WithLabelValues(format).Inc()
}
