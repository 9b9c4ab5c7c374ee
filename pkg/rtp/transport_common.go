// Общие утилиты для транспортов RTP пакета (UDP, DTLS).
//
// Основные возможности:
//   - Настройка сокетов для медиа трафика (буферы, приоритет)
//   - QoS через DSCP маркировку в зависимости от типа медиа
//   - Создание UDP соединений с расширенными параметрами
//   - Общая статистика транспортов
package rtp

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/arzzra/avsender/pkg/avmedia"
)

// Общие константы для настройки транспортов
const (
	// DefaultBufferSize размер буфера по умолчанию (MTU Ethernet)
	DefaultBufferSize = 1500

	// DefaultSendTimeout таймаут отправки пакета, если в контексте нет дедлайна
	DefaultSendTimeout = 50 * time.Millisecond

	// DefaultHandshakeTimeout таймаут для DTLS handshake
	DefaultHandshakeTimeout = 30 * time.Second

	// MediaOptimizedSendBuffer буфер отправки. Видео кадр может занимать
	// десятки пакетов, отправляемых подряд.
	MediaOptimizedSendBuffer = 1 << 20

	// MediaOptimizedRecvBuffer буфер получения (RTCP обратная связь)
	MediaOptimizedRecvBuffer = 65535

	// DSCP значения для QoS классификации трафика согласно RFC 4594
	DSCPExpeditedForwarding = 46 // EF для интерактивного аудио
	DSCPAssuredForwarding   = 34 // AF41 для видео
	DSCPBestEffort          = 0

	// Ограничения размера пакета
	MinRTPPacketSize = 12   // Минимальный размер RTP заголовка
	MaxRTPPacketSize = 1500 // MTU
)

// DSCPForKind возвращает DSCP маркировку по умолчанию для типа медиа
func DSCPForKind(kind avmedia.Kind) int {
	switch kind {
	case avmedia.KindAudio:
		return DSCPExpeditedForwarding
	case avmedia.KindVideo:
		return DSCPAssuredForwarding
	default:
		return DSCPBestEffort
	}
}

// ExtendedTransportConfig расширенная конфигурация UDP транспорта
type ExtendedTransportConfig struct {
	TransportConfig               // Базовая конфигурация
	ReusePort       bool          // Разрешить повторное использование порта
	DSCP            int           // DSCP маркировка для QoS (0 = без маркировки)
	BindToDevice    string        // Привязка к конкретному сетевому интерфейсу (Linux)
	SendTimeout     time.Duration // Таймаут отправки пакета
}

// ApplyDefaults применяет значения по умолчанию
func (etc *ExtendedTransportConfig) ApplyDefaults() {
	if etc.LocalAddr == "" {
		etc.LocalAddr = ":0"
	}
	if etc.BufferSize == 0 {
		etc.BufferSize = DefaultBufferSize
	}
	if etc.SendTimeout == 0 {
		etc.SendTimeout = DefaultSendTimeout
	}
}

// Validate проверяет корректность конфигурации
func (etc *ExtendedTransportConfig) Validate() error {
	if etc.RemoteAddr == "" {
		return fmt.Errorf("удаленный адрес обязателен")
	}

	if etc.BufferSize < 0 {
		return fmt.Errorf("размер буфера не может быть отрицательным")
	}

	if etc.DSCP < 0 || etc.DSCP > 63 {
		return fmt.Errorf("DSCP должен быть в диапазоне 0-63")
	}

	if etc.SendTimeout < 0 {
		return fmt.Errorf("таймаут отправки не может быть отрицательным")
	}

	return nil
}

// setSockOptForMedia применяет настройки сокета для медиа трафика
func setSockOptForMedia(conn *net.UDPConn, config ExtendedTransportConfig) error {
	if conn == nil {
		return fmt.Errorf("соединение не может быть nil")
	}

	if err := conn.SetWriteBuffer(MediaOptimizedSendBuffer); err != nil {
		return fmt.Errorf("SO_SNDBUF (%d): %w", MediaOptimizedSendBuffer, err)
	}
	if err := conn.SetReadBuffer(MediaOptimizedRecvBuffer); err != nil {
		return fmt.Errorf("SO_RCVBUF (%d): %w", MediaOptimizedRecvBuffer, err)
	}

	// Получаем системный сокет для низкоуровневых настроек
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("не удалось получить системный сокет: %w", err)
	}

	var sockOptErr error
	err = rawConn.Control(func(fd uintptr) {
		sockOptErr = applySockOptForMedia(fd, config)
	})
	if err != nil {
		return fmt.Errorf("ошибка управления сокетом: %w", err)
	}

	return sockOptErr
}

// applySockOptForMedia применяет платформенные настройки сокета
func applySockOptForMedia(fd uintptr, config ExtendedTransportConfig) error {
	if config.DSCP > 0 {
		if err := setSockOptDSCP(fd, config.DSCP); err != nil {
			return fmt.Errorf("ошибка установки DSCP: %w", err)
		}
	}

	if config.ReusePort {
		if err := setSockOptReusePort(fd); err != nil {
			return fmt.Errorf("ошибка установки SO_REUSEPORT: %w", err)
		}
	}

	if config.BindToDevice != "" {
		if err := setSockOptBindToDevice(fd, config.BindToDevice); err != nil {
			return fmt.Errorf("ошибка привязки к устройству %s: %w", config.BindToDevice, err)
		}
	}

	setSockOptPriority(fd, config.DSCP)
	return nil
}

// createUDPAddr создает *net.UDPAddr из строкового адреса с проверкой
func createUDPAddr(addr string) (*net.UDPAddr, error) {
	if addr == "" {
		return nil, fmt.Errorf("адрес не может быть пустым")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения UDP адреса '%s': %w", addr, err)
	}

	return udpAddr, nil
}

// createUDPConnExtended создает подключенный UDP сокет с настройками для медиа
func createUDPConnExtended(config ExtendedTransportConfig) (*net.UDPConn, error) {
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("неверная конфигурация: %w", err)
	}

	localUDPAddr, err := createUDPAddr(config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка локального адреса: %w", err)
	}

	remoteUDPAddr, err := createUDPAddr(config.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка удаленного адреса: %w", err)
	}

	conn, err := net.DialUDP("udp", localUDPAddr, remoteUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UDP соединения: %w", err)
	}

	if err := setSockOptForMedia(conn, config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка настройки сокета: %w", err)
	}

	return conn, nil
}

// validatePacketSize проверяет размер исходящего пакета
func validatePacketSize(size, limit int) error {
	if size < MinRTPPacketSize {
		return fmt.Errorf("пакет слишком мал: %d байт (минимум %d)", size, MinRTPPacketSize)
	}
	if size > limit {
		return fmt.Errorf("пакет слишком велик: %d байт (максимум %d)", size, limit)
	}
	return nil
}

// TransportStatistics статистика транспорта
type TransportStatistics struct {
	PacketsSent    uint64    // Отправлено пакетов
	BytesSent      uint64    // Отправлено байт
	ErrorsSend     uint64    // Ошибки отправки
	LastActivity   time.Time // Последняя отправка
	ConnectionTime time.Time // Время установки соединения
	LocalAddr      string    // Локальный адрес
	RemoteAddr     string    // Удаленный адрес
	TransportType  string    // Тип транспорта (UDP, DTLS)
}

// GetUptime возвращает время работы транспорта
func (ts *TransportStatistics) GetUptime() time.Duration {
	if ts.ConnectionTime.IsZero() {
		return 0
	}
	return time.Since(ts.ConnectionTime)
}

// GetSendRate возвращает скорость отправки в пакетах/сек
func (ts *TransportStatistics) GetSendRate() float64 {
	uptime := ts.GetUptime()
	if uptime == 0 {
		return 0
	}
	return float64(ts.PacketsSent) / uptime.Seconds()
}

// transportCounters атомарные счетчики, общие для транспортов
type transportCounters struct {
	packetsSent  atomic.Uint64
	bytesSent    atomic.Uint64
	errorsSend   atomic.Uint64
	lastActivity atomic.Int64
}

func (c *transportCounters) sent(n int) {
	c.packetsSent.Add(1)
	c.bytesSent.Add(uint64(n))
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *transportCounters) failed() {
	c.errorsSend.Add(1)
}

func (c *transportCounters) snapshot(stats *TransportStatistics) {
	stats.PacketsSent = c.packetsSent.Load()
	stats.BytesSent = c.bytesSent.Load()
	stats.ErrorsSend = c.errorsSend.Load()
	if last := c.lastActivity.Load(); last != 0 {
		stats.LastActivity = time.Unix(0, last)
	}
}
