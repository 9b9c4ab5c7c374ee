package rtp

import (
	"context"
	"net"
)

// Transport определяет интерфейс для отправки сериализованных пакетов.
// Используется циклом отправки RTP и для RTCP отчетов (rtcp-mux).
type Transport interface {
	// Send отправляет сериализованный пакет. Потеря соединения
	// возвращается как ошибка, для которой errors.Is(err, ErrConnectionLost).
	Send(ctx context.Context, data []byte) error

	// LocalAddr возвращает локальный адрес транспорта
	LocalAddr() net.Addr

	// RemoteAddr возвращает удаленный адрес транспорта
	RemoteAddr() net.Addr

	// Close закрывает транспорт
	Close() error

	// IsActive проверяет активность транспорта
	IsActive() bool
}

// TransportConfig базовая конфигурация для транспорта
type TransportConfig struct {
	LocalAddr  string // Локальный адрес для привязки
	RemoteAddr string // Удаленный адрес получателя
	BufferSize int    // Максимальный размер пакета
}

// DefaultTransportConfig возвращает конфигурацию по умолчанию
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		LocalAddr:  ":0",
		BufferSize: DefaultBufferSize,
	}
}
