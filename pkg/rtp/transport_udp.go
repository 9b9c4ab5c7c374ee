package rtp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// UDPTransport реализует Transport поверх подключенного UDP сокета
type UDPTransport struct {
	conn   *net.UDPConn
	config ExtendedTransportConfig

	counters  transportCounters
	connected time.Time

	active bool
	mutex  sync.RWMutex
}

// NewUDPTransport создает UDP транспорт к config.RemoteAddr
func NewUDPTransport(config ExtendedTransportConfig) (*UDPTransport, error) {
	config.ApplyDefaults()

	conn, err := createUDPConnExtended(config)
	if err != nil {
		return nil, err
	}

	return &UDPTransport{
		conn:      conn,
		config:    config,
		connected: time.Now(),
		active:    true,
	}, nil
}

// Send отправляет пакет по UDP. Дедлайн берется из ctx, иначе SendTimeout.
func (t *UDPTransport) Send(ctx context.Context, data []byte) error {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	t.mutex.RUnlock()

	if !active {
		return &TransportError{Op: "write", Transport: "UDP", Err: net.ErrClosed, ConnectionLost: true}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := validatePacketSize(len(data), t.config.BufferSize); err != nil {
		t.counters.failed()
		return fmt.Errorf("невалидный размер исходящего пакета: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.config.SendTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return classifyNetworkError("write", "UDP", err)
	}

	if _, err := conn.Write(data); err != nil {
		t.counters.failed()
		return classifyNetworkError("write", "UDP", err)
	}

	t.counters.sent(len(data))
	return nil
}

// LocalAddr возвращает локальный адрес
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// RemoteAddr возвращает удаленный адрес
func (t *UDPTransport) RemoteAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.RemoteAddr()
}

// Close закрывает транспорт
func (t *UDPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.active {
		return nil
	}

	t.active = false

	if t.conn != nil {
		return t.conn.Close()
	}

	return nil
}

// IsActive проверяет активность транспорта
func (t *UDPTransport) IsActive() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.active
}

// Statistics возвращает статистику транспорта
func (t *UDPTransport) Statistics() TransportStatistics {
	stats := TransportStatistics{
		ConnectionTime: t.connected,
		TransportType:  "UDP",
	}
	if addr := t.LocalAddr(); addr != nil {
		stats.LocalAddr = addr.String()
	}
	if addr := t.RemoteAddr(); addr != nil {
		stats.RemoteAddr = addr.String()
	}
	t.counters.snapshot(&stats)
	return stats
}
