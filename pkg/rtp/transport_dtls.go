package rtp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
)

// DTLSTransport реализует Transport поверх DTLS соединения
type DTLSTransport struct {
	conn     *dtls.Conn
	listener net.Listener // только для серверной стороны
	config   DTLSTransportConfig

	counters  transportCounters
	connected time.Time

	active bool
	mutex  sync.RWMutex
}

// DTLSTransportConfig конфигурация для DTLS транспорта
type DTLSTransportConfig struct {
	TransportConfig

	Certificates []tls.Certificate
	RootCAs      *x509.CertPool
	ClientCAs    *x509.CertPool
	ClientAuth   dtls.ClientAuthType
	ServerName   string

	// PSK (Pre-Shared Key) настройки
	PSK             dtls.PSKCallback
	PSKIdentityHint []byte

	CipherSuites       []dtls.CipherSuiteID
	InsecureSkipVerify bool

	HandshakeTimeout time.Duration

	// MTU для фрагментации DTLS сообщений
	MTU int

	// Окно защиты от replay атак
	ReplayProtectionWindow int
}

// DefaultDTLSTransportConfig возвращает конфигурацию DTLS по умолчанию
func DefaultDTLSTransportConfig() DTLSTransportConfig {
	return DTLSTransportConfig{
		TransportConfig:        DefaultTransportConfig(),
		HandshakeTimeout:       DefaultHandshakeTimeout,
		MTU:                    1200,
		ReplayProtectionWindow: 64,
		CipherSuites: []dtls.CipherSuiteID{
			dtls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			dtls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			dtls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			dtls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
	}
}

// ApplyDefaults заполняет незаданные поля
func (c *DTLSTransportConfig) ApplyDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.MTU == 0 {
		c.MTU = 1200
	}
}

// buildDTLSConfig создает конфигурацию pion/dtls
func (c *DTLSTransportConfig) buildDTLSConfig() *dtls.Config {
	timeout := c.HandshakeTimeout
	return &dtls.Config{
		Certificates:           c.Certificates,
		RootCAs:                c.RootCAs,
		ClientCAs:              c.ClientCAs,
		ClientAuth:             c.ClientAuth,
		ServerName:             c.ServerName,
		CipherSuites:           c.CipherSuites,
		InsecureSkipVerify:     c.InsecureSkipVerify,
		PSK:                    c.PSK,
		PSKIdentityHint:        c.PSKIdentityHint,
		MTU:                    c.MTU,
		ReplayProtectionWindow: c.ReplayProtectionWindow,
		ExtendedMasterSecret:   dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), timeout)
		},
	}
}

// NewDTLSTransportClient подключается к config.RemoteAddr и выполняет handshake
func NewDTLSTransportClient(ctx context.Context, config DTLSTransportConfig) (*DTLSTransport, error) {
	config.ApplyDefaults()

	if config.RemoteAddr == "" {
		return nil, fmt.Errorf("удаленный адрес обязателен для клиента")
	}

	remoteAddr, err := createUDPAddr(config.RemoteAddr)
	if err != nil {
		return nil, err
	}

	var localAddr *net.UDPAddr
	if config.LocalAddr != "" {
		if localAddr, err = createUDPAddr(config.LocalAddr); err != nil {
			return nil, err
		}
	}

	conn, err := net.DialUDP("udp", localAddr, remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UDP соединения: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, config.HandshakeTimeout)
	defer cancel()

	dtlsConn, err := dtls.ClientWithContext(hctx, conn, config.buildDTLSConfig())
	if err != nil {
		conn.Close()
		return nil, &TransportError{Op: "handshake", Transport: "DTLS", Err: err}
	}

	return &DTLSTransport{
		conn:      dtlsConn,
		config:    config,
		connected: time.Now(),
		active:    true,
	}, nil
}

// DTLSListener принимает DTLS соединения получателей
type DTLSListener struct {
	listener net.Listener
	config   DTLSTransportConfig
}

// ListenDTLS начинает прием DTLS соединений на config.LocalAddr
func ListenDTLS(config DTLSTransportConfig) (*DTLSListener, error) {
	config.ApplyDefaults()

	localAddr, err := createUDPAddr(config.LocalAddr)
	if err != nil {
		return nil, err
	}

	listener, err := dtls.Listen("udp", localAddr, config.buildDTLSConfig())
	if err != nil {
		return nil, fmt.Errorf("ошибка запуска DTLS сервера: %w", err)
	}

	return &DTLSListener{listener: listener, config: config}, nil
}

// Addr возвращает локальный адрес сервера
func (l *DTLSListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Accept ждет подключения и завершения handshake
func (l *DTLSListener) Accept(ctx context.Context) (*DTLSTransport, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := l.listener.Accept()
		done <- result{conn, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, &TransportError{Op: "accept", Transport: "DTLS", Err: res.err}
		}
		dtlsConn, ok := res.conn.(*dtls.Conn)
		if !ok {
			res.conn.Close()
			return nil, fmt.Errorf("неожиданный тип соединения %T", res.conn)
		}
		return &DTLSTransport{
			conn:      dtlsConn,
			config:    l.config,
			connected: time.Now(),
			active:    true,
		}, nil
	case <-ctx.Done():
		l.listener.Close()
		return nil, ctx.Err()
	}
}

// Close останавливает прием соединений. Принятые соединения остаются открытыми.
func (l *DTLSListener) Close() error {
	return l.listener.Close()
}

// NewDTLSTransportServer принимает одно соединение получателя на config.LocalAddr.
// Слушатель закрывается вместе с транспортом.
func NewDTLSTransportServer(ctx context.Context, config DTLSTransportConfig) (*DTLSTransport, error) {
	listener, err := ListenDTLS(config)
	if err != nil {
		return nil, err
	}

	transport, err := listener.Accept(ctx)
	if err != nil {
		listener.Close()
		return nil, err
	}
	transport.listener = listener.listener
	return transport, nil
}

// Send отправляет пакет одной DTLS записью
func (t *DTLSTransport) Send(ctx context.Context, data []byte) error {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	t.mutex.RUnlock()

	if !active {
		return &TransportError{Op: "write", Transport: "DTLS", Err: net.ErrClosed, ConnectionLost: true}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := validatePacketSize(len(data), t.config.BufferSize); err != nil {
		t.counters.failed()
		return fmt.Errorf("невалидный размер исходящего пакета: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}

	if _, err := conn.Write(data); err != nil {
		t.counters.failed()
		if errors.Is(err, dtls.ErrConnClosed) {
			return &TransportError{Op: "write", Transport: "DTLS", Err: err, ConnectionLost: true}
		}
		return classifyNetworkError("write", "DTLS", err)
	}

	t.counters.sent(len(data))
	return nil
}

// Read читает одну DTLS запись (RTCP от получателя)
func (t *DTLSTransport) Read(p []byte) (int, error) {
	return t.conn.Read(p)
}

// LocalAddr возвращает локальный адрес
func (t *DTLSTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// RemoteAddr возвращает удаленный адрес
func (t *DTLSTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Close закрывает DTLS транспорт
func (t *DTLSTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.active {
		return nil
	}
	t.active = false

	var errs []error
	if err := t.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ошибка закрытия DTLS соединения: %w", err))
	}
	if t.listener != nil {
		if err := t.listener.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ошибка закрытия DTLS сервера: %w", err))
		}
	}
	return errors.Join(errs...)
}

// IsActive проверяет активность транспорта
func (t *DTLSTransport) IsActive() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.active
}

// ConnectionState возвращает состояние DTLS соединения
func (t *DTLSTransport) ConnectionState() dtls.State {
	return t.conn.ConnectionState()
}

// ExportKeyingMaterial экспортирует ключевой материал для SRTP
func (t *DTLSTransport) ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error) {
	state := t.conn.ConnectionState()
	return state.ExportKeyingMaterial(label, context, length)
}

// Statistics возвращает статистику транспорта
func (t *DTLSTransport) Statistics() TransportStatistics {
	stats := TransportStatistics{
		ConnectionTime: t.connected,
		TransportType:  "DTLS",
		LocalAddr:      t.LocalAddr().String(),
		RemoteAddr:     t.RemoteAddr().String(),
	}
	t.counters.snapshot(&stats)
	return stats
}
