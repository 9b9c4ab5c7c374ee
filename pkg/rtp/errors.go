package rtp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	// ErrConnectionLost соединение с получателем потеряно. Завершает цикл отправки.
	ErrConnectionLost = errors.New("соединение потеряно")

	// ErrSenderStopped отправитель остановлен и не может быть использован повторно
	ErrSenderStopped = errors.New("отправитель остановлен")

	// ErrSenderRunning цикл отправки уже запущен
	ErrSenderRunning = errors.New("цикл отправки уже запущен")

	// ErrKindMismatch тип трека не совпадает с типом отправителя
	ErrKindMismatch = errors.New("тип трека не совпадает с типом отправителя")
)

// TransportError ошибка транспорта при отправке пакета
type TransportError struct {
	Op             string // Операция (write, dial, handshake)
	Transport      string // Тип транспорта (UDP, DTLS)
	Err            error
	ConnectionLost bool // Соединение больше не пригодно для отправки
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s [%s транспорт]: %v", e.Op, e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is позволяет errors.Is(err, ErrConnectionLost) для потерянных соединений
func (e *TransportError) Is(target error) bool {
	return target == ErrConnectionLost && e.ConnectionLost
}

// classifyNetworkError оборачивает сетевую ошибку в TransportError и
// определяет, потеряно ли соединение
func classifyNetworkError(op, transport string, err error) error {
	if err == nil {
		return nil
	}

	return &TransportError{
		Op:             op,
		Transport:      transport,
		Err:            err,
		ConnectionLost: isConnectionError(err),
	}
}

// isConnectionError проверяет является ли ошибка связанной с соединением
func isConnectionError(err error) bool {
	switch {
	case errors.Is(err, net.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH):
		return true
	default:
		return false
	}
}
