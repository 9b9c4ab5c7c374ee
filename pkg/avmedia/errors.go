package avmedia

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrStreamEnded источник исчерпан (конец файла, отключение устройства)
	ErrStreamEnded = errors.New("медиа поток завершен")

	// ErrProducerClosed реле уже остановлено и не может быть запущено снова
	ErrProducerClosed = errors.New("реле остановлено")

	// ErrProducerRunning реле уже запущено
	ErrProducerRunning = errors.New("реле уже запущено")
)

// StreamError ошибка чтения источника: устройство или контейнер стали
// недоступны, данные не декодируются. Реле считает ее восстановимой.
type StreamError struct {
	Op     string // Операция (open, demux, filter, ...)
	Source string // Идентификатор устройства или контейнера
	Err    error
}

func (e *StreamError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("источник %s: %s: %v", e.Source, e.Op, e.Err)
	}
	return fmt.Sprintf("источник: %s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// NewStreamError создает ошибку источника. io.EOF превращается в ErrStreamEnded.
func NewStreamError(op, source string, err error) *StreamError {
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: %w", ErrStreamEnded, err)
	}
	return &StreamError{Op: op, Source: source, Err: err}
}

// IsRecoverable сообщает, может ли реле продолжить работу после ошибки:
// ошибки источника и конец последовательности поглощаются маркером пачки.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	var streamErr *StreamError
	switch {
	case errors.As(err, &streamErr):
		return true
	case errors.Is(err, ErrStreamEnded), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	default:
		return false
	}
}
