package hwsource

import "errors"

var (
	// ErrUnsupportedFormat формат источника или кодек не поддерживается
	ErrUnsupportedFormat = errors.New("формат не поддерживается")

	// ErrInvalidOption неизвестная или невалидная опция источника
	ErrInvalidOption = errors.New("невалидная опция")

	// ErrKeyframeUnsupported источник не умеет запрашивать ключевой кадр
	ErrKeyframeUnsupported = errors.New("запрос ключевого кадра не поддерживается")

	// ErrSourceStopped источник остановлен
	ErrSourceStopped = errors.New("источник остановлен")
)
