package rtp

import (
	"fmt"

	"github.com/pion/rtp"
)

// URI расширений заголовка RTP, которые заполняет отправитель
const (
	AbsSendTimeURI = "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"
	SDESMidURI     = "urn:ietf:params:rtp-hdrext:sdes:mid"
)

// maxOneByteExtensionID RFC 8285: идентификаторы one-byte расширений 1-14
const maxOneByteExtensionID = 14

// HeaderExtensionMap согласованные идентификаторы расширений заголовка.
// Нулевой идентификатор означает, что расширение не согласовано и не пишется.
type HeaderExtensionMap struct {
	AbsSendTime uint8
	Mid         uint8
}

// DefaultHeaderExtensionMap идентификаторы, которые предлагает BuildOffer
func DefaultHeaderExtensionMap() HeaderExtensionMap {
	return HeaderExtensionMap{AbsSendTime: 1, Mid: 2}
}

// Validate проверяет диапазон и уникальность идентификаторов
func (m HeaderExtensionMap) Validate() error {
	if m.AbsSendTime > maxOneByteExtensionID {
		return fmt.Errorf("идентификатор abs-send-time вне диапазона 1-%d: %d", maxOneByteExtensionID, m.AbsSendTime)
	}
	if m.Mid > maxOneByteExtensionID {
		return fmt.Errorf("идентификатор mid вне диапазона 1-%d: %d", maxOneByteExtensionID, m.Mid)
	}
	if m.AbsSendTime != 0 && m.AbsSendTime == m.Mid {
		return fmt.Errorf("идентификаторы расширений совпадают: %d", m.Mid)
	}
	return nil
}

// ByURI возвращает идентификатор расширения по его URI
func (m HeaderExtensionMap) ByURI(uri string) (uint8, bool) {
	switch uri {
	case AbsSendTimeURI:
		return m.AbsSendTime, m.AbsSendTime != 0
	case SDESMidURI:
		return m.Mid, m.Mid != 0
	default:
		return 0, false
	}
}

// Stamp записывает в заголовок abs-send-time для момента ntp и mid
func (m HeaderExtensionMap) Stamp(header *rtp.Header, ntp uint64, mid string) error {
	if m.AbsSendTime != 0 {
		payload, err := rtp.AbsSendTimeExtension{Timestamp: uint64(AbsSendTime(ntp))}.Marshal()
		if err != nil {
			return fmt.Errorf("ошибка маршалинга abs-send-time: %w", err)
		}
		if err := header.SetExtension(m.AbsSendTime, payload); err != nil {
			return fmt.Errorf("ошибка установки abs-send-time: %w", err)
		}
	}

	if m.Mid != 0 && mid != "" {
		if err := header.SetExtension(m.Mid, []byte(mid)); err != nil {
			return fmt.Errorf("ошибка установки mid: %w", err)
		}
	}

	return nil
}
