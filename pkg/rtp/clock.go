package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// ntpEpochOffset секунды между эпохой NTP (1900) и Unix (1970)
const ntpEpochOffset = 2208988800

// NTPTime возвращает время t в формате NTP 32.32 с фиксированной точкой
func NTPTime(t time.Time) uint64 {
	seconds := uint64(t.Unix()) + ntpEpochOffset
	fraction := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return seconds<<32 | fraction
}

// NTPTimeToTime обратное преобразование NTPTime
func NTPTimeToTime(ntp uint64) time.Time {
	seconds := int64(ntp>>32) - ntpEpochOffset
	nanos := (ntp & 0xFFFFFFFF) * uint64(time.Second) >> 32
	return time.Unix(seconds, int64(nanos)).UTC()
}

// AbsSendTime возвращает 24-битное значение расширения abs-send-time:
// 6.18 секунды с фиксированной точкой из NTP 32.32
func AbsSendTime(ntp uint64) uint32 {
	return uint32(ntp>>14) & 0x00FFFFFF
}

// generateSSRC генерирует случайный SSRC согласно RFC 3550 Appendix A.6
func generateSSRC() (uint32, error) {
	var ssrc uint32
	err := binary.Read(rand.Reader, binary.BigEndian, &ssrc)
	if err != nil {
		return 0, err
	}
	return ssrc, nil
}

// generateRandomUint16 генерирует случайное 16-битное число
func generateRandomUint16() uint16 {
	var val uint16
	_ = binary.Read(rand.Reader, binary.BigEndian, &val)
	return val
}

// generateRandomUint32 генерирует случайное 32-битное число
func generateRandomUint32() uint32 {
	var val uint32
	_ = binary.Read(rand.Reader, binary.BigEndian, &val)
	return val
}
