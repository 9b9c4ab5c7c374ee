package avmedia

import "time"

// Kind определяет тип медиа трека
type Kind int

const (
	KindUnknown Kind = iota
	KindAudio
	KindVideo
)

// Частоты тактирования и время пакетизации по умолчанию
const (
	VideoClockRate = 90000
	AudioClockRate = 48000 // Opus и большинство широкополосных кодеков

	AudioPtime = 20 * time.Millisecond
	VideoPtime = time.Second / 30
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// ParseKind разбирает строковое представление типа трека
func ParseKind(s string) Kind {
	switch s {
	case "audio":
		return KindAudio
	case "video":
		return KindVideo
	default:
		return KindUnknown
	}
}

// ClockRate возвращает частоту тактирования по умолчанию для типа трека.
// Для аудио фактическая частота определяется кодеком (см. Codec.ClockRate).
func (k Kind) ClockRate() uint32 {
	switch k {
	case KindAudio:
		return AudioClockRate
	case KindVideo:
		return VideoClockRate
	default:
		return 0
	}
}

// TimeBase возвращает целевую временную базу типа трека
func (k Kind) TimeBase() TimeBase {
	return ClockTimeBase(k.ClockRate())
}

// PacketizationTime возвращает длительность одного пакета по умолчанию
func (k Kind) PacketizationTime() time.Duration {
	switch k {
	case KindAudio:
		return AudioPtime
	case KindVideo:
		return VideoPtime
	default:
		return 0
	}
}
