package negotiation

import (
	"net"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/avsender/pkg/avmedia"
	"github.com/arzzra/avsender/pkg/rtp"
)

// Parameters результат согласования одного медиа описания
type Parameters struct {
	Codec      avmedia.Codec
	Mid        string
	Extensions rtp.HeaderExtensionMap

	// RemoteAddr адрес получателя из c= и m= строк ("host:port")
	RemoteAddr string

	// Direction направление из ответа: sendrecv или recvonly
	Direction string
}

// Apply переносит согласованные параметры в конфигурацию отправителя
func (p Parameters) Apply(config *rtp.SenderConfig) {
	config.Codec = p.Codec
	config.Mid = p.Mid
	config.Extensions = p.Extensions
}

// staticPayloadTypes статические типы RFC 3551, для которых rtpmap необязателен
var staticPayloadTypes = map[uint8]struct {
	name      string
	clockRate uint32
}{
	0:  {"PCMU", 8000},
	8:  {"PCMA", 8000},
	9:  {"G722", 8000},
	18: {"G729", 8000},
	26: {"JPEG", 90000},
	34: {"H263", 90000},
}

// FromAnswer разбирает SDP ответ и извлекает параметры кодека, mid и
// идентификаторы расширений для первого медиа описания типа kind.
// Выбранным считается первый формат m= строки ответа.
func FromAnswer(raw []byte, kind avmedia.Kind) (Parameters, error) {
	var answer sdp.SessionDescription
	if err := answer.Unmarshal(raw); err != nil {
		return Parameters{}, wrapError(ErrorCodeParsing, err, "не удалось разобрать SDP ответ")
	}

	mediaDesc := findMedia(&answer, kind)
	if mediaDesc == nil {
		return Parameters{}, newError(ErrorCodeMediaNotFound,
			"в SDP ответе нет принятого медиа описания %s", kind)
	}

	direction := parseDirection(mediaDesc)
	if direction == "sendonly" || direction == "inactive" {
		return Parameters{}, newError(ErrorCodeInvalidDirection,
			"получатель не принимает медиа: %s", direction)
	}

	codec, err := selectCodec(mediaDesc, kind)
	if err != nil {
		return Parameters{}, err
	}

	extensions, err := parseExtensions(mediaDesc)
	if err != nil {
		return Parameters{}, err
	}

	params := Parameters{
		Codec:      codec,
		Extensions: extensions,
		Direction:  direction,
		RemoteAddr: remoteAddr(&answer, mediaDesc),
	}
	if mid, ok := mediaDesc.Attribute("mid"); ok {
		params.Mid = mid
	}
	return params, nil
}

// findMedia ищет первое принятое (порт не 0) медиа описание типа kind
func findMedia(desc *sdp.SessionDescription, kind avmedia.Kind) *sdp.MediaDescription {
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == kind.String() && m.MediaName.Port.Value != 0 {
			return m
		}
	}
	return nil
}

func parseDirection(mediaDesc *sdp.MediaDescription) string {
	for _, attr := range mediaDesc.Attributes {
		switch attr.Key {
		case "sendonly", "recvonly", "sendrecv", "inactive":
			return attr.Key
		}
	}
	return "sendrecv"
}

// selectCodec берет первый формат m= строки и ищет для него rtpmap
func selectCodec(mediaDesc *sdp.MediaDescription, kind avmedia.Kind) (avmedia.Codec, error) {
	if len(mediaDesc.MediaName.Formats) == 0 {
		return avmedia.Codec{}, newError(ErrorCodeIncompatibleCodec, "в m= строке нет форматов")
	}

	format := mediaDesc.MediaName.Formats[0]
	pt, err := strconv.ParseUint(format, 10, 7)
	if err != nil {
		return avmedia.Codec{}, wrapError(ErrorCodeIncompatibleCodec, err,
			"некорректный payload type: %s", format)
	}

	for _, attr := range mediaDesc.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		parts := strings.SplitN(attr.Value, " ", 2)
		if len(parts) != 2 || parts[0] != format {
			continue
		}
		name, clockRate, err := parseRtpmap(parts[1])
		if err != nil {
			return avmedia.Codec{}, wrapError(ErrorCodeIncompatibleCodec, err,
				"некорректный rtpmap: %s", attr.Value)
		}
		return avmedia.Codec{
			PayloadType: uint8(pt),
			ClockRate:   clockRate,
			MimeType:    kind.String() + "/" + name,
		}, nil
	}

	// Используем статический payload type
	if static, ok := staticPayloadTypes[uint8(pt)]; ok {
		return avmedia.Codec{
			PayloadType: uint8(pt),
			ClockRate:   static.clockRate,
			MimeType:    kind.String() + "/" + static.name,
		}, nil
	}

	return avmedia.Codec{}, newError(ErrorCodeIncompatibleCodec,
		"нет rtpmap для динамического payload type %d", pt)
}

// parseRtpmap разбирает "H264/90000" или "opus/48000/2"
func parseRtpmap(value string) (string, uint32, error) {
	parts := strings.Split(value, "/")
	if len(parts) < 2 || parts[0] == "" {
		return "", 0, newError(ErrorCodeIncompatibleCodec, "ожидается кодек/частота")
	}

	clockRate, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil || clockRate == 0 {
		return "", 0, newError(ErrorCodeIncompatibleCodec, "некорректная частота: %s", parts[1])
	}
	return parts[0], uint32(clockRate), nil
}

// parseExtensions собирает идентификаторы известных расширений из a=extmap.
// Неизвестные URI пропускаются.
func parseExtensions(mediaDesc *sdp.MediaDescription) (rtp.HeaderExtensionMap, error) {
	var extensions rtp.HeaderExtensionMap

	for _, attr := range mediaDesc.Attributes {
		if attr.Key != "extmap" {
			continue
		}

		fields := strings.Fields(attr.Value)
		if len(fields) < 2 {
			return extensions, newError(ErrorCodeInvalidExtension, "некорректный extmap: %q", attr.Value)
		}

		// "1/sendonly" - направление расширения не используется
		idStr, _, _ := strings.Cut(fields[0], "/")
		id, err := strconv.ParseUint(idStr, 10, 8)
		if err != nil || id == 0 {
			return extensions, newError(ErrorCodeInvalidExtension, "некорректный идентификатор extmap: %q", attr.Value)
		}

		switch fields[1] {
		case rtp.AbsSendTimeURI:
			extensions.AbsSendTime = uint8(id)
		case rtp.SDESMidURI:
			extensions.Mid = uint8(id)
		}
	}

	if err := extensions.Validate(); err != nil {
		return extensions, wrapError(ErrorCodeInvalidExtension, err, "неверные идентификаторы расширений")
	}
	return extensions, nil
}

// remoteAddr берет адрес сначала из c= медиа, затем из c= сессии
func remoteAddr(desc *sdp.SessionDescription, mediaDesc *sdp.MediaDescription) string {
	conn := mediaDesc.ConnectionInformation
	if conn == nil {
		conn = desc.ConnectionInformation
	}
	if conn == nil || conn.Address == nil || conn.Address.Address == "" {
		return ""
	}
	return net.JoinHostPort(conn.Address.Address, strconv.Itoa(mediaDesc.MediaName.Port.Value))
}
