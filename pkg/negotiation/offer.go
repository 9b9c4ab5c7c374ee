package negotiation

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/avsender/pkg/avmedia"
	"github.com/arzzra/avsender/pkg/rtp"
)

// OfferConfig параметры SDP предложения отправителя
type OfferConfig struct {
	SessionName string

	// SessionID идентификатор o= строки. 0 - текущее время.
	SessionID uint64

	// Address адрес, который получатель увидит в c= строке
	Address string
	Port    int

	Kind       avmedia.Kind
	Codec      avmedia.Codec
	Mid        string
	Extensions rtp.HeaderExtensionMap

	// Fmtp параметры формата, например "packetization-mode=1"
	Fmtp string
}

// DefaultOfferConfig возвращает предложение H.264 видео с abs-send-time и mid
func DefaultOfferConfig() OfferConfig {
	return OfferConfig{
		SessionName: "avsender",
		Address:     "127.0.0.1",
		Port:        5004,
		Kind:        avmedia.KindVideo,
		Codec: avmedia.Codec{
			PayloadType: 96,
			ClockRate:   avmedia.VideoClockRate,
			MimeType:    "video/H264",
		},
		Mid:        "0",
		Extensions: rtp.DefaultHeaderExtensionMap(),
		Fmtp:       "packetization-mode=1",
	}
}

// Validate проверяет конфигурацию предложения
func (c *OfferConfig) Validate() error {
	if c.Address == "" {
		return newError(ErrorCodeInvalidConfig, "Address не может быть пустым")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return newError(ErrorCodeInvalidConfig, "некорректный порт: %d", c.Port)
	}
	if c.Kind != avmedia.KindAudio && c.Kind != avmedia.KindVideo {
		return newError(ErrorCodeInvalidConfig, "неизвестный тип медиа: %s", c.Kind)
	}
	if c.Codec.ClockRate == 0 {
		return newError(ErrorCodeInvalidConfig, "ClockRate должен быть больше 0")
	}
	if c.Codec.PayloadType > 127 {
		return newError(ErrorCodeInvalidConfig, "payload type вне диапазона 0-127: %d", c.Codec.PayloadType)
	}
	if _, _, ok := strings.Cut(c.Codec.MimeType, "/"); !ok {
		return newError(ErrorCodeInvalidConfig, "MimeType должен иметь вид тип/кодек: %q", c.Codec.MimeType)
	}
	if err := c.Extensions.Validate(); err != nil {
		return wrapError(ErrorCodeInvalidConfig, err, "неверные идентификаторы расширений")
	}
	return nil
}

// BuildOffer создает sendonly предложение с одним медиа описанием
func BuildOffer(config OfferConfig) (*sdp.SessionDescription, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	sessionID := config.SessionID
	if sessionID == 0 {
		sessionID = uint64(time.Now().Unix())
	}

	addressType := "IP4"
	if ip := net.ParseIP(config.Address); ip != nil && ip.To4() == nil {
		addressType = "IP6"
	}

	offer := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    addressType,
			UnicastAddress: config.Address,
		},
		SessionName: sdp.SessionName(config.SessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addressType,
			Address:     &sdp.Address{Address: config.Address},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{
				Timing: sdp.Timing{
					StartTime: 0,
					StopTime:  0,
				},
			},
		},
	}

	mediaDesc := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   config.Kind.String(),
			Port:    sdp.RangedPort{Value: config.Port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{strconv.Itoa(int(config.Codec.PayloadType))},
		},
	}
	mediaDesc.Attributes = buildMediaAttributes(config)

	offer.MediaDescriptions = []*sdp.MediaDescription{mediaDesc}
	return offer, nil
}

// MarshalOffer строит предложение и сериализует его
func MarshalOffer(config OfferConfig) ([]byte, error) {
	offer, err := BuildOffer(config)
	if err != nil {
		return nil, err
	}

	data, err := offer.Marshal()
	if err != nil {
		return nil, wrapError(ErrorCodeGeneration, err, "не удалось сериализовать SDP")
	}
	return data, nil
}

func buildMediaAttributes(config OfferConfig) []sdp.Attribute {
	var attributes []sdp.Attribute

	if config.Mid != "" {
		attributes = append(attributes, sdp.NewAttribute("mid", config.Mid))
	}

	// Отправитель только передает
	attributes = append(attributes, sdp.NewPropertyAttribute("sendonly"))

	if config.Extensions.AbsSendTime != 0 {
		attributes = append(attributes, sdp.NewAttribute("extmap",
			fmt.Sprintf("%d %s", config.Extensions.AbsSendTime, rtp.AbsSendTimeURI)))
	}
	if config.Extensions.Mid != 0 {
		attributes = append(attributes, sdp.NewAttribute("extmap",
			fmt.Sprintf("%d %s", config.Extensions.Mid, rtp.SDESMidURI)))
	}

	_, codecName, _ := strings.Cut(config.Codec.MimeType, "/")
	rtpmap := fmt.Sprintf("%d %s/%d", config.Codec.PayloadType, codecName, config.Codec.ClockRate)
	attributes = append(attributes, sdp.NewAttribute("rtpmap", rtpmap))

	if config.Fmtp != "" {
		attributes = append(attributes, sdp.NewAttribute("fmtp",
			fmt.Sprintf("%d %s", config.Codec.PayloadType, config.Fmtp)))
	}

	// RTP и RTCP идут через один транспорт
	attributes = append(attributes, sdp.NewPropertyAttribute("rtcp-mux"))

	return attributes
}
