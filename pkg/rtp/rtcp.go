package rtp

import (
	"context"
	"fmt"

	"github.com/pion/rtcp"
)

// SenderReport строит RTCP sender report из счетчиков отправителя
// согласно RFC 3550 6.4.1
func (s *Sender) SenderReport() *rtcp.SenderReport {
	stats := s.Stats()
	return &rtcp.SenderReport{
		SSRC:        s.ssrc,
		NTPTime:     stats.LastNTPTime,
		RTPTime:     stats.LastRTPTimestamp,
		PacketCount: stats.PacketsSent,
		OctetCount:  stats.OctetsSent,
	}
}

// SourceDescription строит SDES пакет с CNAME источника
func (s *Sender) SourceDescription() *rtcp.SourceDescription {
	return &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{{
			Source: s.ssrc,
			Items: []rtcp.SourceDescriptionItem{{
				Type: rtcp.SDESCNAME,
				Text: s.config.CNAME,
			}},
		}},
	}
}

// MarshalRTCP сериализует составной пакет SR + SDES
func (s *Sender) MarshalRTCP() ([]byte, error) {
	data, err := rtcp.Marshal([]rtcp.Packet{s.SenderReport(), s.SourceDescription()})
	if err != nil {
		return nil, fmt.Errorf("ошибка маршалинга RTCP: %w", err)
	}
	return data, nil
}

// SendReport отправляет составной RTCP пакет через транспорт отправителя (rtcp-mux)
func (s *Sender) SendReport(ctx context.Context) error {
	data, err := s.MarshalRTCP()
	if err != nil {
		return err
	}
	return s.transport.Send(ctx, data)
}
