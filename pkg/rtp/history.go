package rtp

import (
	"sync"

	"github.com/pion/rtp"
)

// RTPHistorySize число последних отправленных пакетов, доступных для повторной отправки
const RTPHistorySize = 128

// history кольцо последних отправленных пакетов, индекс seq % RTPHistorySize.
// Пишет только цикл отправки, старые записи перезаписываются.
type history struct {
	mu      sync.RWMutex
	packets [RTPHistorySize]*rtp.Packet
}

func (h *history) store(packet *rtp.Packet) {
	h.mu.Lock()
	h.packets[packet.SequenceNumber%RTPHistorySize] = packet
	h.mu.Unlock()
}

// lookup возвращает пакет с номером seq, если он еще хранится
func (h *history) lookup(seq uint16) *rtp.Packet {
	h.mu.RLock()
	defer h.mu.RUnlock()

	packet := h.packets[seq%RTPHistorySize]
	if packet == nil || packet.SequenceNumber != seq {
		return nil
	}
	return packet
}

func (h *history) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, p := range h.packets {
		if p != nil {
			n++
		}
	}
	return n
}
