package avmedia

import (
	"context"
	"iter"
)

// Codec описывает согласованные параметры кодека
type Codec struct {
	PayloadType uint8  // RTP payload type из SDP
	ClockRate   uint32 // Частота RTP часов (Hz)
	MimeType    string // Например "video/H264"
}

// TimeBase возвращает временную базу RTP часов кодека
func (c Codec) TimeBase() TimeBase {
	return ClockTimeBase(c.ClockRate)
}

// StreamRequest параметры одного запроса пачки пакетов у трека
type StreamRequest struct {
	TimeOrigin    uint32 // Начало отсчета RTP времени, выбирается один раз на поток
	ForceKeyframe bool   // Подсказка: следующий кадр должен быть ключевым
	Codec         Codec  // Согласованные параметры кодека
}

// Track источник сжатых пакетов одного типа медиа.
//
// ToStream возвращает ленивую последовательность одной пачки пакетов. Пачка
// заканчивается вместе с последовательностью; маркер RTP ставится на последний
// пакет пачки. Ошибка, выданная последовательностью, завершает пачку.
type Track interface {
	// Kind возвращает тип трека
	Kind() Kind

	// ElapsedTime нормализует pts трека относительно origin (см. Clock)
	ElapsedTime(origin uint32, timeBase TimeBase, pts int64) uint32

	// ToStream выдает следующую пачку пакетов
	ToStream(ctx context.Context, req StreamRequest) iter.Seq2[*Packet, error]

	// Stop освобождает ресурсы трека. Повторный вызов безопасен.
	Stop() error
}

// TrackBase общая часть треков: тип и часы синхронизации.
// Встраивается в конкретные реализации Track.
type TrackBase struct {
	kind  Kind
	clock *Clock
}

// NewTrackBase создает базу трека с целевой временной базой типа kind
func NewTrackBase(kind Kind) TrackBase {
	return TrackBase{kind: kind, clock: NewKindClock(kind)}
}

// NewTrackBaseWithTarget создает базу трека с явной целевой временной базой
// (например частотой аудио кодека)
func NewTrackBaseWithTarget(kind Kind, target TimeBase) TrackBase {
	return TrackBase{kind: kind, clock: NewClock(target)}
}

// Kind возвращает тип трека
func (b *TrackBase) Kind() Kind {
	return b.kind
}

// ElapsedTime делегирует часам трека
func (b *TrackBase) ElapsedTime(origin uint32, timeBase TimeBase, pts int64) uint32 {
	return b.clock.ElapsedTime(origin, timeBase, pts)
}

// Clock возвращает часы трека
func (b *TrackBase) Clock() *Clock {
	return b.clock
}

// CollectBatch материализует пачку. При ошибке возвращаются пакеты,
// полученные до нее, и сама ошибка.
func CollectBatch(seq iter.Seq2[*Packet, error]) ([]*Packet, error) {
	var batch []*Packet
	for pkt, err := range seq {
		if err != nil {
			return batch, err
		}
		batch = append(batch, pkt)
	}
	return batch, nil
}
