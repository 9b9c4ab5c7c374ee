package avmedia

import "fmt"

// Packet единица сжатых медиа данных от источника.
//
// Пакетом в каждый момент владеет ровно один компонент: источник, очередь
// реле или цикл отправки. Совместное изменение не допускается.
type Packet struct {
	Data     []byte   // Сжатые данные (например Annex-B access unit или RTP payload)
	PTS      int64    // Presentation timestamp в единицах TimeBase
	TimeBase TimeBase // Временная база PTS
	Keyframe bool     // Самодостаточный кадр (IDR)
}

// Size возвращает размер данных пакета в байтах
func (p *Packet) Size() int {
	return len(p.Data)
}

func (p *Packet) String() string {
	return fmt.Sprintf("Packet(pts=%d tb=%s size=%d keyframe=%t)", p.PTS, p.TimeBase, len(p.Data), p.Keyframe)
}
