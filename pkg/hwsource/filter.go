package hwsource

import (
	"encoding/binary"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// Filter преобразование битового потока, применяемое к каждому блоку доступа
// перед отправкой. Возвращает блок доступа в формате Annex-B.
type Filter interface {
	Filter(data []byte) (out []byte, keyframe bool, err error)
}

// AVCCToAnnexB переводит NAL единицы с префиксом длины (MP4) в Annex-B
// со стартовыми кодами и добавляет SPS/PPS из конфигурации декодера перед
// ключевыми кадрами, в которых их нет.
type AVCCToAnnexB struct {
	lengthSize int
	sps        [][]byte
	pps        [][]byte
}

// NewAVCCToAnnexB создает фильтр. lengthSize размер префикса длины (1, 2 или 4).
func NewAVCCToAnnexB(lengthSize int, sps, pps [][]byte) (*AVCCToAnnexB, error) {
	switch lengthSize {
	case 1, 2, 4:
	default:
		return nil, fmt.Errorf("%w: размер префикса длины NAL %d", ErrUnsupportedFormat, lengthSize)
	}
	return &AVCCToAnnexB{lengthSize: lengthSize, sps: sps, pps: pps}, nil
}

func (f *AVCCToAnnexB) Filter(data []byte) ([]byte, bool, error) {
	au, err := f.split(data)
	if err != nil {
		return nil, false, err
	}

	keyframe := h264.IsRandomAccess(au)
	if keyframe && !hasParameterSets(au) {
		withParams := make([][]byte, 0, len(f.sps)+len(f.pps)+len(au))
		withParams = append(withParams, f.sps...)
		withParams = append(withParams, f.pps...)
		au = append(withParams, au...)
	}

	out, err := h264.AnnexB(au).Marshal()
	if err != nil {
		return nil, false, fmt.Errorf("ошибка сборки Annex-B: %w", err)
	}
	return out, keyframe, nil
}

func (f *AVCCToAnnexB) split(data []byte) ([][]byte, error) {
	var au [][]byte
	for pos := 0; pos < len(data); {
		if pos+f.lengthSize > len(data) {
			return nil, fmt.Errorf("обрезанный префикс длины NAL на позиции %d", pos)
		}

		var size int
		switch f.lengthSize {
		case 1:
			size = int(data[pos])
		case 2:
			size = int(binary.BigEndian.Uint16(data[pos:]))
		case 4:
			size = int(binary.BigEndian.Uint32(data[pos:]))
		}
		pos += f.lengthSize

		if size == 0 || pos+size > len(data) {
			return nil, fmt.Errorf("невалидная длина NAL %d на позиции %d", size, pos)
		}
		au = append(au, data[pos:pos+size])
		pos += size
	}

	if len(au) == 0 {
		return nil, fmt.Errorf("пустой блок доступа")
	}
	return au, nil
}

// AnnexBFilter нормализует поток Annex-B от аппаратного кодера: удаляет
// разделители блоков доступа и добавляет последние SPS/PPS перед ключевыми
// кадрами, если кодер выдает их отдельно.
type AnnexBFilter struct {
	sps []byte
	pps []byte
}

func (f *AnnexBFilter) Filter(data []byte) ([]byte, bool, error) {
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return nil, false, fmt.Errorf("ошибка разбора Annex-B: %w", err)
	}

	filtered := make([][]byte, 0, len(au)+2)
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeAccessUnitDelimiter:
			continue
		case h264.NALUTypeSPS:
			f.sps = append(f.sps[:0], nalu...)
		case h264.NALUTypePPS:
			f.pps = append(f.pps[:0], nalu...)
		}
		filtered = append(filtered, nalu)
	}

	if len(filtered) == 0 {
		return nil, false, fmt.Errorf("блок доступа без NAL единиц")
	}

	keyframe := h264.IsRandomAccess(filtered)
	if keyframe && !hasParameterSets(filtered) && f.sps != nil && f.pps != nil {
		filtered = append([][]byte{f.sps, f.pps}, filtered...)
	}

	out, err := h264.AnnexB(filtered).Marshal()
	if err != nil {
		return nil, false, fmt.Errorf("ошибка сборки Annex-B: %w", err)
	}
	return out, keyframe, nil
}

func hasParameterSets(au [][]byte) bool {
	var sps, pps bool
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			sps = true
		case h264.NALUTypePPS:
			pps = true
		}
	}
	return sps && pps
}
