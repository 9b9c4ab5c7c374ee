package avmedia

import (
	"fmt"
	"math/big"
)

// TimeBase рациональное число секунд на единицу временной метки (Num/Den).
// Например 1/90000 для видео RTP или 1/1000 для миллисекундных меток.
type TimeBase struct {
	Num int64
	Den int64
}

// NewTimeBase создает временную базу num/den
func NewTimeBase(num, den int64) TimeBase {
	return TimeBase{Num: num, Den: den}
}

// ClockTimeBase возвращает временную базу 1/clockRate для RTP часов кодека
func ClockTimeBase(clockRate uint32) TimeBase {
	return TimeBase{Num: 1, Den: int64(clockRate)}
}

// IsValid проверяет что база положительна
func (tb TimeBase) IsValid() bool {
	return tb.Num > 0 && tb.Den > 0
}

// Equal сравнивает базы как рациональные числа (1/1000 == 2/2000)
func (tb TimeBase) Equal(other TimeBase) bool {
	if tb == other {
		return true
	}
	if !tb.IsValid() || !other.IsValid() {
		return false
	}
	return tb.rat().Cmp(other.rat()) == 0
}

func (tb TimeBase) rat() *big.Rat {
	return big.NewRat(tb.Num, tb.Den)
}

func (tb TimeBase) String() string {
	return fmt.Sprintf("%d/%d", tb.Num, tb.Den)
}

// ConvertTimebase переводит pts из базы from в базу to.
//
// При совпадающих базах pts возвращается без изменений. Иначе вычисляется
// pts * from / to в целых числах произвольной точности и усекается к нулю.
func ConvertTimebase(pts int64, from, to TimeBase) int64 {
	if from.Equal(to) {
		return pts
	}

	num := big.NewInt(pts)
	num.Mul(num, big.NewInt(from.Num))
	num.Mul(num, big.NewInt(to.Den))

	den := big.NewInt(from.Den)
	den.Mul(den, big.NewInt(to.Num))

	// Quo усекает к нулю
	return num.Quo(num, den).Int64()
}
