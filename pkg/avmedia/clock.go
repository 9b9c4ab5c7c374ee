package avmedia

// Clock хранит состояние синхронизации одного трека.
//
// Первый pts трека запоминается ровно один раз, все последующие вычисления
// прошедшего времени отсчитываются от него. Capture конвейеры часто начинают
// счетчик меток с произвольного значения, поэтому без нормализации RTP время
// трека не начиналось бы от origin.
//
// Clock не потокобезопасен: им владеет горутина, читающая источник.
type Clock struct {
	target   TimeBase
	firstPTS int64
	started  bool
}

// NewClock создает часы трека с целевой временной базой target
func NewClock(target TimeBase) *Clock {
	return &Clock{target: target}
}

// NewKindClock создает часы с целевой базой по умолчанию для типа трека
func NewKindClock(kind Kind) *Clock {
	return NewClock(kind.TimeBase())
}

// Target возвращает целевую временную базу
func (c *Clock) Target() TimeBase {
	return c.target
}

// FirstPTS возвращает первый увиденный pts, если он уже был
func (c *Clock) FirstPTS() (int64, bool) {
	return c.firstPTS, c.started
}

// ElapsedTime возвращает origin плюс время, прошедшее от первого пакета трека,
// в целевой временной базе. Сложение выполняется по модулю 2^32.
//
// Немонотонные метки источника дают немонотонный результат, это не исправляется.
func (c *Clock) ElapsedTime(origin uint32, timeBase TimeBase, pts int64) uint32 {
	if !c.started {
		c.firstPTS = pts
		c.started = true
	}

	elapsed := ConvertTimebase(pts-c.firstPTS, timeBase, c.target)
	return Uint32Add(origin, uint32(elapsed))
}

// Reset забывает первый pts. Следующий вызов ElapsedTime начнет отсчет заново.
// Используется при переоткрытии источника.
func (c *Clock) Reset() {
	c.firstPTS = 0
	c.started = false
}

// Uint16Add складывает по модулю 2^16 (номера последовательности RTP)
func Uint16Add(a, b uint16) uint16 {
	return a + b
}

// Uint32Add складывает по модулю 2^32 (временные метки RTP)
func Uint32Add(a, b uint32) uint32 {
	return a + b
}
