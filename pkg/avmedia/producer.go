package avmedia

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/avsender/pkg/metrics"
)

// Значения реле по умолчанию
const (
	DefaultProducerBufferSize    = 200
	DefaultProducerRetryInterval = 20 * time.Millisecond
)

// ItemKind тип элемента очереди реле
type ItemKind int

const (
	// ItemPacket элемент несет пакет
	ItemPacket ItemKind = iota
	// ItemEndOfBatch конец пачки, пакетов в элементе нет
	ItemEndOfBatch
	// ItemEndOfStream горутина источника завершилась, Err содержит причину
	ItemEndOfStream
)

func (k ItemKind) String() string {
	switch k {
	case ItemPacket:
		return "packet"
	case ItemEndOfBatch:
		return "end-of-batch"
	case ItemEndOfStream:
		return "end-of-stream"
	default:
		return fmt.Sprintf("ItemKind(%d)", int(k))
	}
}

// Item элемент очереди реле
type Item struct {
	Kind   ItemKind
	Packet *Packet
	Err    error
}

// ProducerConfig конфигурация реле
type ProducerConfig struct {
	// BufferSize емкость очереди. Заполненная очередь блокирует источник.
	BufferSize int

	// RetryInterval пауза после восстановимой ошибки или пустой пачки
	RetryInterval time.Duration

	// Request если задан, трек читается сразу после Start с этим запросом.
	// Без него чтение начинается только после первого ToStream потребителя:
	// начало отсчета RTP времени и кодек приходят из его запроса.
	Request *StreamRequest

	Logger  *logrus.Entry
	Metrics *metrics.Metrics
}

// DefaultProducerConfig возвращает конфигурацию реле по умолчанию
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		BufferSize:    DefaultProducerBufferSize,
		RetryInterval: DefaultProducerRetryInterval,
	}
}

// ApplyDefaults заполняет незаданные поля значениями по умолчанию
func (c *ProducerConfig) ApplyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultProducerBufferSize
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultProducerRetryInterval
	}
}

const (
	producerIdle int32 = iota
	producerRunning
	producerStopped
)

// Producer реле между блокирующим треком и циклом отправки.
//
// Трек читается в отдельной горутине. Каждый пакет пачки кладется в
// ограниченную очередь, после пачки кладется ItemEndOfBatch. Потребитель
// забирает пачку через ToStream. Producer сам реализует Track и может быть
// подключен к отправителю вместо исходного трека.
//
// Запущенная горутина удерживает Producer и трек, поэтому сборщик мусора их
// не освободит: Stop (или Close) обязателен для каждого созданного реле.
type Producer struct {
	track  Track
	config ProducerConfig
	logger *logrus.Entry

	queue chan Item
	done  chan struct{}

	mu     sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc

	request       atomic.Pointer[StreamRequest]
	forceKeyframe atomic.Bool
	requested     chan struct{}
	requestOnce   sync.Once

	stopOnce sync.Once
	stopErr  error
}

// NewProducer создает реле для трека. Горутина запускается в Start.
func NewProducer(track Track, config ProducerConfig) *Producer {
	config.ApplyDefaults()

	logger := config.Logger
	if logger == nil {
		logger = logrus.WithFields(logrus.Fields{
			"component": "relay",
			"kind":      track.Kind().String(),
		})
	}

	p := &Producer{
		track:  track,
		config: config,
		logger: logger,
		queue:     make(chan Item, config.BufferSize),
		done:      make(chan struct{}),
		requested: make(chan struct{}),
	}

	var req StreamRequest
	if config.Request != nil {
		req = *config.Request
		p.requestOnce.Do(func() { close(p.requested) })
	}
	p.request.Store(&req)
	return p
}

// Start запускает горутину чтения трека
func (p *Producer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state.Load() {
	case producerRunning:
		return ErrProducerRunning
	case producerStopped:
		return ErrProducerClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.state.Store(producerRunning)

	go p.run(ctx)

	p.logger.Debug("- relay started")
	return nil
}

// Stop останавливает горутину и дожидается ее завершения, затем
// останавливает трек. Это единственный способ освободить реле. После возврата в очередь ничего не пишется.
// Повторные вызовы и вызов без Start безопасны.
func (p *Producer) Stop() error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		prev := p.state.Swap(producerStopped)
		cancel := p.cancel
		p.mu.Unlock()

		if prev == producerRunning {
			cancel()
			<-p.done
		} else {
			close(p.done)
		}

		p.stopErr = p.track.Stop()
		p.logger.WithField("queued", len(p.queue)).Debug("- relay stopped")
	})
	return p.stopErr
}

// Close то же, что Stop
func (p *Producer) Close() error {
	return p.Stop()
}

// Running сообщает, работает ли горутина источника
func (p *Producer) Running() bool {
	if p.state.Load() != producerRunning {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Len возвращает число элементов в очереди
func (p *Producer) Len() int {
	return len(p.queue)
}

// Kind возвращает тип исходного трека
func (p *Producer) Kind() Kind {
	return p.track.Kind()
}

// ElapsedTime делегирует исходному треку
func (p *Producer) ElapsedTime(origin uint32, timeBase TimeBase, pts int64) uint32 {
	return p.track.ElapsedTime(origin, timeBase, pts)
}

// ToStream возвращает следующую пачку из очереди.
//
// Запрос req публикуется горутине источника и используется при следующем
// чтении трека; ForceKeyframe сохраняется до этого чтения. Первый вызов
// разрешает горутине начать чтение (если ProducerConfig.Request не задан),
// так что первая пачка уже нормализуется от req.TimeOrigin. Для реле, которое
// не запускалось, пачка пуста. После остановки и опустошения очереди
// последовательность выдает ErrStreamEnded.
func (p *Producer) ToStream(ctx context.Context, req StreamRequest) iter.Seq2[*Packet, error] {
	p.publish(req)

	return func(yield func(*Packet, error) bool) {
		if p.state.Load() == producerIdle {
			return
		}

		for {
			var item Item
			select {
			case item = <-p.queue:
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case <-p.done:
				select {
				case item = <-p.queue:
				default:
					yield(nil, ErrStreamEnded)
					return
				}
			}
			p.config.Metrics.QueueDepth(p.kindLabel(), len(p.queue))

			switch item.Kind {
			case ItemPacket:
				if !yield(item.Packet, nil) {
					return
				}
			case ItemEndOfBatch:
				return
			case ItemEndOfStream:
				yield(nil, item.Err)
				return
			}
		}
	}
}

func (p *Producer) publish(req StreamRequest) {
	if req.ForceKeyframe {
		p.forceKeyframe.Store(true)
	}
	req.ForceKeyframe = false
	p.request.Store(&req)
	p.requestOnce.Do(func() { close(p.requested) })
}

func (p *Producer) nextRequest() StreamRequest {
	req := *p.request.Load()
	req.ForceKeyframe = p.forceKeyframe.Swap(false)
	return req
}

func (p *Producer) kindLabel() string {
	return p.track.Kind().String()
}

func (p *Producer) run(ctx context.Context) {
	defer close(p.done)

	// Трек не читается, пока не известен запрос потребителя
	select {
	case <-p.requested:
	case <-ctx.Done():
		return
	}

	for ctx.Err() == nil {
		n, err := p.pullBatch(ctx)
		if ctx.Err() != nil {
			return
		}

		switch {
		case err == nil:
			if !p.push(ctx, Item{Kind: ItemEndOfBatch}) {
				return
			}
			p.config.Metrics.BatchRelayed(p.kindLabel())
			if n == 0 && !p.wait(ctx) {
				return
			}

		case IsRecoverable(err):
			p.logger.WithError(err).Debug("ошибка источника поглощена")
			p.config.Metrics.SourceError(p.kindLabel())
			if !p.push(ctx, Item{Kind: ItemEndOfBatch}) {
				return
			}
			if !p.wait(ctx) {
				return
			}

		default:
			p.logger.WithError(err).Warn("источник завершился с ошибкой")
			p.push(ctx, Item{Kind: ItemEndOfStream, Err: err})
			return
		}
	}
}

// pullBatch читает одну пачку трека и кладет ее пакеты в очередь
func (p *Producer) pullBatch(ctx context.Context) (int, error) {
	n := 0
	for pkt, err := range p.track.ToStream(ctx, p.nextRequest()) {
		if err != nil {
			return n, err
		}
		if !p.push(ctx, Item{Kind: ItemPacket, Packet: pkt}) {
			return n, ctx.Err()
		}
		n++
	}
	return n, nil
}

// push блокируется при заполненной очереди до чтения потребителем или отмены
func (p *Producer) push(ctx context.Context, item Item) bool {
	select {
	case p.queue <- item:
		p.config.Metrics.QueueDepth(p.kindLabel(), len(p.queue))
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Producer) wait(ctx context.Context) bool {
	timer := time.NewTimer(p.config.RetryInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
