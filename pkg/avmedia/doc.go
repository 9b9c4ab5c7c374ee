// Package avmedia описывает медиа модель отправителя: сжатые пакеты источника,
// временные базы и синхронизацию треков, а также реле между блокирующим
// источником пакетов и циклом отправки RTP.
//
// Основные компоненты:
//   - TimeBase, ConvertTimebase: точная рациональная арифметика временных меток
//   - Clock: нормализация pts относительно первого увиденного пакета трека
//   - Kind: тип трека (audio/video) с частотой тактирования и ptime
//   - Track: возможность трека выдавать пакеты пачками (ToStream) и останавливаться
//   - Producer: реле, запускающее трек в отдельной горутине и передающее
//     пакеты через ограниченную очередь с явным маркером конца пачки
//
// Модель конкурентности:
//
//	источник (блокирующий I/O) -> горутина Producer -> chan Item (bufsize) -> цикл отправки
//
// Очередь - единственный разделяемый ресурс между горутиной источника и
// циклом отправки. Заполненная очередь блокирует только производителя.
//
// Пример:
//
//	producer := avmedia.NewProducer(track, avmedia.DefaultProducerConfig())
//	if err := producer.Start(); err != nil {
//	    return err
//	}
//	defer producer.Stop()
//
//	for pkt, err := range producer.ToStream(ctx, req) {
//	    ...
//	}
package avmedia
