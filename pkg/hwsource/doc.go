// Package hwsource реализует источник уже сжатого видео (passthrough):
// V4L2 устройство с аппаратным H.264 кодером или контейнер (MP4, MPEG-TS).
//
// Источник читает блоки доступа демультиплексором, прогоняет каждый через
// фильтр битового потока (AVCC -> Annex-B или нормализация Annex-B),
// нормализует метки времени часами трека и выдает одну пачку пакетов на
// блок доступа. Чтение блокирующее, поэтому источник обычно оборачивают
// в avmedia.Producer.
//
// Запрос ключевого кадра передается только V4L2 устройствам
// (V4L2_CID_MPEG_VIDEO_FORCE_KEY_FRAME). Контейнеры не могут выполнить
// запрос: он записывается в лог один раз и учитывается в метриках.
package hwsource
