package hwsource

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

// replacementUTF8 U+FFFD в UTF-8
var replacementUTF8 = []byte(string(utf8.RuneError))

// DecodeMetadata переводит сырые текстовые метаданные источника в строки.
// encoding имя кодировки (utf-8, iso-8859-1, windows-1251, ...), policy
// определяет обработку невалидных байт: strict возвращает ошибку, ignore
// удаляет их, replace заменяет на U+FFFD.
func DecodeMetadata(raw map[string][]byte, encoding, policy string) (map[string]string, error) {
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: кодировка метаданных %q", ErrInvalidOption, encoding)
	}

	switch policy {
	case MetadataStrict, MetadataIgnore, MetadataReplace:
	default:
		return nil, fmt.Errorf("%w: metadata_errors %q", ErrInvalidOption, policy)
	}

	result := make(map[string]string, len(raw))
	for key, value := range raw {
		decoded, err := enc.NewDecoder().Bytes(value)
		if err != nil {
			return nil, fmt.Errorf("ошибка декодирования метаданных %s: %w", key, err)
		}

		// Декодеры x/text заменяют невалидные последовательности на U+FFFD
		introduced := bytes.Count(decoded, replacementUTF8) > bytes.Count(value, replacementUTF8)
		if introduced {
			switch policy {
			case MetadataStrict:
				return nil, fmt.Errorf("%w: невалидные байты в метаданных %s для кодировки %s", ErrInvalidOption, key, encoding)
			case MetadataIgnore:
				decoded = bytes.ReplaceAll(decoded, replacementUTF8, nil)
			}
		}

		result[key] = strings.TrimRight(string(decoded), "\x00")
	}
	return result, nil
}
