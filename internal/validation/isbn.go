// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// IsValidISBN проверяет корректность ISBN-10 или ISBN-13 по контрольной
// цифре. Дефисы и пробелы в номере допускаются.
func IsValidISBN(isbn string) bool {
	cleaned := strings.NewReplacer("-", "", " ", "").Replace(isbn)

	switch len(cleaned) {
	case 10:
		return isValidISBN10(cleaned)
	case 13:
		return isValidISBN13(cleaned)
	}
	return false
}

func isValidISBN10(isbn string) bool {
	sum := 0
	for i, ch := range isbn {
		var digit int
		switch {
		case ch >= '0' && ch <= '9':
			digit = int(ch - '0')
		case (ch == 'X' || ch == 'x') && i == 9:
			digit = 10
		default:
			return false
		}
		sum += digit * (10 - i)
	}
	return sum%11 == 0
}

func isValidISBN13(isbn string) bool {
	sum := 0
	for i, ch := range isbn {
		if ch < '0' || ch > '9' {
			return false
		}
		digit := int(ch - '0')
		if i%2 == 1 {
			digit *= 3
		}
		sum += digit
	}
	return sum%10 == 0
}
