package lang

import "github.com/digkill/PostMiniApp/internal/models"

// cyrillicThreshold is the share of Cyrillic letters above which text is
// classified as Russian.
const cyrillicThreshold = 0.30

// Detect classifies text by counting Latin and Cyrillic letters. Anything
// else (digits, emoji, other scripts) is ignored; letterless text is English.
func Detect(text string) models.Locale {
	var latin, cyrillic int
	for _, r := range text {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin++
		case (r >= 'а' && r <= 'я') || (r >= 'А' && r <= 'Я') || r == 'ё' || r == 'Ё':
			cyrillic++
		}
	}
	total := latin + cyrillic
	if total == 0 {
		return models.LocaleEN
	}
	if float64(cyrillic)/float64(total) > cyrillicThreshold {
		return models.LocaleRU
	}
	return models.LocaleEN
}
