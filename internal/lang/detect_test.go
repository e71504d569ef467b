package lang

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digkill/PostMiniApp/internal/models"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		text string
		want models.Locale
	}{
		{"Hello world", models.LocaleEN},
		{"Привет мир", models.LocaleRU},
		{"Hi Привет", models.LocaleRU},
		{"Юмористическое поздравление с Новым Годом", models.LocaleRU},
		{"", models.LocaleEN},
		{"12345 !!! 🎉", models.LocaleEN},
		{"ёлка", models.LocaleRU},
		// 3 Cyrillic of 15 letters is 0.20.
		{"Happy new year мир", models.LocaleEN},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Detect(tc.text), "text=%q", tc.text)
	}
}

func TestDetect_ThresholdIsExclusive(t *testing.T) {
	// 3 of 10 letters is exactly 0.30 and stays English.
	require.Equal(t, models.LocaleEN, Detect("abcdefg абв"))
	// 4 of 11 crosses the threshold.
	require.Equal(t, models.LocaleRU, Detect("abcdefg абвг"))
}
