package metadata

import (
	"regexp"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortDate(t *testing.T) {
	assert.Equal(t, "05/03/2024", ShortDate("2024-03-05"))
	assert.Equal(t, "", ShortDate(""))
	assert.Equal(t, "05/03/2024", ShortDate(" 2024-03-05 "))
}

func TestLongDate(t *testing.T) {
	assert.Equal(t, "5 de março de 2024", LongDate("2024-03-05"))
	assert.Equal(t, "31 de dezembro de 1999", LongDate("1999-12-31"))
	assert.Equal(t, "1 de janeiro de 2000", LongDate("2000-01-01"))
	assert.Equal(t, "", LongDate(""))
}

func TestDatesReturnInvalidInputUnchanged(t *testing.T) {
	for _, raw := range []string{"ontem", "2024-13-01", "2024-02-30", "05/03/2024", "2024-3-5"} {
		assert.Equal(t, raw, ShortDate(raw), raw)
		assert.Equal(t, raw, LongDate(raw), raw)
	}
}

func TestDatesRoundTrip(t *testing.T) {
	faker := gofakeit.New(7)
	for i := 0; i < 200; i++ {
		day := faker.DateRange(
			time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2100, 12, 31, 0, 0, 0, 0, time.UTC),
		)
		raw := day.Format(isoDate)

		short, err := time.Parse("02/01/2006", ShortDate(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, raw, short.Format(isoDate))

		long := LongDate(raw)
		assert.Contains(t, long, " de "+months[day.Month()-1]+" de ")
	}
}

func TestInitials(t *testing.T) {
	cases := map[string]string{
		"":                          "",
		"   ":                       "",
		"Maria da Silva":            "M.D.S",
		"maria e silva":             "M.S",
		"João o Velho":              "J.V",
		"Élio Gaspari":              "É.G",
		"J.S":                       "J.S",
		"J. R. R. Tolkien":          "J.R.R.T",
		"Ana  Paula\tSouza":         "A.P.S",
		"A Maria":                   "A.M",
		"Pedro de Alcântara e Maia": "P.D.A.M",
	}
	for in, want := range cases {
		assert.Equal(t, want, Initials(in), "input %q", in)
	}
}

func TestInitialsIdempotentOnGeneratedNames(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z](\.[A-Z])*$`)
	faker := gofakeit.New(42)
	for i := 0; i < 200; i++ {
		name := faker.Name()
		once := Initials(name)
		require.Regexp(t, pattern, once, "name %q", name)
		assert.Equal(t, once, Initials(once), "name %q", name)
	}
}

func TestInitialsList(t *testing.T) {
	assert.Equal(t, "M.S, J.P", InitialsList("Maria Souza, João Pereira"))
	assert.Equal(t, "M.S", InitialsList("Maria Souza, ,"))
	assert.Equal(t, "", InitialsList(""))
}

func TestClockDuration(t *testing.T) {
	assert.Equal(t, "00:00:00", ClockDuration(0))
	assert.Equal(t, "01:02:03", ClockDuration(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "00:00:02", ClockDuration(1600*time.Millisecond))
}
