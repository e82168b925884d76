package textproc

import (
	"fmt"
	"strings"
)

// currencyWords names one currency's major and minor units.
type currencyWords struct {
	major func(amount string) string
	minor func(amount string) string
}

// Lexicon holds the words used to verbalize dates, amounts, emails and links
// for one language.
type Lexicon struct {
	Language   string
	Months     [12]string
	And        string
	At         string
	Dot        string
	Dash       string
	Underscore string
	Slash      string

	datePhrase func(day int, month, year string) string
	currencies map[string]currencyWords
}

// DatePhrase renders a validated calendar date.
func (l *Lexicon) DatePhrase(day, month int, year string) string {
	return l.datePhrase(day, l.Months[month-1], year)
}

var lithuanian = &Lexicon{
	Language: "lt",
	// Genitive forms, as read in "kovo 5-oji".
	Months: [12]string{
		"sausio", "vasario", "kovo", "balandžio", "gegužės", "birželio",
		"liepos", "rugpjūčio", "rugsėjo", "spalio", "lapkričio", "gruodžio",
	},
	And:        "ir",
	At:         "eta",
	Dot:        "taškas",
	Dash:       "brūkšnelis",
	Underscore: "apatinis brūkšnys",
	Slash:      "pasvirasis brūkšnys",
	datePhrase: func(day int, month, year string) string {
		return fmt.Sprintf("%d %s %s metų", day, month, year)
	},
	currencies: map[string]currencyWords{
		"€":   {major: ltForms("euras", "eurai", "eurų"), minor: ltForms("centas", "centai", "centų")},
		"EUR": {major: ltForms("euras", "eurai", "eurų"), minor: ltForms("centas", "centai", "centų")},
		"$":   {major: ltForms("doleris", "doleriai", "dolerių"), minor: ltForms("centas", "centai", "centų")},
		"USD": {major: ltForms("doleris", "doleriai", "dolerių"), minor: ltForms("centas", "centai", "centų")},
		"£":   {major: ltForms("svaras", "svarai", "svarų"), minor: ltForms("pensas", "pensai", "pensų")},
		"GBP": {major: ltForms("svaras", "svarai", "svarų"), minor: ltForms("pensas", "pensai", "pensų")},
	},
}

var english = &Lexicon{
	Language: "en",
	Months: [12]string{
		"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December",
	},
	And:        "and",
	At:         "at",
	Dot:        "dot",
	Dash:       "dash",
	Underscore: "underscore",
	Slash:      "slash",
	datePhrase: func(day int, month, year string) string {
		return fmt.Sprintf("%d of %s %s", day, month, year)
	},
	currencies: map[string]currencyWords{
		"€":   {major: enForms("euro", "euros"), minor: enForms("cent", "cents")},
		"EUR": {major: enForms("euro", "euros"), minor: enForms("cent", "cents")},
		"$":   {major: enForms("dollar", "dollars"), minor: enForms("cent", "cents")},
		"USD": {major: enForms("dollar", "dollars"), minor: enForms("cent", "cents")},
		"£":   {major: enForms("pound", "pounds"), minor: enForms("penny", "pence")},
		"GBP": {major: enForms("pound", "pounds"), minor: enForms("penny", "pence")},
	},
}

// LexiconFor picks the lexicon for a BCP-47 style language tag. Unknown
// languages fall back to Lithuanian.
func LexiconFor(lang string) *Lexicon {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if strings.HasPrefix(lang, "en") {
		return english
	}
	return lithuanian
}

// ltForms picks among the three Lithuanian plural forms from the trailing
// digits of amount: 1, 21, 31 → one; 2–9, 22–29 → few; 0, 10–20, 30 → many.
func ltForms(one, few, many string) func(string) string {
	return func(amount string) string {
		n := lastTwoDigits(amount)
		switch {
		case n%10 == 1 && n != 11:
			return one
		case n%10 >= 2 && (n < 10 || n > 19):
			return few
		default:
			return many
		}
	}
}

func enForms(one, many string) func(string) string {
	return func(amount string) string {
		if strings.TrimLeft(amount, "0") == "1" {
			return one
		}
		return many
	}
}

func lastTwoDigits(amount string) int {
	if len(amount) > 2 {
		amount = amount[len(amount)-2:]
	}
	n := 0
	for _, r := range amount {
		n = n*10 + int(r-'0')
	}
	return n
}
