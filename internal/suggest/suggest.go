package suggest

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rule names the pattern that proposed a candidate. It doubles as a hint of
// which collection the name belongs to.
type Rule string

const (
	RulePerson       Rule = "person"
	RulePlace        Rule = "place"
	RuleOrganization Rule = "organization"
)

// Candidate is one proposed entity name.
type Candidate struct {
	Name string `json:"name"`
	Rule Rule   `json:"rule"`
}

// tokenPattern splits text into words and single punctuation marks.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}]+|[^\s\p{L}\p{M}\p{N}]`)

// Prepositions that introduce a place name. Elided Italian forms ("all'",
// "nell'") are matched without the apostrophe.
var locatives = set(
	"a", "ad", "al", "alla", "all", "in", "nel", "nella", "nell", "da", "dal", "dalla", "dall",
	"presso", "verso", "tra", "fra", "sul", "sulla", "sull",
	"at", "to", "from", "near", "into", "towards", "toward",
)

var orgNouns = set(
	"Order", "Kingdom", "Empire", "Guild", "Cult", "Brotherhood", "Church",
	"Ordine", "Regno", "Impero", "Gilda", "Culto", "Confraternita", "Chiesa",
)

// Words allowed between an organization noun and its name.
var orgConnectors = set("of", "the", "di", "del", "della", "dello", "dei", "degli", "delle")

// Honorifics mark a person even when the name follows a preposition.
var honorifics = set(
	"Lord", "Lady", "Sir", "Dame", "King", "Queen", "Prince", "Princess", "Captain", "Master",
	"Re", "Regina", "Principe", "Principessa", "Conte", "Contessa", "Duca", "Duchessa",
	"Ser", "Messer", "Don", "Donna", "Maestro", "Capitano", "Padre", "Madre",
)

// Capitalized sentence starters that are never names.
var stopwords = set(
	// Italian
	"Il", "Lo", "La", "Gli", "Le", "Un", "Uno", "Una", "Ma", "Poi", "Quindi", "Allora",
	"Dopo", "Prima", "Mentre", "Quando", "Oggi", "Ieri", "Domani", "Mattina", "Mattino",
	"Sera", "Notte", "Giorno", "Giornata", "Nel", "Nella", "Nei", "Alla", "Al", "Dal",
	"Dalla", "Del", "Della", "Con", "Per", "Non", "Ci", "Mi", "Si", "Noi", "Voi", "Lui",
	"Lei", "Loro", "Io", "Tu", "Questo", "Questa", "Quel", "Quella", "Quello", "Infine",
	"Intanto", "Improvvisamente", "Subito", "Così", "Però", "Anche", "Se", "Che", "Chi",
	"Dove", "Come", "Perché", "Ecco", "Finalmente", "Nessuno", "Tutti", "Alcuni", "Appena",
	"Ad", "In", "Da", "Tra", "Fra", "Verso", "Presso", "Sul", "Sulla", "Ed",
	// English
	"The", "An", "And", "But", "Then", "After", "Before", "While", "When", "Today",
	"Yesterday", "Tomorrow", "Morning", "Evening", "Night", "Day", "On", "At", "To",
	"From", "We", "He", "She", "They", "It", "This", "That", "These", "Those", "There",
	"Finally", "Meanwhile", "Suddenly", "Later", "Next", "Also", "However", "So", "If",
	"What", "Who", "Where", "How", "Why", "Our", "My", "His", "Her", "Their", "Its",
	"Near", "Into", "Towards", "With", "Without", "Nobody", "Everyone", "Some", "As",
)

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func has(m map[string]struct{}, w string) bool {
	_, ok := m[w]
	return ok
}

type token struct {
	text string
	word bool
	// gap is true when whitespace precedes the token.
	gap bool
}

func (t token) capitalized() bool {
	if !t.word {
		return false
	}
	r, size := utf8.DecodeRuneInString(t.text)
	if !unicode.IsUpper(r) {
		return false
	}
	next, _ := utf8.DecodeRuneInString(t.text[size:])
	return unicode.IsLower(next)
}

func tokenize(text string) []token {
	var toks []token
	prev := 0
	for _, loc := range tokenPattern.FindAllStringIndex(text, -1) {
		s := text[loc[0]:loc[1]]
		r, _ := utf8.DecodeRuneInString(s)
		toks = append(toks, token{
			text: s,
			word: unicode.IsLetter(r) || unicode.IsNumber(r),
			gap:  loc[0] > prev,
		})
		prev = loc[1]
	}
	return toks
}

// run returns the end (exclusive) of the capitalized run starting at i.
// Words of a run are separated by whitespace only.
func run(toks []token, i int) int {
	j := i
	for j < len(toks) && toks[j].capitalized() && (j == i || toks[j].gap) {
		j++
	}
	return j
}

// phrase joins toks[i:j] after dropping leading stopwords. It returns "" when
// nothing is left or the result is itself a stopword.
func phrase(toks []token, i, j int) string {
	for i < j && has(stopwords, toks[i].text) {
		i++
	}
	if i == j {
		return ""
	}
	words := make([]string, 0, j-i)
	for _, t := range toks[i:j] {
		words = append(words, t.text)
	}
	p := strings.Join(words, " ")
	if has(stopwords, p) {
		return ""
	}
	return p
}

type span struct{ start, end int }

func (s span) overlaps(i, j int) bool { return s.start < j && i < s.end }

// Classify scans text and returns every candidate name with the rule that
// proposed it, sorted by name. When several rules propose the same name the
// organization rule wins over the place rule, which wins over a bare run,
// unless the name opens with an honorific.
func Classify(text string) []Candidate {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	toks := tokenize(text)
	found := make(map[string]Rule)
	propose := func(name string, r Rule) {
		if name == "" {
			return
		}
		if prev, ok := found[name]; ok && rank(prev) >= rank(r) {
			return
		}
		found[name] = r
	}

	// Organization nouns followed by an optional connector and a name.
	var orgSpans []span
	for i := 0; i < len(toks); i++ {
		if !toks[i].capitalized() || !has(orgNouns, toks[i].text) {
			continue
		}
		j := i + 1
		for j < len(toks) && toks[j].word && has(orgConnectors, toks[j].text) {
			j++
		}
		end := run(toks, j)
		if end == j {
			continue
		}
		words := make([]string, 0, end-i)
		for _, t := range toks[i:end] {
			words = append(words, t.text)
		}
		propose(strings.Join(words, " "), RuleOrganization)
		orgSpans = append(orgSpans, span{i, end})
		i = end - 1
	}

	// Capitalized phrases after a locative preposition.
	for i := 0; i+1 < len(toks); i++ {
		if !toks[i].word || !has(locatives, toks[i].text) {
			continue
		}
		j := i + 1
		if toks[j].text == "'" || toks[j].text == "’" {
			j++
		}
		if j >= len(toks) {
			break
		}
		end := run(toks, j)
		if end == j || inside(orgSpans, j, end) {
			continue
		}
		if name := phrase(toks, j, end); name != "" {
			propose(name, placeOrPerson(name))
		}
	}

	// Bare capitalized runs.
	for i := 0; i < len(toks); {
		end := run(toks, i)
		if end == i {
			i++
			continue
		}
		if !inside(orgSpans, i, end) {
			propose(phrase(toks, i, end), RulePerson)
		}
		i = end
	}

	out := make([]Candidate, 0, len(found))
	for name, r := range found {
		out = append(out, Candidate{Name: name, Rule: r})
	}
	slices.SortFunc(out, func(a, b Candidate) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Candidates returns the distinct candidate names found in text, sorted.
func Candidates(text string) []string {
	cands := Classify(text)
	names := make([]string, 0, len(cands))
	for _, c := range cands {
		names = append(names, c.Name)
	}
	return names
}

func inside(spans []span, i, j int) bool {
	for _, s := range spans {
		if s.overlaps(i, j) {
			return true
		}
	}
	return false
}

func placeOrPerson(name string) Rule {
	first, _, _ := strings.Cut(name, " ")
	if has(honorifics, first) {
		return RulePerson
	}
	return RulePlace
}

func rank(r Rule) int {
	switch r {
	case RuleOrganization:
		return 3
	case RulePlace:
		return 2
	case RulePerson:
		return 1
	}
	return 0
}
