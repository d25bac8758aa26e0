package cbi

import (
	"regexp"
	"strings"
)

// Extractor pulls a counterpart name out of free text. It reports false when
// the text does not carry its anchor, so the next extractor is tried. A true
// result with an empty name stops the chain.
type Extractor interface {
	Name() string
	Extract(text string) (string, bool)
}

type patternExtractor struct {
	name    string
	pattern *regexp.Regexp
	clean   func(string) string
}

func (p patternExtractor) Name() string { return p.name }

func (p patternExtractor) Extract(text string) (string, bool) {
	m := p.pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	if p.clean != nil {
		name = p.clean(name)
	}
	if name == "" {
		return "", false
	}
	return name, true
}

var notProvidedTail = regexp.MustCompile(`\s*NOTPROVIDE.*$`)

var companyTail = regexp.MustCompile(`([A-Z][A-Z\s'.&]+(?:SRL|SPA|SOC|COOP|S\.R\.L\.|S\.P\.A\.)?)$`)

// sddTailExtractor handles B2B direct debits where name and mandate codes are
// not separated by a run of spaces; the trailing upper-case run is the name.
type sddTailExtractor struct {
	pattern *regexp.Regexp
}

func (sddTailExtractor) Name() string { return "sdd_b2b_tail" }

func (s sddTailExtractor) Extract(text string) (string, bool) {
	m := s.pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	tail := companyTail.FindStringSubmatch(strings.TrimSpace(m[1]))
	if tail == nil {
		return "", false
	}
	name := strings.TrimSpace(tail[1])
	return name, name != ""
}

// silentExtractor recognises text that never names a useful counterpart.
type silentExtractor struct {
	name    string
	pattern *regexp.Regexp
}

func (s silentExtractor) Name() string { return s.name }

func (s silentExtractor) Extract(text string) (string, bool) {
	return "", s.pattern.MatchString(text)
}

// DefaultExtractors is the ordered chain used for 63 free-text lines:
// transfer favour clauses, direct debits, bill payments, card payments, bills
// of exchange, then direct-debit fees.
var DefaultExtractors = []Extractor{
	patternExtractor{
		name:    "transfer_favour",
		pattern: regexp.MustCompile(`FAVORE\s{2,}(.+?)(?:\s{2,}|\s*-\s*ADD|\s*$)`),
		clean: func(s string) string {
			return strings.TrimSpace(notProvidedTail.ReplaceAllString(s, ""))
		},
	},
	patternExtractor{
		name:    "sdd",
		pattern: regexp.MustCompile(`^SDD\s+(?:CORE|B2B)\s*:\s*\S+\s{2,}(.+)`),
	},
	sddTailExtractor{pattern: regexp.MustCompile(`^SDD\s+B2B\s*:\s*\S+(.{20,})`)},
	patternExtractor{
		name:    "cbill",
		pattern: regexp.MustCompile(`^BOLL\.CBILL\s+(.+?)(?:\s{3,}|\s+CBILL\s)`),
	},
	patternExtractor{
		name:    "bill_payment",
		pattern: regexp.MustCompile(`^Bollettino\s+(.+?)(?:\s{3,}|\s+Rif\.)`),
	},
	patternExtractor{
		name:    "utility",
		pattern: regexp.MustCompile(`^Utenze\s+(.+?)(?:\s{3,}|\s+Rif\.)`),
	},
	patternExtractor{
		name:    "card",
		pattern: regexp.MustCompile(`^CARTA\*\d{4}-\d{2}:\d{2}-(.+?)(?:\s+[A-Z]{3}\s*$|\s*$)`),
	},
	patternExtractor{
		name:    "bill_of_exchange",
		pattern: regexp.MustCompile(`^ADD\.EFFETTO\s*-\s*(.+?)(?:\s+Via\b|\s*$)`),
	},
	silentExtractor{
		name:    "sdd_fee",
		pattern: regexp.MustCompile(`^[Cc]omm\.sdd:\s*\S+\s{2,}(.+)`),
	},
}

// ExtractCounterpart runs text through extractors in order and returns the
// first name found.
func ExtractCounterpart(extractors []Extractor, text string) string {
	if text == "" {
		return ""
	}
	for _, ex := range extractors {
		if name, ok := ex.Extract(text); ok {
			return name
		}
	}
	return ""
}

var descriptionFallback = regexp.MustCompile(`^[A-Z0-9]+\s{2,}(.+?)(?:\s{2,}|$)`)

var genericLabels = map[string]bool{
	"COMMISSIONI": true,
	"COMPETENZE":  true,
}

// counterpartFromDescription reads the name after the leading code of a 62
// description tail ("I24  AGENZIA ENTRATE"), ignoring generic fee labels.
func counterpartFromDescription(description string) string {
	m := descriptionFallback.FindStringSubmatch(description)
	if m == nil {
		return ""
	}
	candidate := strings.TrimSpace(m[1])
	if genericLabels[candidate] {
		return ""
	}
	return candidate
}
