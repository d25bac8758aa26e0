package cbi

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
)

// 62 record layout.
const (
	movementMinLength = 43
	movOpDate         = 12
	movValueDate      = 18
	movDirection      = 24
	movAmount         = 25
	movReasonCode     = 40
	movReference      = 43
	movDescription    = 60
	movAmountEnd      = 40
	movReasonCodeEnd  = 43
	movReferenceEnd   = 60
)

// 63 record layout.
const (
	detailTag        = 12
	detailContent    = 15
	detailMinLength  = 15
	yyyDateWidth     = 10
	referenceMaxLen  = 50
	extraTextMaxLen  = 80
	codiceABIPrefix  = "CODICE ABI"
	tagCounterpart   = "YYY"
	tagReference     = "ID1"
	tagRemittance1   = "RI1"
	tagRemittance2   = "RI2"
	tagOriginatorABI = "COD"
)

var heuristicTags = map[string]bool{
	"VS.": true,
	"SDD": true,
	"BOL": true,
	"CAR": true,
}

var (
	nameAddressSplit = regexp.MustCompile(`\s{3,}`)
	routingCode      = regexp.MustCompile(`(\d{5})/(\d{5})`)
)

// ParseRecord builds a movement from one 62 line followed by its 63 lines.
// fallback supplies the operation date when the 62 record carries none.
func ParseRecord(lines []string, fallback time.Time) (bank.Movement, error) {
	return parseMovement(lines, fallback, DefaultExtractors)
}

func parseMovement(lines []string, fallback time.Time, extractors []Extractor) (bank.Movement, error) {
	if len(lines) == 0 {
		return bank.Movement{}, ErrShortRecord
	}
	head := record(lines[0])
	if len(head) < movementMinLength {
		return bank.Movement{}, fmt.Errorf("%w: %d characters", ErrShortRecord, len(head))
	}

	opDate, ok := ParseDate(head.field(movOpDate, movValueDate))
	if !ok {
		if fallback.IsZero() {
			return bank.Movement{}, ErrInvalidDate
		}
		opDate = fallback
	}

	direction := bank.Direction(head.field(movDirection, movAmount))
	if !direction.Valid() {
		return bank.Movement{}, fmt.Errorf("%w: %q", ErrInvalidDirection, string(direction))
	}

	amount, err := ParseAmount(head.field(movAmount, movAmountEnd))
	if err != nil {
		return bank.Movement{}, err
	}
	if amount.IsZero() {
		return bank.Movement{}, ErrZeroAmount
	}

	m := bank.Movement{
		OperationDate: opDate,
		Amount:        amount,
		Direction:     direction,
		ReasonCode:    strings.TrimSpace(head.field(movReasonCode, movReasonCodeEnd)),
		ReferenceCode: strings.TrimSpace(head.field(movReference, movReferenceEnd)),
		Status:        bank.StatusPending,
		RawRecord:     strings.Join(lines, "\n"),
	}
	if vd, ok := ParseDate(head.field(movValueDate, movDirection)); ok {
		m.ValueDate = &vd
	}
	tail := strings.TrimSpace(head.from(movDescription))

	d := details{extractors: extractors}
	for _, line := range lines[1:] {
		d.add(record(line))
	}

	m.CounterpartName = d.counterpart()
	if m.CounterpartName == "" {
		m.CounterpartName = counterpartFromDescription(tail)
	}
	m.CounterpartAddress = strings.TrimSpace(d.address)
	m.OriginatorRouting = d.routing
	if d.reference != "" {
		m.ReferenceCode = d.reference
	}
	m.RemittanceInfo = strings.TrimSpace(strings.Join(d.remittance, " "))
	m.Description = strings.TrimSpace(strings.Join(append([]string{tail}, d.extra...), " "))
	m.ReasonDescription = ReasonDescription(m.ReasonCode)
	m.DedupHash = DedupHash(m.OperationDate, m.Amount, m.ReferenceCode, m.ReasonCode, m.CounterpartName)
	return m, nil
}

// details accumulates the 63 continuation lines of one movement.
type details struct {
	extractors    []Extractor
	structured    string
	seenStructure bool
	heuristic     string
	address       string
	routing       string
	reference     string
	remittance    []string
	extra         []string
}

// counterpart prefers the YYY name over any free-text extraction.
func (d *details) counterpart() string {
	if d.structured != "" {
		return d.structured
	}
	return d.heuristic
}

func (d *details) add(line record) {
	if len(line) < detailMinLength {
		if text := strings.TrimSpace(line.from(detailTag)); text != "" {
			d.extra = append(d.extra, text)
		}
		return
	}

	tag := line.field(detailTag, detailContent)
	content := strings.TrimSpace(line.from(detailContent))
	full := strings.TrimSpace(line.from(detailTag))

	switch {
	case tag == tagCounterpart:
		d.addCounterpart(line)
	case tag == tagReference:
		d.setReference(content)
	case tag == tagRemittance1 || tag == tagRemittance2:
		if content != "" {
			d.remittance = append(d.remittance, content)
		}
	case tag == tagOriginatorABI:
		if m := routingCode.FindStringSubmatch(full); m != nil {
			d.routing = m[1] + "/" + m[2]
		}
	case heuristicTags[tag]:
		d.addFreeText(full)
	default:
		d.addUntagged(full)
	}
}

// addCounterpart handles YYY lines: a 10-character date, then name and address
// separated by a run of spaces. Later YYY lines only extend the address.
func (d *details) addCounterpart(line record) {
	after := record(line.from(detailContent))
	var remaining string
	if len(after) > yyyDateWidth {
		remaining = strings.TrimSpace(after.from(yyyDateWidth))
	} else {
		remaining = strings.TrimSpace(string(after))
	}
	if remaining == "" {
		return
	}
	if d.seenStructure {
		d.address += " " + remaining
		return
	}
	d.seenStructure = true
	parts := nameAddressSplit.Split(remaining, 2)
	d.structured = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		d.address = strings.TrimSpace(parts[1])
	}
}

func (d *details) setReference(ref string) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == "NOTPROVIDED" || ref == "NOT PROVIDED" {
		return
	}
	if r := []rune(ref); len(r) > referenceMaxLen {
		ref = string(r[:referenceMaxLen])
	}
	d.reference = ref
}

func (d *details) addFreeText(text string) {
	if d.heuristic == "" {
		d.heuristic = ExtractCounterpart(d.extractors, text)
	}
	d.extra = append(d.extra, truncate(text, extraTextMaxLen))
}

func (d *details) addUntagged(text string) {
	if text == "" {
		return
	}
	switch {
	case strings.Contains(text, tagRemittance1):
		idx := strings.Index(text, tagRemittance1)
		d.remittance = append(d.remittance, strings.TrimSpace(text[idx+len(tagRemittance1):]))
	case strings.Contains(text, tagReference):
		idx := strings.Index(text, tagReference)
		d.setReference(text[idx+len(tagReference):])
	case strings.HasPrefix(text, codiceABIPrefix):
	default:
		d.addFreeText(text)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
