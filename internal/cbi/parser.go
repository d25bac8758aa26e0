package cbi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
)

// Record type prefixes.
const (
	kindHeader         = "RH"
	kindOpeningBalance = "61"
	kindMovement       = "62"
	kindDetail         = "63"
	kindClosingBalance = "64"
	kindDayTrailer     = "65"
	kindFileTrailer    = "EF"
)

// Balance record layout.
const (
	balanceMinLength = 34
	headerDate       = 14
	headerDateEnd    = 20
	closingDate      = 12
	closingSign      = 18
	closingAmount    = 19
	closingAmountEnd = 34
	currencyMarker   = "EUR"
	openingSpan      = 25
)

// Result is everything extracted from a statement.
type Result struct {
	Balances  []bank.BalanceSnapshot
	Movements []bank.Movement
	Report    Report
}

// Report describes how the input was read.
type Report struct {
	Encoding string
	Lines    int
	Skipped  []RecordError
}

// Parser turns CBI statement bytes into balances and movements. Malformed
// records are logged and skipped; Parse never fails.
type Parser struct {
	logger     *slog.Logger
	extractors []Extractor
}

// Option customises a Parser.
type Option func(*Parser)

// WithExtractors replaces the counterpart extractor chain.
func WithExtractors(extractors ...Extractor) Option {
	return func(p *Parser) {
		p.extractors = extractors
	}
}

// NewParser constructs a Parser.
func NewParser(logger *slog.Logger, opts ...Option) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Parser{logger: logger, extractors: DefaultExtractors}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse parses raw with a default Parser.
func Parse(raw []byte) Result {
	return NewParser(nil).Parse(raw)
}

// Parse decodes raw and walks its records.
func (p *Parser) Parse(raw []byte) Result {
	text, enc := Decode(raw)
	res := Result{Report: Report{Encoding: enc}}
	if enc == EncodingLossy {
		p.log().Warn("statement decoded lossily")
	}

	st := &state{parser: p, result: &res}
	for i, rawLine := range splitLines(text) {
		line := record(strings.TrimLeft(rawLine, " "))
		if len(line) < 2 {
			continue
		}
		res.Report.Lines++
		st.handle(i+1, line)
	}
	st.flush()

	p.log().Info("statement parsed",
		slog.String("encoding", enc),
		slog.Int("movements", len(res.Movements)),
		slog.Int("balances", len(res.Balances)),
		slog.Int("skipped", len(res.Report.Skipped)),
	)
	return res
}

type state struct {
	parser     *Parser
	result     *Result
	headerDate time.Time
	pending    []string
	pendingAt  int
}

func (s *state) handle(lineNo int, line record) {
	switch line.kind() {
	case kindHeader:
		if len(line) >= headerDateEnd {
			if d, ok := ParseDate(line.field(headerDate, headerDateEnd)); ok {
				s.headerDate = d
			}
		}
	case kindOpeningBalance:
		s.balance(lineNo, line, bank.BalanceOpening)
	case kindMovement:
		s.flush()
		s.pending = []string{string(line)}
		s.pendingAt = lineNo
	case kindDetail:
		if s.pending != nil {
			s.pending = append(s.pending, string(line))
		}
	case kindClosingBalance:
		s.flush()
		s.balance(lineNo, line, bank.BalanceClosing)
	case kindDayTrailer, kindFileTrailer:
		s.flush()
	}
}

func (s *state) flush() {
	if s.pending == nil {
		return
	}
	lines := s.pending
	s.pending = nil
	m, err := parseMovement(lines, s.headerDate, s.parser.extractors)
	if err != nil {
		s.skip(s.pendingAt, kindMovement, err)
		return
	}
	s.result.Movements = append(s.result.Movements, m)
}

func (s *state) balance(lineNo int, line record, typ bank.BalanceType) {
	b, err := parseBalance(line, typ, s.headerDate)
	if err != nil {
		s.skip(lineNo, line.kind(), err)
		return
	}
	s.result.Balances = append(s.result.Balances, b)
}

func (s *state) skip(lineNo int, kind string, err error) {
	rerr := RecordError{Line: lineNo, Kind: kind, Err: err}
	s.result.Report.Skipped = append(s.result.Report.Skipped, rerr)
	level := slog.LevelWarn
	if errors.Is(err, ErrZeroAmount) {
		level = slog.LevelInfo
	}
	s.parser.log().Log(context.Background(), level, "record skipped",
		slog.Int("line", lineNo),
		slog.String("record", kind),
		slog.String("error", err.Error()),
	)
}

// parseBalance reads a 61 or 64 record. Balances keep their sign.
func parseBalance(line record, typ bank.BalanceType, fallback time.Time) (bank.BalanceSnapshot, error) {
	if len(line) < balanceMinLength {
		return bank.BalanceSnapshot{}, fmt.Errorf("%w: %d characters", ErrShortRecord, len(line))
	}
	var dateText, sign, amountText string
	switch line.kind() {
	case kindClosingBalance:
		dateText = line.field(closingDate, closingSign)
		sign = line.field(closingSign, closingAmount)
		amountText = line.field(closingAmount, closingAmountEnd)
	case kindOpeningBalance:
		idx := runeIndex(line, currencyMarker)
		if idx < 0 {
			return bank.BalanceSnapshot{}, ErrMissingAnchor
		}
		if len(line) < idx+openingSpan {
			return bank.BalanceSnapshot{}, fmt.Errorf("%w: balance after currency marker", ErrShortRecord)
		}
		start := idx + len(currencyMarker)
		dateText = line.field(start, start+6)
		sign = line.field(start+6, start+7)
		amountText = line.field(start+7, idx+openingSpan)
	default:
		return bank.BalanceSnapshot{}, fmt.Errorf("cbi: %q is not a balance record", line.kind())
	}

	date, ok := ParseDate(dateText)
	if !ok {
		if fallback.IsZero() {
			return bank.BalanceSnapshot{}, ErrInvalidDate
		}
		date = fallback
	}
	amount, err := ParseAmount(amountText)
	if err != nil {
		return bank.BalanceSnapshot{}, err
	}
	if sign == string(bank.Debit) {
		amount = amount.Neg()
	}
	return bank.BalanceSnapshot{
		Date:   date,
		Amount: amount,
		Type:   typ,
		Source: bank.BalanceSourceStatement,
	}, nil
}

func runeIndex(line record, marker string) int {
	m := []rune(marker)
	for i := 0; i+len(m) <= len(line); i++ {
		if string(line[i:i+len(m)]) == marker {
			return i
		}
	}
	return -1
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}

func (p *Parser) log() *slog.Logger {
	return p.logger.With(slog.String("component", "cbi_parser"))
}
