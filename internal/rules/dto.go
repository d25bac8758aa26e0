package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// CreateRuleReq is the input for defining a rule.
type CreateRuleReq struct {
	Name     string `json:"name" validate:"required,max=120"`
	Priority int    `json:"priority" validate:"gte=-1000,lte=1000"`
	Scope    Scope  `json:"scope" validate:"required,oneof=all bank invoice cash"`
	Active   bool   `json:"active"`

	MatchDescription string           `json:"match_description" validate:"max=200"`
	MatchCounterpart string           `json:"match_counterpart" validate:"max=200"`
	MatchTaxID       string           `json:"match_tax_id" validate:"omitempty,alphanum,max=20"`
	MatchReasonCode  string           `json:"match_reason_code" validate:"omitempty,max=3"`
	MatchAmountMin   *decimal.Decimal `json:"match_amount_min"`
	MatchAmountMax   *decimal.Decimal `json:"match_amount_max"`
	MatchDirection   string           `json:"match_direction" validate:"omitempty,oneof=C D c d"`

	CategoryID         *int64           `json:"category_id" validate:"omitempty,gt=0"`
	ContactID          *int64           `json:"contact_id" validate:"omitempty,gt=0"`
	RevenueCategoryID  *int64           `json:"revenue_category_id" validate:"omitempty,gt=0"`
	Description        string           `json:"description" validate:"max=255"`
	Notes              string           `json:"notes" validate:"max=1000"`
	PaymentMethod      string           `json:"payment_method" validate:"max=40"`
	TaxRate            *decimal.Decimal `json:"tax_rate"`
	AutoCreate         bool             `json:"auto_create"`
	DateAdjustmentKind AdjustKind       `json:"date_adjustment_kind" validate:"omitempty,oneof=offset_days prev_month_last_day"`
	DateAdjustmentDays int              `json:"date_adjustment_days" validate:"gte=-366,lte=366"`
}

var ruleValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(validateRuleAmounts, CreateRuleReq{})
	return v
}

func validateRuleAmounts(sl validator.StructLevel) {
	req := sl.Current().Interface().(CreateRuleReq)
	if req.MatchAmountMin != nil && req.MatchAmountMax != nil && req.MatchAmountMin.GreaterThan(*req.MatchAmountMax) {
		sl.ReportError(req.MatchAmountMax, "MatchAmountMax", "match_amount_max", "gtefield", "MatchAmountMin")
	}
	if req.MatchAmountMin != nil && req.MatchAmountMin.IsNegative() {
		sl.ReportError(req.MatchAmountMin, "MatchAmountMin", "match_amount_min", "gte", "0")
	}
	if req.TaxRate != nil && (req.TaxRate.IsNegative() || req.TaxRate.GreaterThan(decimal.NewFromInt(100))) {
		sl.ReportError(req.TaxRate, "TaxRate", "tax_rate", "lte", "100")
	}
}

// Validate checks the request and returns ErrInvalidRule listing offending fields.
func (req CreateRuleReq) Validate() error {
	err := ruleValidator.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" "+fe.Tag())
	}
	sort.Strings(fields)
	return fmt.Errorf("%w: %s", ErrInvalidRule, strings.Join(fields, ", "))
}

// Rule converts a validated request into a Rule.
func (req CreateRuleReq) Rule() Rule {
	rule := Rule{
		Name:             strings.TrimSpace(req.Name),
		Priority:         req.Priority,
		Scope:            req.Scope,
		Active:           req.Active,
		MatchDescription: strings.TrimSpace(req.MatchDescription),
		MatchCounterpart: strings.TrimSpace(req.MatchCounterpart),
		MatchTaxID:       strings.TrimSpace(req.MatchTaxID),
		MatchReasonCode:  strings.TrimSpace(req.MatchReasonCode),
		MatchAmountMin:   req.MatchAmountMin,
		MatchAmountMax:   req.MatchAmountMax,
		MatchDirection:   strings.ToUpper(req.MatchDirection),
		Actions: Actions{
			CategoryID:        req.CategoryID,
			ContactID:         req.ContactID,
			RevenueCategoryID: req.RevenueCategoryID,
			Description:       req.Description,
			Notes:             req.Notes,
			PaymentMethod:     req.PaymentMethod,
			TaxRate:           req.TaxRate,
			AutoCreate:        req.AutoCreate,
		},
	}
	if req.DateAdjustmentKind != "" {
		rule.Actions.DateAdjustment = &DateAdjustment{Kind: req.DateAdjustmentKind, Days: req.DateAdjustmentDays}
	}
	return rule
}
