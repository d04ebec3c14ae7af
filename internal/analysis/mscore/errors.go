package mscore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidFinancialData is returned by Validate for records that cannot be scored.
	ErrInvalidFinancialData = errors.New("invalid financial data")

	// ErrDegenerateComputation is returned by Compute when a ratio denominator is
	// zero or the composite score is not finite.
	ErrDegenerateComputation = errors.New("degenerate m-score computation")

	// ErrUnknownFormula is returned for a formula variant other than
	// FormulaCompatible or FormulaCanonical.
	ErrUnknownFormula = errors.New("unknown formula")
)

// FieldError describes one failing field of a FinancialData record.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string { return e.Field + " " + e.Message }

// InvalidFinancialDataError lists every field that failed validation.
type InvalidFinancialDataError struct {
	Fields []FieldError `json:"fields"`
}

func (e *InvalidFinancialDataError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidFinancialData, strings.Join(parts, "; "))
}

func (e *InvalidFinancialDataError) Unwrap() error { return ErrInvalidFinancialData }

// ComputationError names the ratio that could not be computed.
type ComputationError struct {
	Ratio  string `json:"ratio"`
	Reason string `json:"reason"`
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrDegenerateComputation, e.Ratio, e.Reason)
}

func (e *ComputationError) Unwrap() error { return ErrDegenerateComputation }
