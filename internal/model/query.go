package model

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Query is one fetch-cycle request from the boundary layer.
type Query struct {
	Location string `json:"location" yaml:"location" validate:"required"`
	Keyword  string `json:"keyword" yaml:"keyword" validate:"required"`
	Role     string `json:"role,omitempty" yaml:"role"`
	MinPay   *int   `json:"min_pay,omitempty" yaml:"min_pay" validate:"omitempty,gte=0"`
	MaxPay   *int   `json:"max_pay,omitempty" yaml:"max_pay" validate:"omitempty,gte=0"`
}

var queryValidator = validator.New()

// Validate checks required fields and pay bounds. Errors match ErrInvalidQuery.
func (q Query) Validate() error {
	if err := queryValidator.Struct(q); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if q.MinPay != nil && q.MaxPay != nil && *q.MaxPay < *q.MinPay {
		return fmt.Errorf("%w: max_pay %d is below min_pay %d", ErrInvalidQuery, *q.MaxPay, *q.MinPay)
	}
	return nil
}

// SearchParams resolves the query into source parameters. Role defaults to the
// keyword when absent.
func (q Query) SearchParams() SearchParams {
	role := q.Role
	if role == "" {
		role = q.Keyword
	}
	return SearchParams{
		Location: q.Location,
		Role:     role,
		Keyword:  q.Keyword,
		MinPay:   q.MinPay,
		MaxPay:   q.MaxPay,
	}
}
