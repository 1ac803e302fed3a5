package fetch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func budgetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate reports the first invalid field of b.
func (b Budget) Validate() error {
	return validateBudget(b)
}

func validateBudget(b Budget) error {
	err := budgetValidator().Struct(b)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return NewValidationError(fmt.Sprintf("budget %s must satisfy %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()), fe.Field())
	}
	return NewValidationError(err.Error(), "budget")
}
