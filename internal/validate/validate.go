package validate

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/tokenscout/analytics-service/internal/domain"
)

var validate *validator.Validate

var (
	sessionIDRe = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	addressRe   = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

const (
	QueryMinLen = 2
	QueryMaxLen = 500

	MaxResultAddresses = 100
	MaxResultRank      = 99
)

func init() {
	validate = validator.New()

	// Session ids are opaque 64-hex client tokens; no PII.
	validate.RegisterValidation("session_id", func(fl validator.FieldLevel) bool {
		return sessionIDRe.MatchString(fl.Field().String())
	})
	validate.RegisterValidation("eth_address", func(fl validator.FieldLevel) bool {
		return addressRe.MatchString(fl.Field().String())
	})
}

func SessionID(s string) error {
	if err := validate.Var(s, "required,session_id"); err != nil {
		return domain.NewValidationError("session_id", "must be a 64-character hex token")
	}
	return nil
}

func Query(q string) error {
	if err := validate.Var(q, fmt.Sprintf("min=%d,max=%d", QueryMinLen, QueryMaxLen)); err != nil {
		return domain.NewValidationError("query", fmt.Sprintf("length must be between %d and %d", QueryMinLen, QueryMaxLen))
	}
	return nil
}

func Address(a string) error {
	if err := validate.Var(a, "required,eth_address"); err != nil {
		return domain.NewValidationError("address", "must match 0x followed by 40 hex digits")
	}
	return nil
}

func ResultAddresses(addrs []string) error {
	if len(addrs) > MaxResultAddresses {
		return domain.NewValidationError("result_addresses", fmt.Sprintf("at most %d entries", MaxResultAddresses))
	}
	for _, a := range addrs {
		if err := validate.Var(a, "required,eth_address"); err != nil {
			return domain.NewValidationError("result_addresses", fmt.Sprintf("%q is not a valid address", a))
		}
	}
	return nil
}

func ResultRank(n int) error {
	if n < 0 || n > MaxResultRank {
		return domain.NewValidationError("result_rank", fmt.Sprintf("must be between 0 and %d", MaxResultRank))
	}
	return nil
}
