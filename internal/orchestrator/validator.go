package orchestrator

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxMessageLength is the longest text body WhatsApp delivers.
const MaxMessageLength = 4096

// Validator checks inbound requests before a turn touches any state.
type Validator struct {
	validate *validator.Validate
	blocked  []string
}

// NewValidator creates a new Validator. Messages from blockedNumbers are rejected.
func NewValidator(blockedNumbers ...string) *Validator {
	blocked := make([]string, 0, len(blockedNumbers))
	for _, n := range blockedNumbers {
		if n = normalizePhone(n); n != "" {
			blocked = append(blocked, n)
		}
	}
	return &Validator{validate: validator.New(), blocked: blocked}
}

// Validate checks the request shape and the sender block list.
func (v *Validator) Validate(req Request) error {
	if err := v.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid request: field %s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid request: %w", err)
	}
	if strings.TrimSpace(req.Message) == "" {
		return errors.New("invalid request: message is blank")
	}
	if phone := normalizePhone(req.PhoneNumber); phone != "" && slices.Contains(v.blocked, phone) {
		return fmt.Errorf("sender %s is blocked", req.PhoneNumber)
	}
	return nil
}

// normalizePhone keeps only the digits of a phone number so "+52 55 1234"
// and "52551234" compare equal.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
