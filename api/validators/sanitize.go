package validators

import (
	"strings"
	"unicode"

	pkgerrors "github.com/locad/locad-payments/pkg/errors"
)

// MaxIDLength bounds campaign, influencer, intent and payment method ids.
const MaxIDLength = 255

// NormalizeID trims an identifier from a path or body. An id that is too long
// or carries control characters is rejected instead of cut, since a truncated
// id could match a different row. Empty input stays empty.
func NormalizeID(field, input string) (string, error) {
	id := strings.TrimSpace(input)
	if len(id) > MaxIDLength || strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{field: "is invalid"})
	}
	return id, nil
}
