package processor

import "strings"

// Decline is a simulated card-network decline.
type Decline struct {
	Code    string
	Message string
}

// Well-known decline codes shared by all backends.
const (
	DeclineGeneric           = "card_declined"
	DeclineInsufficientFunds = "insufficient_funds"
	DeclineExpiredCard       = "expired_card"
	DeclineIncorrectCVC      = "incorrect_cvc"
	DeclineProcessingError   = "processing_error"
)

// tokenOutcomes maps payment-method token suffixes (the token doubles as a
// simulated card number) to deterministic network outcomes. The suffixes
// follow the test-card conventions card gateways publish.
var tokenOutcomes = map[string]Decline{
	"0002": {Code: DeclineGeneric, Message: "The card was declined."},
	"9995": {Code: DeclineInsufficientFunds, Message: "The card has insufficient funds."},
	"0069": {Code: DeclineExpiredCard, Message: "The card has expired."},
	"0127": {Code: DeclineIncorrectCVC, Message: "The card's security code is incorrect."},
	"0119": {Code: DeclineProcessingError, Message: "An error occurred while processing the card."},
}

// challengeSuffix marks tokens that require a 3-D Secure challenge before
// authorization instead of an immediate approve/decline.
const challengeSuffix = "3155"

// ScreenToken returns the deterministic simulated outcome for a
// payment-method token. Both backends use the same taxonomy so a token
// behaves identically regardless of the configured gateway.
func ScreenToken(token string) (decline *Decline, requiresAction bool) {
	for suffix, d := range tokenOutcomes {
		if strings.HasSuffix(token, suffix) {
			out := d
			return &out, false
		}
	}
	if strings.HasSuffix(token, challengeSuffix) {
		return nil, true
	}
	return nil, false
}

// MaskToken reduces a token to its masked presentation form.
func MaskToken(token string) string {
	digits := make([]rune, 0, len(token))
	for _, r := range token {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) < 4 {
		return "****"
	}
	return "**** **** **** " + string(digits[len(digits)-4:])
}

// BrandForToken guesses the card brand from the token's leading digit, the
// way terminals do from a PAN prefix.
func BrandForToken(token string) string {
	for _, r := range token {
		switch r {
		case '4':
			return "visa"
		case '5':
			return "mastercard"
		case '3':
			return "amex"
		case '6':
			return "discover"
		default:
			if r >= '0' && r <= '9' {
				return "unknown"
			}
		}
	}
	return "unknown"
}
