package push

import (
	"context"
	"errors"
	"strings"

	"firebase.google.com/go/v4/messaging"

	"pushengine/internal/types"
)

// Classifier maps a send error to an outcome kind and a diagnostic code.
type Classifier func(err error) (types.DeliveryKind, string)

// classifyFCMError treats dead registrations as invalid tokens. Everything
// else, including quota, outages and auth problems on our side, is
// transient: the token may still be good.
func classifyFCMError(err error) (types.DeliveryKind, string) {
	switch {
	case messaging.IsUnregistered(err):
		return types.DeliveryInvalidToken, "unregistered"
	case messaging.IsSenderIDMismatch(err):
		return types.DeliveryInvalidToken, "sender-id-mismatch"
	case messaging.IsInvalidArgument(err):
		if mentionsRegistrationToken(err) {
			return types.DeliveryInvalidToken, "invalid-registration-token"
		}
		return types.DeliveryTransientError, "invalid-argument"
	case errors.Is(err, context.DeadlineExceeded):
		return types.DeliveryTransientError, "deadline-exceeded"
	case errors.Is(err, context.Canceled):
		return types.DeliveryTransientError, "canceled"
	case messaging.IsQuotaExceeded(err):
		return types.DeliveryTransientError, "quota-exceeded"
	case messaging.IsUnavailable(err):
		return types.DeliveryTransientError, "unavailable"
	case messaging.IsInternal(err):
		return types.DeliveryTransientError, "internal"
	case messaging.IsThirdPartyAuthError(err):
		return types.DeliveryTransientError, "third-party-auth-error"
	default:
		return types.DeliveryTransientError, "unknown"
	}
}

func mentionsRegistrationToken(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "registration token") || strings.Contains(msg, "registration-token")
}
