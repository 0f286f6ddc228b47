package transaction

import "strings"

// MapExternalToState converts the gateway's status tokens into internal
// lifecycle states. Unknown tokens map to the empty state so callers can
// fall back to their branch default.
func MapExternalToState(external string) State {
	switch strings.ToLower(strings.TrimSpace(external)) {
	case "requires_confirmation", "requires_action":
		return StateDraft
	case "processing", "pending":
		return StatePending
	case "requires_capture":
		return StateAuthorized
	case "succeeded":
		return StateDone
	case "canceled":
		return StateCancel
	case "requires_payment_method", "failed":
		return StateError
	}
	return ""
}
