package events

// Topic constants for domain events emitted by the gateway service.
const (
	TopicPaymentInitiated = "payment.initiated"
	TopicPaymentPending   = "payment.pending"
	TopicPaymentDone      = "payment.done"
	TopicPaymentCanceled  = "payment.canceled"
)

// DefaultTopics returns the canonical list of emitted topics.
func DefaultTopics() []string {
	return []string{
		TopicPaymentInitiated,
		TopicPaymentPending,
		TopicPaymentDone,
		TopicPaymentCanceled,
	}
}
