package ingest

// RequeueOnFailure is the requeue flag used for negative acknowledgments.
// With false the broker moves failed messages to the dead-letter exchange
// instead of redelivering them to payments.queue.
const RequeueOnFailure = false

// Outcome is the terminal state of an envelope.
type Outcome string

const (
	OutcomeAcked  Outcome = "acked"
	OutcomeNacked Outcome = "nacked"
)

// Settler is the one-shot acknowledgment handle of a delivery.
type Settler interface {
	Ack() error
	Nack(requeue bool) error
}

// Policy maps a processing result onto exactly one ack or nack.
type Policy struct{}

// Settle acks on success and nacks without requeue on any failure. The
// returned error is a transport failure of the settlement itself.
func (Policy) Settle(env Settler, procErr error) (Outcome, error) {
	if procErr == nil {
		return OutcomeAcked, env.Ack()
	}
	return OutcomeNacked, env.Nack(RequeueOnFailure)
}
