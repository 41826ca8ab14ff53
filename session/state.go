package session

// SenderState is a step of the sending state machine.
type SenderState uint8

const (
	SenderIdle SenderState = iota
	SenderMetadataSent
	SenderChunksSent
	SenderAwaitingAck
	SenderRetransmitting
	SenderComplete
	SenderFailed
)

func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "idle"
	case SenderMetadataSent:
		return "metadata_sent"
	case SenderChunksSent:
		return "chunks_sent"
	case SenderAwaitingAck:
		return "awaiting_ack"
	case SenderRetransmitting:
		return "retransmitting"
	case SenderComplete:
		return "complete"
	case SenderFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReceiverState is a step of the receiving state machine.
type ReceiverState uint8

const (
	ReceiverWaitingMetadata ReceiverState = iota
	ReceiverReceiving
	ReceiverComplete
	ReceiverPartialTimeout
	// ReceiverAborted means the session was cancelled from the local side.
	ReceiverAborted
)

func (s ReceiverState) String() string {
	switch s {
	case ReceiverWaitingMetadata:
		return "waiting_metadata"
	case ReceiverReceiving:
		return "receiving"
	case ReceiverComplete:
		return "complete"
	case ReceiverPartialTimeout:
		return "partial_timeout"
	case ReceiverAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
