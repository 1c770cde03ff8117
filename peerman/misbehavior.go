package peerman

// Violation identifies a kind of peer misbehavior, each worth a fixed
// penalty against the peer's misbehavior score (spec.md §4.3).
type Violation int

const (
	ViolationInvalidProofOfWork Violation = iota
	ViolationInvalidHeader
	ViolationOrphanOverflow
	ViolationPreVerackMessage
	ViolationUnconnectingHeaders
	ViolationOversizedMessage
	ViolationNonContinuousHeaders
	ViolationLowWorkHeaders
)

// penalty is the misbehavior scoring table.
var penalty = map[Violation]int{
	ViolationInvalidProofOfWork:   100,
	ViolationInvalidHeader:        100,
	ViolationOrphanOverflow:       100,
	ViolationPreVerackMessage:     100,
	ViolationUnconnectingHeaders:  100,
	ViolationOversizedMessage:     20,
	ViolationNonContinuousHeaders: 20,
	ViolationLowWorkHeaders:       10,
}

// DiscouragementThreshold is the cumulative misbehavior score that marks a
// peer for disconnection and discouragement.
const DiscouragementThreshold = 100

// MaxUnconnectingHeaders is the unconnecting-headers counter value that
// applies a single latched penalty.
const MaxUnconnectingHeaders = 10
