package survey

// State is the position of a conversation in the survey state machine.
// Completed and TimedOut are terminal: the conversation is removed and any
// later lookup reports NotEnrolled.
type State int

const (
	NotEnrolled State = iota
	AwaitingAnswer
	AwaitingFollowUp
	Completed
	TimedOut
)

func (s State) String() string {
	switch s {
	case NotEnrolled:
		return "not_enrolled"
	case AwaitingAnswer:
		return "awaiting_answer"
	case AwaitingFollowUp:
		return "awaiting_follow_up"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}
