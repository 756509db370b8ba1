package internal

// EventPriority is the lane an update gets when it was triggered by a given kind of event.
type EventPriority = Lane

const (
	DiscreteEventPriority   EventPriority = SyncLane
	ContinuousEventPriority EventPriority = InputContinuousLane
	DefaultEventPriority    EventPriority = DefaultLane
	IdleEventPriority       EventPriority = IdleLane
)

// EventPriorityProvider reports the priority of the event currently being dispatched by the host.
type EventPriorityProvider interface {
	CurrentEventPriority() EventPriority
}

// EventPriorityFunc adapts a function to an EventPriorityProvider.
type EventPriorityFunc func() EventPriority

func (f EventPriorityFunc) CurrentEventPriority() EventPriority { return f() }

type defaultEventPriority struct{}

func (defaultEventPriority) CurrentEventPriority() EventPriority { return DefaultEventPriority }

func isHigherEventPriority(a, b EventPriority) bool {
	return a != NoLane && a < b
}

func LanesToEventPriority(lanes Lanes) EventPriority {
	lane := HighestPriorityLane(lanes)
	if !isHigherEventPriority(DiscreteEventPriority, lane) {
		return DiscreteEventPriority
	}
	if !isHigherEventPriority(ContinuousEventPriority, lane) {
		return ContinuousEventPriority
	}
	if IncludesNonIdleWork(lane) {
		return DefaultEventPriority
	}
	return IdleEventPriority
}

// schedulerPriorityFor maps the event priority of lanes to the scheduler priority of its task.
func schedulerPriorityFor(lanes Lanes) Priority {
	switch LanesToEventPriority(lanes) {
	case DiscreteEventPriority:
		return ImmediatePriority
	case ContinuousEventPriority:
		return UserBlockingPriority
	case IdleEventPriority:
		return IdlePriority
	default:
		return NormalPriority
	}
}
