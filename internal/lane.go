package internal

import (
	"math/bits"
	"time"
)

// Lanes is a set of priority bits. The lower the bit position, the higher the priority.
type Lanes uint32

// Lane is a Lanes value with at most one bit set.
type Lane = Lanes

const TotalLanes = 31

const (
	NoLanes Lanes = 0
	NoLane  Lane  = 0

	SyncLane                     Lane = 0b0000000000000000000000000000001
	InputContinuousHydrationLane Lane = 0b0000000000000000000000000000010
	InputContinuousLane          Lane = 0b0000000000000000000000000000100
	DefaultHydrationLane         Lane = 0b0000000000000000000000000001000
	DefaultLane                  Lane = 0b0000000000000000000000000010000

	IdleHydrationLane Lane = 0b0010000000000000000000000000000
	IdleLane          Lane = 0b0100000000000000000000000000000
	OffscreenLane     Lane = 0b1000000000000000000000000000000

	NonIdleLanes  Lanes = 0b0001111111111111111111111111111
	BlockingLanes Lanes = SyncLane | InputContinuousHydrationLane | InputContinuousLane
)

// NoTimestamp marks an unset entry in a root's event or expiration times.
const NoTimestamp time.Duration = -1

// LaneMap holds one value per lane index.
type LaneMap [TotalLanes]time.Duration

func NewLaneMap(initial time.Duration) LaneMap {
	var m LaneMap
	for i := range m {
		m[i] = initial
	}
	return m
}

func MergeLanes(a, b Lanes) Lanes {
	return a | b
}

func RemoveLanes(set, subset Lanes) Lanes {
	return set &^ subset
}

func IncludesSomeLane(a, b Lanes) bool {
	return a&b != NoLanes
}

func IsSubsetOfLanes(set, subset Lanes) bool {
	return set&subset == subset
}

func IncludesNonIdleWork(lanes Lanes) bool {
	return lanes&NonIdleLanes != NoLanes
}

// HighestPriorityLane isolates the lowest set bit.
func HighestPriorityLane(lanes Lanes) Lane {
	return lanes & -lanes
}

// getHighestPriorityLanes returns the group of lanes that render together with the
// highest priority pending lane. Every lane of this vocabulary is its own group.
func getHighestPriorityLanes(lanes Lanes) Lanes {
	return HighestPriorityLane(lanes)
}

// LaneToIndex returns the bit index of a single lane, or -1 for NoLane.
func LaneToIndex(lane Lane) int {
	if lane == NoLane {
		return -1
	}
	return bits.TrailingZeros32(uint32(lane))
}

// pickArbitraryLaneIndex returns the index of the highest set bit.
func pickArbitraryLaneIndex(lanes Lanes) int {
	return 31 - bits.LeadingZeros32(uint32(lanes))
}

// ForEachLane calls fn for every lane in lanes, lowest priority first.
func ForEachLane(lanes Lanes, fn func(index int, lane Lane)) {
	for lanes != NoLanes {
		index := pickArbitraryLaneIndex(lanes)
		lane := Lane(1) << index
		fn(index, lane)
		lanes &^= lane
	}
}

// LaneTimeouts are the durations after which a pending lane counts as starved.
type LaneTimeouts struct {
	Sync       time.Duration
	Continuous time.Duration
	Default    time.Duration
}

func DefaultLaneTimeouts() LaneTimeouts {
	return LaneTimeouts{
		Sync:       250 * time.Millisecond,
		Continuous: 250 * time.Millisecond,
		Default:    5 * time.Second,
	}
}

// ExpirationTime returns the deadline of a lane requested at eventTime,
// or NoTimestamp for lanes that never expire.
func (t LaneTimeouts) ExpirationTime(lane Lane, eventTime time.Duration) time.Duration {
	switch lane {
	case SyncLane:
		return eventTime + t.Sync
	case InputContinuousHydrationLane, InputContinuousLane:
		return eventTime + t.Continuous
	case DefaultHydrationLane, DefaultLane:
		return eventTime + t.Default
	default:
		return NoTimestamp
	}
}

func MarkRootUpdated(root *Root, lane Lane, eventTime time.Duration) {
	root.PendingLanes = MergeLanes(root.PendingLanes, lane)
	if index := LaneToIndex(lane); index >= 0 {
		root.EventTimes[index] = eventTime
	}
}

// EstablishLaneDeadlines sets an expiration time for every pending lane that doesn't have one yet.
func EstablishLaneDeadlines(root *Root, timeouts LaneTimeouts) {
	ForEachLane(root.PendingLanes, func(index int, lane Lane) {
		if root.ExpirationTimes[index] != NoTimestamp {
			return
		}
		if root.EventTimes[index] == NoTimestamp {
			return
		}
		root.ExpirationTimes[index] = timeouts.ExpirationTime(lane, root.EventTimes[index])
	})
}

// MarkStarvedLanesAsExpired moves every pending lane whose deadline has passed into the expired set.
// Lanes without a deadline are left alone.
func MarkStarvedLanesAsExpired(root *Root, now time.Duration) {
	ForEachLane(root.PendingLanes, func(index int, lane Lane) {
		expiration := root.ExpirationTimes[index]
		if expiration != NoTimestamp && expiration <= now {
			root.ExpiredLanes = MergeLanes(root.ExpiredLanes, lane)
		}
	})
}

// GetNextLanes picks the lanes the next pass on root should render.
// A pass already in progress for wipLanes keeps going unless the candidate is strictly more urgent.
func GetNextLanes(root *Root, wipLanes Lanes) Lanes {
	pending := root.PendingLanes
	if pending == NoLanes {
		return NoLanes
	}

	var next Lanes
	if nonIdle := pending & NonIdleLanes; nonIdle != NoLanes {
		next = getHighestPriorityLanes(nonIdle)
	} else {
		next = getHighestPriorityLanes(pending)
	}

	if next == NoLanes {
		return NoLanes
	}

	if wipLanes != NoLanes && wipLanes != next {
		nextLane := HighestPriorityLane(next)
		wipLane := HighestPriorityLane(wipLanes)
		if nextLane >= wipLane {
			return wipLanes
		}
	}

	return next
}

func IncludesBlockingLane(root *Root, lanes Lanes) bool {
	if root.Tag == LegacyRoot {
		return true
	}
	return lanes&BlockingLanes != NoLanes
}

func IncludesExpiredLane(root *Root, lanes Lanes) bool {
	return lanes&root.ExpiredLanes != NoLanes
}

// MarkRootFinished drops every lane outside remaining from the root and forgets its timestamps.
func MarkRootFinished(root *Root, remaining Lanes) {
	noLongerPending := root.PendingLanes &^ remaining

	root.PendingLanes = remaining
	root.ExpiredLanes &= remaining

	ForEachLane(noLongerPending, func(index int, _ Lane) {
		root.EventTimes[index] = NoTimestamp
		root.ExpirationTimes[index] = NoTimestamp
	})
}
