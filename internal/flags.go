package internal

// Flags are the pending side effects of a fiber.
type Flags uint32

const (
	NoFlags       Flags = 0
	Placement     Flags = 1 << 1
	UpdateFlag    Flags = 1 << 2
	Deletion      Flags = 1 << 3
	ChildDeletion Flags = 1 << 4

	RefStatic     Flags = 1 << 21
	LayoutStatic  Flags = 1 << 22
	PassiveStatic Flags = 1 << 23

	LayoutMask = UpdateFlag
	StaticMask = LayoutStatic | PassiveStatic | RefStatic
)

func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

func (f *Flags) Add(flag Flags) {
	*f |= flag
}

func (f *Flags) Remove(flag Flags) {
	*f &^= flag
}

// WorkTag is the kind of a fiber.
type WorkTag int

const (
	FunctionComponent WorkTag = iota
	HostRoot
	HostComponent
	HostText
	Fragment
)

func (t WorkTag) String() string {
	switch t {
	case FunctionComponent:
		return "FunctionComponent"
	case HostRoot:
		return "HostRoot"
	case HostComponent:
		return "HostComponent"
	case HostText:
		return "HostText"
	case Fragment:
		return "Fragment"
	default:
		return "Unknown"
	}
}

type TypeOfMode int

const (
	NoMode         TypeOfMode = 0
	ConcurrentMode TypeOfMode = 1 << 0
)

type RootTag int

const (
	LegacyRoot RootTag = iota
	ConcurrentRoot
)
