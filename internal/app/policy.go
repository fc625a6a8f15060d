package app

import "github.com/dkeye/proxvoice/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send queue is full.
type Policy interface {
	OnBackPressure(world core.WorldService, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(world core.WorldService, member core.MemberSession) BackpressureAction {
	return KickMember
}

// TolerantPolicy drops frames for slow members instead of kicking them.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(world core.WorldService, member core.MemberSession) BackpressureAction {
	return DropFrame
}

// PolicyFor maps a config name to a policy. Unknown names kick.
func PolicyFor(name string) Policy {
	if name == "drop" {
		return TolerantPolicy{}
	}
	return SimplePolicy{}
}
