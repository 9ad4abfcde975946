package qcvm

import "github.com/fortiblox/qcvm/pkg/progs"

// sysDefs holds the offsets of engine-known globals and fields, or -1 when
// the image does not define them.
type sysDefs struct {
	self      int
	other     int
	world     int
	time      int
	frametime int

	nextthink int
	frame     int
	think     int
	classname int
	model     int
}

func resolveSysDefs(img *progs.Image) sysDefs {
	global := func(name string, t progs.EType) int {
		d, ok := img.FindGlobal(name)
		if !ok || d.Kind() != t {
			return -1
		}
		return int(d.Ofs)
	}
	field := func(name string, t progs.EType) int {
		d, ok := img.FindField(name)
		if !ok || d.Kind() != t {
			return -1
		}
		return int(d.Ofs)
	}
	return sysDefs{
		self:      global("self", progs.EvEntity),
		other:     global("other", progs.EvEntity),
		world:     global("world", progs.EvEntity),
		time:      global("time", progs.EvFloat),
		frametime: global("frametime", progs.EvFloat),
		nextthink: field("nextthink", progs.EvFloat),
		frame:     field("frame", progs.EvFloat),
		think:     field("think", progs.EvFunction),
		classname: field("classname", progs.EvString),
		model:     field("model", progs.EvString),
	}
}

// SelfOfs returns the offset of the self global, or -1.
func (vm *VM) SelfOfs() int { return vm.sys.self }

// OtherOfs returns the offset of the other global, or -1.
func (vm *VM) OtherOfs() int { return vm.sys.other }

// ClassnameField returns the offset of the classname field, or -1.
func (vm *VM) ClassnameField() int { return vm.sys.classname }

// Time returns the time global, or 0 when the image has none.
func (vm *VM) Time() float32 {
	if vm.sys.time < 0 {
		return 0
	}
	return vm.Float(vm.sys.time)
}

// SetTime sets the time and frametime globals when present.
func (vm *VM) SetTime(now, frametime float32) {
	if vm.sys.time >= 0 {
		vm.SetFloat(vm.sys.time, now)
	}
	if vm.sys.frametime >= 0 {
		vm.SetFloat(vm.sys.frametime, frametime)
	}
}

// Self returns the entity in the self global.
func (vm *VM) Self() (int, error) {
	if vm.sys.self < 0 {
		return 0, ErrNoSelf
	}
	return vm.Edict(vm.sys.self)
}

// SetSelf stores n in the self global.
func (vm *VM) SetSelf(n int) error {
	if vm.sys.self < 0 {
		return ErrNoSelf
	}
	vm.SetEdict(vm.sys.self, n)
	return nil
}

// SetOther stores n in the other global when present.
func (vm *VM) SetOther(n int) {
	if vm.sys.other >= 0 {
		vm.SetEdict(vm.sys.other, n)
	}
}
