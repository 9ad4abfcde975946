package qcvm

import "sort"

// FunctionProfile counts the work done by one function.
type FunctionProfile struct {
	Name       string
	Calls      uint64
	Statements uint64
}

// Profile returns the n functions that executed the most statements, most
// expensive first. n <= 0 returns every function that ran.
func (vm *VM) Profile(n int) []FunctionProfile {
	var out []FunctionProfile
	for i, p := range vm.profile {
		if p.Calls == 0 && p.Statements == 0 {
			continue
		}
		p.Name = vm.functionName(int32(i))
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Statements != out[j].Statements {
			return out[i].Statements > out[j].Statements
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ResetProfile zeroes every counter.
func (vm *VM) ResetProfile() {
	clear(vm.profile)
}
