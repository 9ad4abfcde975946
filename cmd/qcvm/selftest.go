package main

import (
	"github.com/fortiblox/qcvm/internal/types"
	"github.com/fortiblox/qcvm/pkg/builtins"
	"github.com/fortiblox/qcvm/pkg/progs"
)

// selftestImage assembles a small program that exercises loops, calls,
// builtins and entity fields:
//
//	float fact(float n) { local float r = 1; while (n > 1) { r *= n; n -= 1; } return r; }
//	float main() {
//		local entity e = spawn();
//		e.health = fact(6);
//		dprint(ftos(e.health), " ", vtos(normalize('3 4 0')), "\n");
//		return e.health;
//	}
func selftestImage() []byte {
	b := progs.NewBuilder()
	b.Global("self", progs.EvEntity)
	b.Field("classname", progs.EvString)
	_, health := b.Field("health", progs.EvFloat)

	spawn := b.Builtin("spawn", builtins.NumSpawn)
	dprint := b.Builtin("dprint", builtins.NumDprint, 1, 1, 1, 1)
	ftos := b.Builtin("ftos", builtins.NumFtos, 1)
	vtos := b.Builtin("vtos", builtins.NumVtos, 3)
	normalize := b.Builtin("normalize", builtins.NumNormalize, 3)

	one := b.Float(1)
	six := b.Float(6)
	dir := b.Vector(types.Vec3{3, 4, 0})
	space := b.StringConst(" ")
	newline := b.StringConst("\n")

	fact, parms := b.BeginFunction("fact", 1)
	n := parms[0]
	r := b.Local(progs.EvFloat)
	cond := b.Local(progs.EvFloat)
	b.Emit(progs.OpStoreF, one, r, 0)
	top := b.Here()
	b.Emit(progs.OpGt, n, one, cond)
	exit := b.EmitJump(progs.OpIfNot, cond)
	b.Emit(progs.OpMulF, r, n, r)
	b.Emit(progs.OpSubF, n, one, n)
	back := b.EmitJump(progs.OpGoto, 0)
	b.PatchJump(back, top)
	b.PatchJump(exit, b.Here())
	b.Emit(progs.OpReturn, r, 0, 0)
	b.EndFunction()

	b.BeginFunction("main")
	e := b.Local(progs.EvEntity)
	ptr := b.Local(progs.EvPointer)
	value := b.Local(progs.EvFloat)
	num := b.Local(progs.EvString)
	vec := b.Local(progs.EvString)

	b.Call(spawn)
	b.Emit(progs.OpStoreEnt, progs.OfsReturn, e, 0)
	b.Call(fact, progs.Arg{Ofs: six})
	b.Emit(progs.OpAddress, e, health, ptr)
	b.Emit(progs.OpStorePF, progs.OfsReturn, ptr, 0)
	b.Emit(progs.OpLoadF, e, health, value)

	b.Call(ftos, progs.Arg{Ofs: value})
	b.Emit(progs.OpStoreS, progs.OfsReturn, num, 0)
	b.Call(normalize, progs.Arg{Ofs: dir, Vec: true})
	b.Call(vtos, progs.Arg{Ofs: progs.OfsReturn, Vec: true})
	b.Emit(progs.OpStoreS, progs.OfsReturn, vec, 0)
	b.Call(dprint,
		progs.Arg{Ofs: num},
		progs.Arg{Ofs: space},
		progs.Arg{Ofs: vec},
		progs.Arg{Ofs: newline})
	b.Emit(progs.OpReturn, value, 0, 0)
	b.EndFunction()

	return b.Bytes()
}
