package etch

import "strconv"

// compiler_lifetime.go tracks the (variable, register, start, end)
// windows that fill Program.Lifetimes (spec §3.3 lifetime map, §4.5.3
// "Lifetime tracking"). A lifetime starts when a variable is first
// bound (Let, parameter, pattern binding, loop variable). A ForRange
// loop variable's lifetime closes when its loop ends; every other
// lifetime stays open until closeAllLifetimes at function end. Binding
// a name to a different register opens a separate record.

// startLifetime opens a new lifetime window for name in reg, starting
// at defPC.
func (fc *funcCompiler) startLifetime(name string, reg int, defPC int) {
	rec := &LifetimeRecord{Variable: name, Register: reg, StartPC: defPC, DefPC: defPC, EndPC: defPC}
	fc.activeLifetime[lifetimeKey(name, reg)] = rec
}

// touchLifetime extends the open lifetime for (name, reg) to include
// the current PC, called whenever a read or write of that binding is
// emitted.
func (fc *funcCompiler) touchLifetime(name string, reg int, pc int) {
	if rec, ok := fc.activeLifetime[lifetimeKey(name, reg)]; ok {
		if pc > rec.EndPC {
			rec.EndPC = pc
		}
	}
}

// closeLifetime finalizes and archives the (name, reg) window; called
// when a ForRange loop ends.
func (fc *funcCompiler) closeLifetime(name string, reg int, endPC int) {
	key := lifetimeKey(name, reg)
	rec, ok := fc.activeLifetime[key]
	if !ok {
		return
	}
	if endPC > rec.EndPC {
		rec.EndPC = endPC
	}
	fc.lifetimes = append(fc.lifetimes, *rec)
	delete(fc.activeLifetime, key)
}

// closeAllLifetimes archives every lifetime still open when the
// function body finishes compiling (parameters and any block that
// extends to function exit).
func (fc *funcCompiler) closeAllLifetimes(endPC int) {
	for key, rec := range fc.activeLifetime {
		if endPC > rec.EndPC {
			rec.EndPC = endPC
		}
		fc.lifetimes = append(fc.lifetimes, *rec)
		delete(fc.activeLifetime, key)
	}
}

func lifetimeKey(name string, reg int) string {
	return name + "#" + strconv.Itoa(reg)
}
