package compiler

import (
	"errors"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/exp/slices"

	"github.com/mna/vetiver/internal/debuglog"
	"github.com/mna/vetiver/lang/machine"
)

// Reg is a virtual register id. The id space is partitioned into tiers: ids
// 0-255 are bytecode-addressable, the extended tiers back them when a
// window overflows, and ids >= SpillBase reference VM spill memory.
type Reg uint16

// Register tier boundaries. Within the bytecode-addressable range, the
// allocator hands out globals, frame variables and temporaries from
// disjoint windows (globals from 0, frame variables from 64, temporaries
// from 192) so that the three kinds never collide; the top four ids are
// reserved as shuttle scratch for operands living in extended tiers.
const (
	GlobalBase Reg = 0
	FrameBase  Reg = 64
	TempBase   Reg = 192
	ScratchMin Reg = 252
	ScratchMax Reg = 255

	FrameExtBase Reg = 256
	FrameExtEnd  Reg = 319
	TempExtBase  Reg = 320
	TempExtEnd   Reg = 351
	ModuleBase   Reg = 352
	ModuleEnd    Reg = 479
	SpillBase    Reg = 480
)

// Purpose selects the allocation window of a register request.
type Purpose uint8

// List of register purposes.
const (
	PurposeGlobal Purpose = iota
	PurposeFrame
	PurposeTemp
	PurposeModule
	numPurposes
)

var errRegisterPressure = errors.New("register pressure exhausted")

// A Lifetime records the liveness of one allocated register for the reuse
// analysis.
type Lifetime struct {
	Reg      Reg
	Birth    int // instruction stream offset at allocation
	LastUse  int // instruction stream offset of the last recorded use
	TypeTag  machine.Kind
	Active   bool
	Reusable bool
	VarName  string // empty for temporaries
}

// An Allocator hands out virtual registers with lifetime-based reuse. It is
// per-function: every chunk compiles with a fresh allocator.
type Allocator struct {
	free   [numPurposes]*bitset.BitSet // freed registers by id, per purpose
	next   [numPurposes]Reg            // bump pointer in the primary window
	limit  [numPurposes]Reg            // exclusive end of the primary window
	nextX  [numPurposes]Reg            // bump pointer in the extended tier
	limitX [numPurposes]Reg            // exclusive end of the extended tier

	pinned    *bitset.BitSet
	nextSpill Reg

	active  map[Reg]*Lifetime
	history []*Lifetime
	high    Reg // high-water mark of bytecode-addressable registers

	// instr is the stream offset used to stamp births and uses; the code
	// generator advances it as it emits.
	instr int
}

// NewAllocator creates an allocator with empty pools.
func NewAllocator() *Allocator {
	a := &Allocator{
		pinned: bitset.New(uint(SpillBase)),
		active: make(map[Reg]*Lifetime),
	}
	for p := Purpose(0); p < numPurposes; p++ {
		a.free[p] = bitset.New(uint(SpillBase))
	}
	a.next[PurposeGlobal], a.limit[PurposeGlobal] = GlobalBase, FrameBase
	a.next[PurposeFrame], a.limit[PurposeFrame] = FrameBase, TempBase
	a.next[PurposeTemp], a.limit[PurposeTemp] = TempBase, ScratchMin
	a.next[PurposeModule], a.limit[PurposeModule] = ModuleBase, ModuleEnd+1

	a.nextX[PurposeGlobal], a.limitX[PurposeGlobal] = ModuleBase, ModuleEnd+1
	a.nextX[PurposeFrame], a.limitX[PurposeFrame] = FrameExtBase, FrameExtEnd+1
	a.nextX[PurposeTemp], a.limitX[PurposeTemp] = TempExtBase, TempExtEnd+1
	a.nextX[PurposeModule], a.limitX[PurposeModule] = ModuleBase, ModuleBase // empty
	a.nextSpill = SpillBase
	return a
}

// Advance sets the current instruction stream offset used for lifetime
// stamping.
func (a *Allocator) Advance(off int) { a.instr = off }

// ReserveParams reserves registers 0..n-1 for the function's parameters and
// records their lifetimes as active, non-reusable bindings.
func (a *Allocator) ReserveParams(n int) {
	if Reg(n) > a.limit[PurposeGlobal] {
		n = int(a.limit[PurposeGlobal])
	}
	if a.next[PurposeGlobal] < Reg(n) {
		a.next[PurposeGlobal] = Reg(n)
	}
	for r := Reg(0); r < Reg(n); r++ {
		lt := &Lifetime{Reg: r, Birth: 0, TypeTag: machine.KindNil, Active: true}
		a.active[r] = lt
		a.history = append(a.history, lt)
	}
	if Reg(n) > a.high {
		a.high = Reg(n)
	}
}

// Alloc allocates a register for the provided purpose and type tag. It
// first looks for a reusable register of a compatible type in the purpose's
// free pool, then bumps the primary window, then the extended tier, and
// finally allocates a spill id.
func (a *Allocator) Alloc(p Purpose, tag machine.Kind) (Reg, error) {
	return a.allocNamed(p, tag, "")
}

// AllocNamed is Alloc for a named variable; the name is recorded on the
// lifetime for debugging and conflict checks.
func (a *Allocator) AllocNamed(p Purpose, tag machine.Kind, name string) (Reg, error) {
	return a.allocNamed(p, tag, name)
}

func (a *Allocator) allocNamed(p Purpose, tag machine.Kind, name string) (Reg, error) {
	// reuse from the free pool: prefer a register whose previous lifetime
	// had the same type tag; temporaries are type-flexible and take the
	// first free one, rewriting the tag on reuse.
	pool := a.free[p]
	first, match := -1, -1
	for i, ok := pool.NextSet(0); ok; i, ok = pool.NextSet(i + 1) {
		r := Reg(i)
		if a.pinned.Test(uint(r)) {
			continue
		}
		if first < 0 {
			first = int(i)
			if p == PurposeTemp {
				break
			}
		}
		if lt := a.lastLifetime(r); lt != nil && lt.TypeTag == tag {
			match = int(i)
			break
		}
	}
	if match < 0 {
		match = first
	}
	if match >= 0 {
		r := Reg(match)
		pool.Clear(uint(match))
		return r, a.activate(r, tag, name)
	}

	if r := a.next[p]; r < a.limit[p] {
		a.next[p]++
		return r, a.activate(r, tag, name)
	}
	if r := a.nextX[p]; r < a.limitX[p] {
		a.nextX[p]++
		return r, a.activate(r, tag, name)
	}

	// all tiers exhausted: monotonically increasing spill id, backed by VM
	// memory.
	r := a.nextSpill
	a.nextSpill++
	debuglog.Logf(debuglog.Regalloc, "spilling %s to id %d", name, r)
	return r, a.activate(r, tag, name)
}

func (a *Allocator) lastLifetime(r Reg) *Lifetime {
	for i := len(a.history) - 1; i >= 0; i-- {
		if a.history[i].Reg == r {
			return a.history[i]
		}
	}
	return nil
}

func (a *Allocator) activate(r Reg, tag machine.Kind, name string) error {
	if lt := a.active[r]; lt != nil && lt.Active {
		return errRegisterPressure
	}
	lt := &Lifetime{Reg: r, Birth: a.instr, LastUse: a.instr, TypeTag: tag, Active: true, VarName: name}
	a.active[r] = lt
	a.history = append(a.history, lt)
	if r < ScratchMin && r+1 > a.high {
		a.high = r + 1
	}
	return nil
}

// AllocContiguous allocates n contiguous registers in the purpose's primary
// window, for call arguments that must be adjacent. The free pool is
// bypassed; contiguity comes from the bump pointer.
func (a *Allocator) AllocContiguous(p Purpose, n int, tag machine.Kind) (Reg, error) {
	if n == 0 {
		return a.next[p], nil
	}
	base := a.next[p]
	if base+Reg(n) > a.limit[p] {
		return 0, errRegisterPressure
	}
	for i := 0; i < n; i++ {
		r := base + Reg(i)
		if lt := a.active[r]; lt != nil && lt.Active {
			return 0, errRegisterPressure
		}
	}
	a.next[p] = base + Reg(n)
	for i := 0; i < n; i++ {
		r := base + Reg(i)
		a.free[p].Clear(uint(r))
		if err := a.activate(r, tag, ""); err != nil {
			return 0, err
		}
	}
	return base, nil
}

// Free returns the register to its purpose's pool; its lifetime becomes
// inactive and reusable. Spill ids are not pooled. Pinned registers stay
// out of the pool until unpinned.
func (a *Allocator) Free(r Reg) {
	lt := a.active[r]
	if lt == nil || !lt.Active {
		return
	}
	lt.Active = false
	lt.Reusable = true
	lt.LastUse = a.instr
	delete(a.active, r)
	if r >= SpillBase {
		return
	}
	if p, ok := purposeOf(r); ok && !a.pinned.Test(uint(r)) {
		a.free[p].Set(uint(r))
		a.retract(p)
	}
}

// retract walks the bump pointer back over a trailing run of freed
// registers so that contiguous allocation (which bypasses the pool) does
// not leak window space over the life of a function.
func (a *Allocator) retract(p Purpose) {
	base := a.next[p]
	switch p {
	case PurposeGlobal:
		base = GlobalBase
	case PurposeFrame:
		base = FrameBase
	case PurposeTemp:
		base = TempBase
	case PurposeModule:
		base = ModuleBase
	}
	for a.next[p] > base {
		r := a.next[p] - 1
		if !a.free[p].Test(uint(r)) || a.pinned.Test(uint(r)) {
			return
		}
		a.free[p].Clear(uint(r))
		a.next[p] = r
	}
}

// Touch records a use of the register at the current stream offset.
func (a *Allocator) Touch(r Reg) {
	if lt := a.active[r]; lt != nil {
		lt.LastUse = a.instr
	}
}

// Pin removes the register from reuse until Unpin; hoisted loop invariants
// and induction variables are pinned for the extent of their loop.
func (a *Allocator) Pin(r Reg) {
	a.pinned.Set(uint(r))
	if p, ok := purposeOf(r); ok {
		a.free[p].Clear(uint(r))
	}
}

// Unpin makes the register reusable again; if it was freed while pinned it
// returns to its pool.
func (a *Allocator) Unpin(r Reg) {
	a.pinned.Clear(uint(r))
	if lt, ok := a.activeOrLast(r); ok && !lt.Active && r < SpillBase {
		if p, ok := purposeOf(r); ok {
			a.free[p].Set(uint(r))
		}
	}
}

func (a *Allocator) activeOrLast(r Reg) (*Lifetime, bool) {
	if lt := a.active[r]; lt != nil {
		return lt, true
	}
	if lt := a.lastLifetime(r); lt != nil {
		return lt, true
	}
	return nil, false
}

func purposeOf(r Reg) (Purpose, bool) {
	switch {
	case r < FrameBase:
		return PurposeGlobal, true
	case r < TempBase:
		return PurposeFrame, true
	case r < ScratchMin:
		return PurposeTemp, true
	case r <= ScratchMax:
		return 0, false // shuttle scratch, never pooled
	case r <= FrameExtEnd:
		return PurposeFrame, true
	case r <= TempExtEnd:
		return PurposeTemp, true
	case r <= ModuleEnd:
		return PurposeModule, true
	}
	return 0, false
}

// SpillSlots returns the number of spill ids handed out.
func (a *Allocator) SpillSlots() int { return int(a.nextSpill - SpillBase) }

// FrameSize returns the high-water mark of bytecode-addressable registers
// used, for the chunk header.
func (a *Allocator) FrameSize() int {
	return int(a.high)
}

// Lifetimes returns every lifetime recorded so far, ordered by birth.
func (a *Allocator) Lifetimes() []*Lifetime {
	lts := slices.Clone(a.history)
	slices.SortStableFunc(lts, func(x, y *Lifetime) int { return x.Birth - y.Birth })
	return lts
}

// A Snapshot captures the allocator state for optimizer rollback.
type Snapshot struct {
	free      [numPurposes]*bitset.BitSet
	next      [numPurposes]Reg
	nextX     [numPurposes]Reg
	pinned    *bitset.BitSet
	nextSpill Reg
	high      Reg
	nActive   map[Reg]*Lifetime
	nHistory  int
}

// Snapshot captures the current allocation state.
func (a *Allocator) Snapshot() Snapshot {
	s := Snapshot{
		next:      a.next,
		nextX:     a.nextX,
		pinned:    a.pinned.Clone(),
		nextSpill: a.nextSpill,
		high:      a.high,
		nActive:   make(map[Reg]*Lifetime, len(a.active)),
		nHistory:  len(a.history),
	}
	for p := Purpose(0); p < numPurposes; p++ {
		s.free[p] = a.free[p].Clone()
	}
	for r, lt := range a.active {
		s.nActive[r] = lt
	}
	return s
}

// Restore rolls the allocator back to a previously captured snapshot. Used
// when a loop optimization fails and its register allocations must be
// undone.
func (a *Allocator) Restore(s Snapshot) {
	a.next = s.next
	a.nextX = s.nextX
	a.pinned = s.pinned
	a.nextSpill = s.nextSpill
	a.high = s.high
	for p := Purpose(0); p < numPurposes; p++ {
		a.free[p] = s.free[p]
	}
	a.active = s.nActive
	a.history = a.history[:s.nHistory]
}
