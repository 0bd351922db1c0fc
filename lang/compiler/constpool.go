package compiler

import (
	"github.com/dolthub/swiss"

	"github.com/mna/vetiver/lang/machine"
)

// maxConstants is the number of pool entries addressable by the 16-bit
// constant index operands.
const maxConstants = 1 << 16

// A ConstantPool is the ordered, deduplicating sequence of literal values of
// one chunk. Add returns the index of an equal existing entry when there is
// one; equality is the Value's structural equality (strings compare by
// content).
type ConstantPool struct {
	values  []machine.Value
	indices *swiss.Map[machine.Value, uint16]
}

// NewConstantPool creates an empty pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{indices: swiss.NewMap[machine.Value, uint16](16)}
}

// Add appends v to the pool and returns its index, reusing the index of an
// existing equal entry. The ok result is false when the pool is full.
func (p *ConstantPool) Add(v machine.Value) (idx uint16, ok bool) {
	if i, found := p.indices.Get(v); found {
		return i, true
	}
	if len(p.values) >= maxConstants {
		return 0, false
	}
	i := uint16(len(p.values))
	p.values = append(p.values, v)
	p.indices.Put(v, i)
	return i, true
}

// Len returns the number of entries in the pool.
func (p *ConstantPool) Len() int { return len(p.values) }

// At returns the value at index i.
func (p *ConstantPool) At(i uint16) machine.Value { return p.values[i] }

// Values returns the pool's backing slice, for transfer into the chunk.
func (p *ConstantPool) Values() []machine.Value { return p.values }
