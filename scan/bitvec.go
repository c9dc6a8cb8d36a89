package scan

import "github.com/quillsec/tsscan/opcode"

// bitvec maps byte positions in a code blob. An unset bit means the byte
// is an opcode, a set bit means it is data, i.e. the immediate argument
// of a PUSHn instruction.
type bitvec []byte

func (bits bitvec) set(pos int) {
	bits[pos/8] |= 1 << (pos % 8)
}

// isData reports whether the byte at pos is push immediate data.
func (bits bitvec) isData(pos int) bool {
	return (bits[pos/8]>>(pos%8))&1 == 1
}

// dataBitmap collects immediate-data locations in code. The returned
// truncated flag is set when the final push declares more immediate bytes
// than the code has left; those trailing bytes are still marked as data.
//
// The bitmap is 4 bytes longer than necessary, so that a trailing PUSH32
// can set bits past the end of the code without bounds checks.
func dataBitmap(code []byte) (bits bitvec, truncated bool) {
	bits = make(bitvec, len(code)/8+1+4)
	pc := 0
	for pc < len(code) {
		op := opcode.OpCode(code[pc])
		pc++
		n := op.PushDataSize()
		for i := 0; i < n; i++ {
			bits.set(pc + i)
		}
		pc += n
	}
	return bits, pc > len(code)
}
