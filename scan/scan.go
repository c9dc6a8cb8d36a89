// Package scan classifies opcode usage in deployed EVM bytecode.
//
// A flat substring count over raw bytecode over-counts, because push
// instructions embed 1 to 32 bytes of immediate data (addresses, offsets,
// constants) whose values can coincide with any opcode. The classifier
// therefore decodes the instruction stream and only reports watched
// values that occur as genuine instructions.
package scan

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/quillsec/tsscan/opcode"
)

// Occurrence records a watched opcode found as a real instruction.
type Occurrence struct {
	Op     opcode.OpCode
	Offset int
}

// Report is the outcome of classifying one code blob. It is immutable
// once returned; classifying the same input again yields an equal report.
type Report struct {
	// CodeSize is the length of the classified bytecode in bytes.
	CodeSize int

	// Truncated is set when the code ends in the middle of a push
	// instruction's immediate data. The walk stops there; everything
	// found up to that point is still reported.
	Truncated bool

	watched []opcode.OpCode
	occ     map[opcode.OpCode][]Occurrence
}

// Watched returns the watch set in the order it was given, deduplicated.
func (r *Report) Watched() []opcode.OpCode {
	out := make([]opcode.OpCode, len(r.watched))
	copy(out, r.watched)
	return out
}

// Occurrences returns the ordered occurrences recorded for op.
func (r *Report) Occurrences(op opcode.OpCode) []Occurrence {
	return r.occ[op]
}

// Count returns the number of genuine occurrences of op.
func (r *Report) Count(op opcode.OpCode) int {
	return len(r.occ[op])
}

// Found reports whether any watched opcode occurred as an instruction.
func (r *Report) Found() bool {
	for _, occ := range r.occ {
		if len(occ) > 0 {
			return true
		}
	}
	return false
}

// Classify walks code as an instruction stream and reports, for every
// watched opcode, where it occurs as an actual instruction. Push
// immediate bytes are never interpreted as opcodes, so a watched value
// inside push data is not an occurrence. Empty code is valid and yields
// an empty report. Classify never fails: a push whose immediate runs
// past the end of the code terminates the walk and marks the report
// truncated.
func Classify(code []byte, watched ...opcode.OpCode) *Report {
	r := &Report{
		CodeSize: len(code),
		occ:      make(map[opcode.OpCode][]Occurrence, len(watched)),
	}
	var watch [256]bool
	for _, op := range watched {
		if watch[op] {
			continue
		}
		watch[op] = true
		r.watched = append(r.watched, op)
		r.occ[op] = nil
	}

	bits, truncated := dataBitmap(code)
	r.Truncated = truncated
	for pos := 0; pos < len(code); pos++ {
		if bits.isData(pos) {
			continue
		}
		op := opcode.OpCode(code[pos])
		if watch[op] {
			r.occ[op] = append(r.occ[op], Occurrence{Op: op, Offset: pos})
		}
	}
	return r
}

// ParseBytecode normalizes a hex bytecode string, with or without the 0x
// prefix, into raw bytes. An empty string (or bare "0x", as returned for
// an account with no code) is valid and yields empty code.
func ParseBytecode(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, nil
	}
	code, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid bytecode hex: %w", err)
	}
	return code, nil
}
