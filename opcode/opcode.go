// Package opcode defines the EVM instruction values needed to walk
// deployed bytecode: the push family, which carries immediate data that
// must never be decoded as code, and the storage-range opcodes the
// scanner watches for.
package opcode

import (
	"fmt"
	"strconv"
	"strings"
)

// OpCode is a single-byte EVM instruction identifier.
type OpCode byte

const STOP OpCode = 0x00

// 0x50 range - 'storage' and execution.
const (
	POP OpCode = 0x50 + iota
	MLOAD
	MSTORE
	MSTORE8
	SLOAD
	SSTORE
	JUMP
	JUMPI
	PC
	MSIZE
	GAS
	JUMPDEST
	TLOAD  // EIP-1153 transient storage load
	TSTORE // EIP-1153 transient storage store
	MCOPY
)

// 0x5f range - pushes. PUSH0 has no immediate; PUSH1 through PUSH32 are
// followed by 1 to 32 bytes of literal data.
const (
	PUSH0 OpCode = 0x5f + iota
	PUSH1
	PUSH2
	PUSH3
	PUSH4
	PUSH5
	PUSH6
	PUSH7
	PUSH8
	PUSH9
	PUSH10
	PUSH11
	PUSH12
	PUSH13
	PUSH14
	PUSH15
	PUSH16
	PUSH17
	PUSH18
	PUSH19
	PUSH20
	PUSH21
	PUSH22
	PUSH23
	PUSH24
	PUSH25
	PUSH26
	PUSH27
	PUSH28
	PUSH29
	PUSH30
	PUSH31
	PUSH32
)

// IsPush reports whether op carries immediate data. PUSH0 pushes a
// constant zero and is deliberately excluded.
func (op OpCode) IsPush() bool {
	return PUSH1 <= op && op <= PUSH32
}

// PushDataSize returns the number of immediate-data bytes following op,
// 1 through 32 for PUSH1..PUSH32 and 0 for everything else.
func (op OpCode) PushDataSize() int {
	if !op.IsPush() {
		return 0
	}
	return int(op-PUSH1) + 1
}

var names = map[OpCode]string{
	STOP:     "STOP",
	POP:      "POP",
	MLOAD:    "MLOAD",
	MSTORE:   "MSTORE",
	MSTORE8:  "MSTORE8",
	SLOAD:    "SLOAD",
	SSTORE:   "SSTORE",
	JUMP:     "JUMP",
	JUMPI:    "JUMPI",
	PC:       "PC",
	MSIZE:    "MSIZE",
	GAS:      "GAS",
	JUMPDEST: "JUMPDEST",
	TLOAD:    "TLOAD",
	TSTORE:   "TSTORE",
	MCOPY:    "MCOPY",
	PUSH0:    "PUSH0",
}

func (op OpCode) String() string {
	if op.IsPush() {
		return fmt.Sprintf("PUSH%d", op.PushDataSize())
	}
	if name, ok := names[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode %#x", byte(op))
}

// Parse resolves a user-supplied opcode spelling: a known mnemonic such
// as "TSTORE" or a hex byte value such as "0x5d".
func Parse(s string) (OpCode, error) {
	for op, name := range names {
		if strings.EqualFold(name, s) {
			return op, nil
		}
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown opcode %q", s)
	}
	return OpCode(v), nil
}
