package scan

import (
	"encoding/hex"
	"reflect"
	"testing"

	"github.com/quillsec/tsscan/opcode"
)

func hexCode(t *testing.T, s string) []byte {
	t.Helper()
	code, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad test bytecode %q: %v", s, err)
	}
	return code
}

func TestClassifyPushDataNotCounted(t *testing.T) {
	// PUSH1 0x5d STOP: the 0x5d byte is immediate data, not TSTORE.
	r := Classify(hexCode(t, "605d00"), opcode.TSTORE)
	if r.Found() {
		t.Fatal("push immediate misclassified as TSTORE instruction")
	}
	if got := r.Count(opcode.TSTORE); got != 0 {
		t.Errorf("TSTORE count: got %d, want 0", got)
	}
	if r.CodeSize != 3 {
		t.Errorf("code size: got %d, want 3", r.CodeSize)
	}
}

func TestClassifyGenuineInstruction(t *testing.T) {
	// TSTORE STOP: 0x5d at offset 0 is a real instruction.
	r := Classify(hexCode(t, "5d00"), opcode.TSTORE)
	if !r.Found() {
		t.Fatal("genuine TSTORE instruction not found")
	}
	want := []Occurrence{{Op: opcode.TSTORE, Offset: 0}}
	if got := r.Occurrences(opcode.TSTORE); !reflect.DeepEqual(got, want) {
		t.Errorf("occurrences: got %v, want %v", got, want)
	}
}

func TestClassifyMultiBytePushData(t *testing.T) {
	// PUSH2 0x5d5c STOP: both watched bytes are immediate data.
	r := Classify(hexCode(t, "615d5c00"), opcode.TSTORE, opcode.TLOAD)
	if r.Found() {
		t.Fatal("PUSH2 immediate misclassified as instructions")
	}
	for _, op := range []opcode.OpCode{opcode.TSTORE, opcode.TLOAD} {
		if got := r.Count(op); got != 0 {
			t.Errorf("%v count: got %d, want 0", op, got)
		}
	}
}

func TestClassifyTruncatedPush(t *testing.T) {
	// TLOAD, then PUSH4 with only two immediate bytes left. The walk must
	// stop without error, keep the TLOAD at offset 0 and not decode the
	// dangling 0x5d bytes.
	r := Classify(hexCode(t, "5c635d5d"), opcode.TLOAD, opcode.TSTORE)
	if !r.Truncated {
		t.Fatal("truncated trailing push not flagged")
	}
	if got := r.Count(opcode.TLOAD); got != 1 {
		t.Errorf("TLOAD count: got %d, want 1", got)
	}
	if got := r.Count(opcode.TSTORE); got != 0 {
		t.Errorf("TSTORE count in truncated tail: got %d, want 0", got)
	}
}

func TestClassifyEmptyCode(t *testing.T) {
	r := Classify(nil, opcode.TLOAD, opcode.TSTORE)
	if r.Found() || r.CodeSize != 0 || r.Truncated {
		t.Errorf("empty code: got found=%v size=%d truncated=%v", r.Found(), r.CodeSize, r.Truncated)
	}
}

func TestClassifyWatchSetIsConfigurable(t *testing.T) {
	// JUMPDEST SLOAD PUSH1 0x54 SLOAD: two genuine SLOADs, one decoy in
	// push data.
	r := Classify(hexCode(t, "5b54605454"), opcode.SLOAD)
	if got := r.Count(opcode.SLOAD); got != 2 {
		t.Errorf("SLOAD count: got %d, want 2", got)
	}
	want := []Occurrence{{Op: opcode.SLOAD, Offset: 1}, {Op: opcode.SLOAD, Offset: 4}}
	if got := r.Occurrences(opcode.SLOAD); !reflect.DeepEqual(got, want) {
		t.Errorf("occurrences: got %v, want %v", got, want)
	}
}

func TestClassifyPush20Decoys(t *testing.T) {
	// An address-sized immediate stuffed with 0x5d/0x5c bytes, then one
	// real TSTORE. Substring counting would report 21 hits.
	code := append([]byte{byte(opcode.PUSH20)}, make([]byte, 20)...)
	for i := 1; i <= 20; i++ {
		code[i] = byte(opcode.TSTORE)
	}
	code = append(code, byte(opcode.TSTORE), byte(opcode.STOP))
	r := Classify(code, opcode.TSTORE)
	if got := r.Count(opcode.TSTORE); got != 1 {
		t.Errorf("TSTORE count: got %d, want 1", got)
	}
	if got := r.Occurrences(opcode.TSTORE)[0].Offset; got != 21 {
		t.Errorf("TSTORE offset: got %d, want 21", got)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	code := hexCode(t, "5b605d615c5c5d5c00")
	a := Classify(code, opcode.TLOAD, opcode.TSTORE)
	b := Classify(code, opcode.TLOAD, opcode.TSTORE)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("reports differ between runs: %+v vs %+v", a, b)
	}
}

// TestWalkPartition checks the walk invariant: instruction starts and
// immediate data bytes partition [0, len) with no gap and no overlap.
func TestWalkPartition(t *testing.T) {
	codes := []string{
		"",
		"00",
		"605d00",
		"615d5c00",
		"7f5d5c5d5c5d5c5d5c5d5c5d5c5d5c5d5c5d5c5d5c5d5c5d5c5d5c5d5c5d5c5d5c00", // PUSH32 full of decoys
		"5b5b5b60ff61ffff62ffffff5b",
		"635d5d", // truncated PUSH4
	}
	for _, s := range codes {
		code := hexCode(t, s)
		bits, _ := dataBitmap(code)

		// Reference walk: advance pc by 1 + immediate size and collect
		// instruction start offsets.
		starts := map[int]bool{}
		for pc := 0; pc < len(code); {
			starts[pc] = true
			pc += 1 + opcode.OpCode(code[pc]).PushDataSize()
		}
		for pos := 0; pos < len(code); pos++ {
			if starts[pos] == bits.isData(pos) {
				t.Errorf("code %q: position %d is start=%v but data=%v", s, pos, starts[pos], bits.isData(pos))
			}
		}
	}
}

func TestParseBytecode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "605d00", want: "605d00"},
		{in: "0x605d00", want: "605d00"},
		{in: "0x", want: ""},
		{in: "", want: ""},
		{in: "  0x5d00\n", want: "5d00"},
		{in: "0xzz", wantErr: true},
		{in: "605", wantErr: true}, // odd length
	}
	for _, tt := range tests {
		code, err := ParseBytecode(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseBytecode(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseBytecode(%q): %v", tt.in, err)
			continue
		}
		if got := hex.EncodeToString(code); got != tt.want {
			t.Errorf("ParseBytecode(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
