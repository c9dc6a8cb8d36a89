// Package report turns classification results into human-readable tables
// and machine-readable JSON, the two output forms the research workflow
// consumes.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/quillsec/tsscan/scan"
)

// OpcodeCount is one watched opcode's tally within a Result.
type OpcodeCount struct {
	Opcode  string `json:"opcode"`
	Count   int    `json:"count"`
	Offsets []int  `json:"offsets,omitempty"`
}

// Result is the serializable outcome for one contract. Either Err is set
// or the classification fields are.
type Result struct {
	Address   string        `json:"address,omitempty"`
	CodeSize  int           `json:"bytecode_size"`
	Truncated bool          `json:"truncated_tail,omitempty"`
	Opcodes   []OpcodeCount `json:"opcodes"`
	Found     bool          `json:"found"`
	Err       string        `json:"error,omitempty"`
}

// New converts a classification report into a Result. The opcode order
// follows the report's watch set.
func New(address string, rep *scan.Report) Result {
	res := Result{
		Address:   address,
		CodeSize:  rep.CodeSize,
		Truncated: rep.Truncated,
		Found:     rep.Found(),
	}
	for _, op := range rep.Watched() {
		oc := OpcodeCount{Opcode: op.String(), Count: rep.Count(op)}
		for _, occ := range rep.Occurrences(op) {
			oc.Offsets = append(oc.Offsets, occ.Offset)
		}
		res.Opcodes = append(res.Opcodes, oc)
	}
	return res
}

// Failed records an address whose bytecode could not be fetched.
func Failed(address string, err error) Result {
	return Result{Address: address, Err: err.Error()}
}

// maxShownOffsets caps the offsets column so a hot contract doesn't
// produce an unreadable table row.
const maxShownOffsets = 8

func formatOffsets(offsets []int) string {
	if len(offsets) == 0 {
		return "-"
	}
	shown := offsets
	if len(shown) > maxShownOffsets {
		shown = shown[:maxShownOffsets]
	}
	parts := make([]string, len(shown))
	for i, off := range shown {
		parts[i] = fmt.Sprintf("%#x", off)
	}
	s := strings.Join(parts, " ")
	if rest := len(offsets) - len(shown); rest > 0 {
		s += fmt.Sprintf(" (+%d more)", rest)
	}
	return s
}

// Render writes one result as a table with a colored verdict line.
func Render(w io.Writer, res Result) {
	if res.Err != "" {
		fmt.Fprintf(w, "%s: %s\n", res.Address, color.RedString("error: %s", res.Err))
		return
	}
	if res.Address != "" {
		fmt.Fprintf(w, "Contract:  %s\n", res.Address)
	}
	fmt.Fprintf(w, "Code size: %d bytes\n", res.CodeSize)
	if res.Truncated {
		fmt.Fprintln(w, "Note: code ends mid-push, trailing bytes treated as data")
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Opcode", "Count", "Offsets"})
	for _, oc := range res.Opcodes {
		table.Append([]string{oc.Opcode, strconv.Itoa(oc.Count), formatOffsets(oc.Offsets)})
	}
	table.Render()

	verdict := color.GreenString("NOT FOUND")
	if res.Found {
		verdict = color.New(color.FgYellow, color.Bold).Sprint("FOUND")
	}
	fmt.Fprintf(w, "Watched opcodes in instruction stream: %s\n", verdict)
}

// Summary aggregates a batch run.
type Summary struct {
	Total   int     `json:"total_contracts"`
	Matched int     `json:"contracts_with_match"`
	Failed  int     `json:"failed"`
	Rate    float64 `json:"match_rate"`
}

// Summarize computes the batch summary over results. The match rate is
// taken over successfully scanned contracts.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, res := range results {
		switch {
		case res.Err != "":
			s.Failed++
		case res.Found:
			s.Matched++
		}
	}
	if scanned := s.Total - s.Failed; scanned > 0 {
		s.Rate = float64(s.Matched) / float64(scanned)
	}
	return s
}

// RenderSummary writes the batch summary table.
func RenderSummary(w io.Writer, s Summary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Total", "With Match", "Failed", "Match Rate"})
	table.Append([]string{
		strconv.Itoa(s.Total),
		strconv.Itoa(s.Matched),
		strconv.Itoa(s.Failed),
		fmt.Sprintf("%.1f%%", s.Rate*100),
	})
	table.Render()
}

// WriteJSON exports results and their summary to path.
func WriteJSON(path string, results []Result) error {
	out := struct {
		Results []Result `json:"results"`
		Summary Summary  `json:"summary"`
	}{Results: results, Summary: Summarize(results)}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
