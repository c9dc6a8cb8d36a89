// tsscan detects EIP-1153 transient storage usage in deployed contracts
// by walking their bytecode as an instruction stream, so that TLOAD and
// TSTORE byte values hidden inside push immediates are not miscounted as
// real instructions.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/quillsec/tsscan/fetch"
	"github.com/quillsec/tsscan/opcode"
	"github.com/quillsec/tsscan/report"
	"github.com/quillsec/tsscan/scan"
)

var (
	rpcFlag = &cli.StringFlag{
		Name:  "rpc",
		Usage: "rpc endpoint; falls back to RPC_URL, then to an Alchemy mainnet URL built from RPC_API_KEY or ALCHEMY_API_KEY",
	}
	batchFlag = &cli.StringFlag{
		Name:  "batch",
		Usage: "file with one contract address per line, '#' starts a comment",
	}
	codeFlag = &cli.StringFlag{
		Name:  "code",
		Usage: "classify the given bytecode hex directly, no rpc needed",
	}
	opcodesFlag = &cli.StringFlag{
		Name:  "opcodes",
		Value: "TLOAD,TSTORE",
		Usage: "comma separated watch set, mnemonics or hex byte values like 0x5d",
	}
	jsonFlag = &cli.StringFlag{
		Name:  "json",
		Usage: "export results to the given file as JSON",
	}
	jobsFlag = &cli.IntFlag{
		Name:  "jobs",
		Value: 8,
		Usage: "max concurrent bytecode fetches in batch mode",
	}
)

func main() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	app := &cli.App{
		Name:      "tsscan",
		Usage:     "scan deployed EVM bytecode for transient storage opcodes",
		ArgsUsage: "[contract address]",
		Flags: []cli.Flag{
			rpcFlag,
			batchFlag,
			codeFlag,
			opcodesFlag,
			jsonFlag,
			jobsFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	watched, err := parseWatchSet(ctx.String(opcodesFlag.Name))
	if err != nil {
		return err
	}

	var results []report.Result
	if raw := ctx.String(codeFlag.Name); raw != "" {
		code, err := scan.ParseBytecode(raw)
		if err != nil {
			return err
		}
		results = []report.Result{report.New("", scan.Classify(code, watched...))}
	} else {
		addresses, err := resolveAddresses(ctx)
		if err != nil {
			return err
		}
		endpoint, err := fetch.Endpoint(ctx.String(rpcFlag.Name))
		if err != nil {
			return err
		}
		fetcher, err := fetch.DialContext(ctx.Context, endpoint)
		if err != nil {
			return err
		}
		results = scanAll(ctx.Context, fetcher, addresses, watched, ctx.Int(jobsFlag.Name))
	}

	for i, res := range results {
		if i > 0 {
			fmt.Println()
		}
		report.Render(os.Stdout, res)
	}
	if len(results) > 1 {
		fmt.Println()
		report.RenderSummary(os.Stdout, report.Summarize(results))
	}
	if path := ctx.String(jsonFlag.Name); path != "" {
		if err := report.WriteJSON(path, results); err != nil {
			return fmt.Errorf("exporting results: %w", err)
		}
		log.Info("Results exported", "path", path)
	}
	return nil
}

// scanAll fetches and classifies all addresses with bounded concurrency.
// Fetch failures become error rows rather than aborting the batch;
// results keep the input order.
func scanAll(ctx context.Context, fetcher *fetch.Fetcher, addresses []common.Address, watched []opcode.OpCode, jobs int) []report.Result {
	results := make([]report.Result, len(addresses))
	var g errgroup.Group
	g.SetLimit(jobs)
	for i, addr := range addresses {
		i, addr := i, addr
		g.Go(func() error {
			log.Info("Scanning contract", "address", addr)
			code, err := fetcher.Code(ctx, addr)
			if err != nil {
				log.Warn("Bytecode fetch failed", "address", addr, "err", err)
				results[i] = report.Failed(addr.Hex(), err)
				return nil
			}
			results[i] = report.New(addr.Hex(), scan.Classify(code, watched...))
			return nil
		})
	}
	g.Wait()
	return results
}

func resolveAddresses(ctx *cli.Context) ([]common.Address, error) {
	if file := ctx.String(batchFlag.Name); file != "" {
		return readAddressFile(file)
	}
	if ctx.NArg() != 1 {
		return nil, fmt.Errorf("expected one contract address, or --batch / --code")
	}
	return parseAddresses([]string{ctx.Args().First()})
}

func readAddressFile(path string) ([]common.Address, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no addresses in %s", path)
	}
	return parseAddresses(lines)
}

func parseAddresses(raw []string) ([]common.Address, error) {
	addresses := make([]common.Address, len(raw))
	for i, s := range raw {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid contract address %q", s)
		}
		addresses[i] = common.HexToAddress(s)
	}
	return addresses, nil
}

func parseWatchSet(s string) ([]opcode.OpCode, error) {
	var watched []opcode.OpCode
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		op, err := opcode.Parse(part)
		if err != nil {
			return nil, err
		}
		watched = append(watched, op)
	}
	if len(watched) == 0 {
		return nil, fmt.Errorf("empty watch set (--opcodes)")
	}
	return watched, nil
}
