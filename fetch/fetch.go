// Package fetch pulls deployed contract bytecode from an Ethereum RPC
// endpoint. Fetching is the scanner's only network dependency; the
// classifier itself never touches the wire.
package fetch

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// CodeReader is the subset of an Ethereum client the fetcher needs.
// *ethclient.Client satisfies it.
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Fetcher retrieves deployed bytecode for contract addresses.
type Fetcher struct {
	client CodeReader
}

// New returns a Fetcher backed by the given client.
func New(client CodeReader) *Fetcher {
	return &Fetcher{client: client}
}

// DialContext connects to the given RPC endpoint. http, https, ws, wss
// and ipc URLs are supported.
func DialContext(ctx context.Context, rawurl string) (*Fetcher, error) {
	client, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", rawurl, err)
	}
	return New(client), nil
}

// Code fetches the deployed bytecode of addr at the latest block. A
// zero-length result means the account has no code; callers treat that
// as a valid empty input, not an error.
func (f *Fetcher) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := f.client.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching code for %s: %w", addr.Hex(), err)
	}
	return code, nil
}

// Endpoint resolves the RPC endpoint to use: the explicit value if set,
// then RPC_URL, then a mainnet Alchemy URL built from RPC_API_KEY or
// ALCHEMY_API_KEY.
func Endpoint(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if url := os.Getenv("RPC_URL"); url != "" {
		return url, nil
	}
	key := os.Getenv("RPC_API_KEY")
	if key == "" {
		key = os.Getenv("ALCHEMY_API_KEY")
	}
	if key == "" {
		return "", fmt.Errorf("no RPC endpoint: pass --rpc or set RPC_URL, RPC_API_KEY or ALCHEMY_API_KEY")
	}
	return "https://eth-mainnet.g.alchemy.com/v2/" + key, nil
}
