// Package proxy resolves the implementation address behind the common
// Ethereum proxy patterns: EIP-1167 minimal proxies, EIP-1967 logic and
// beacon slots, EIP-1822, the legacy OpenZeppelin slot, and proxies that
// expose their target through an interface call.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

const (
	eip1967LogicSlot  = "0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc"
	eip1967BeaconSlot = "0xa3f0ad74e5423aebfd80d3ef4346578335a9a72aeaee59ff6cb3582b35133d50"
	eip1822LogicSlot  = "0xc5f16f0fcc639fa48a6947836d9850f504798523bf8c9a3a87d5876cf622bcf7"
	openZeppelinSlot  = "0x7050c9e0f4ca769c69bd3a8ef740bc37934f8e2c036e5a723fd8ee048ed3f8c3"

	eip1167Prefix = "363d3d373d3d3d363d"
	eip1167Suffix = "57fd5bf3"
)

var (
	beaconImplementationCalls = []string{
		"0x5c60da1b00000000000000000000000000000000000000000000000000000000", // implementation()
		"0xda52571600000000000000000000000000000000000000000000000000000000", // childImplementation()
	}
	eip897Call      = "0x5c60da1b00000000000000000000000000000000000000000000000000000000" // implementation()
	safeProxyCall   = "0xa619486e00000000000000000000000000000000000000000000000000000000" // masterCopy()
	comptrollerCall = "0xbb82aa5e00000000000000000000000000000000000000000000000000000000" // comptrollerImplementation()
)

// ErrNoProxy is returned by Detect when no detection strategy matched.
var ErrNoProxy = errors.New("no proxy target detected")

// Kind names the proxy pattern that produced a detection.
type Kind string

const (
	KindEIP1167       Kind = "Eip1167"
	KindEIP1967Direct Kind = "Eip1967Direct"
	KindEIP1967Beacon Kind = "Eip1967Beacon"
	KindEIP1822       Kind = "Eip1822"
	KindOpenZeppelin  Kind = "OpenZeppelin"
	KindInterfaceCall Kind = "InterfaceCall"
)

// Info describes a detected proxy target.
type Info struct {
	Target    common.Address
	Immutable bool
	Kind      Kind
}

// ChainReader is the subset of an Ethereum client the detector needs.
// *ethclient.Client satisfies it.
type ChainReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Detect probes address with every known strategy concurrently and returns
// the first hit. When nothing matches it returns ErrNoProxy.
func Detect(ctx context.Context, reader ChainReader, address common.Address) (*Info, error) {
	d := &detector{reader: reader, address: address}

	strategies := []func(context.Context) (*Info, error){
		d.fromBytecode,
		d.fromEIP1967Logic,
		d.fromEIP1967Beacon,
		d.fromOpenZeppelinSlot,
		d.fromEIP1822Logic,
		d.fromInterfaceCall(eip897Call),
		d.fromInterfaceCall(safeProxyCall),
		d.fromInterfaceCall(comptrollerCall),
	}

	hits := make(chan *Info, len(strategies))
	misses := make(chan error, len(strategies))
	for _, probe := range strategies {
		go func(probe func(context.Context) (*Info, error)) {
			info, err := probe(ctx)
			if err != nil {
				misses <- err
				return
			}
			hits <- info
		}(probe)
	}

	for range strategies {
		select {
		case info := <-hits:
			return info, nil
		case <-misses:
			// A miss from one strategy is expected; keep waiting.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, ErrNoProxy
}

type detector struct {
	reader  ChainReader
	address common.Address
}

func (d *detector) fromBytecode(ctx context.Context) (*Info, error) {
	bytecode, err := d.reader.CodeAt(ctx, d.address, nil)
	if err != nil {
		return nil, err
	}
	return parseMinimalProxy(bytecode)
}

func (d *detector) fromEIP1967Logic(ctx context.Context) (*Info, error) {
	return d.fromStorageSlot(ctx, eip1967LogicSlot, KindEIP1967Direct)
}

func (d *detector) fromEIP1822Logic(ctx context.Context) (*Info, error) {
	return d.fromStorageSlot(ctx, eip1822LogicSlot, KindEIP1822)
}

func (d *detector) fromOpenZeppelinSlot(ctx context.Context) (*Info, error) {
	return d.fromStorageSlot(ctx, openZeppelinSlot, KindOpenZeppelin)
}

func (d *detector) fromStorageSlot(ctx context.Context, slot string, kind Kind) (*Info, error) {
	word, err := d.reader.StorageAt(ctx, d.address, common.HexToHash(slot), nil)
	if err != nil {
		return nil, err
	}
	if isZeroWord(word) {
		return nil, fmt.Errorf("empty storage slot %s", slot)
	}
	return &Info{Target: common.BytesToAddress(word), Kind: kind}, nil
}

// fromEIP1967Beacon reads the beacon address from its slot, then asks the
// beacon contract for the implementation.
func (d *detector) fromEIP1967Beacon(ctx context.Context) (*Info, error) {
	word, err := d.reader.StorageAt(ctx, d.address, common.HexToHash(eip1967BeaconSlot), nil)
	if err != nil {
		return nil, err
	}
	if isZeroWord(word) {
		return nil, fmt.Errorf("empty beacon slot")
	}
	beacon := common.BytesToAddress(word)
	for _, call := range beaconImplementationCalls {
		data, err := d.reader.CallContract(ctx, ethereum.CallMsg{To: &beacon, Data: common.FromHex(call)}, nil)
		if err == nil && len(data) >= 32 && !isZeroWord(data) {
			return &Info{Target: common.BytesToAddress(data[12:32]), Kind: KindEIP1967Beacon}, nil
		}
	}
	return nil, fmt.Errorf("beacon at %s exposes no implementation", beacon.Hex())
}

func (d *detector) fromInterfaceCall(calldata string) func(context.Context) (*Info, error) {
	return func(ctx context.Context) (*Info, error) {
		result, err := d.reader.CallContract(ctx, ethereum.CallMsg{To: &d.address, Data: common.FromHex(calldata)}, nil)
		if err != nil {
			return nil, err
		}
		if len(result) < 32 || isZeroWord(result[:32]) {
			return nil, fmt.Errorf("interface call returned no address")
		}
		return &Info{Target: common.BytesToAddress(result[12:32]), Kind: KindInterfaceCall}, nil
	}
}

func isZeroWord(word []byte) bool {
	return new(big.Int).SetBytes(word).Sign() == 0
}

// parseMinimalProxy extracts the delegation target out of EIP-1167 runtime
// bytecode. The address is embedded between a fixed prefix and suffix; its
// length is encoded in the PUSH opcode that precedes it.
func parseMinimalProxy(bytecode []byte) (*Info, error) {
	code := common.Bytes2Hex(bytecode)
	if !strings.HasPrefix(code, eip1167Prefix) {
		return nil, fmt.Errorf("not EIP-1167 bytecode")
	}
	if len(code) < len(eip1167Prefix)+2 {
		return nil, fmt.Errorf("truncated EIP-1167 bytecode")
	}

	push := code[len(eip1167Prefix) : len(eip1167Prefix)+2]
	addressLength := int(new(big.Int).SetBytes(common.FromHex(push)).Int64()) - 0x5f
	if addressLength < 1 || addressLength > 20 {
		return nil, fmt.Errorf("invalid address length in EIP-1167 bytecode")
	}

	addressStart := len(eip1167Prefix) + 2
	if len(code) < addressStart+addressLength*2 {
		return nil, fmt.Errorf("truncated EIP-1167 bytecode")
	}
	addressHex := code[addressStart : addressStart+addressLength*2]

	suffixStart := addressStart + addressLength*2 + 22
	if len(code) < suffixStart+len(eip1167Suffix) || !strings.HasSuffix(code[suffixStart:], eip1167Suffix) {
		return nil, fmt.Errorf("invalid EIP-1167 bytecode suffix")
	}

	return &Info{
		Target:    common.HexToAddress(addressHex),
		Immutable: true,
		Kind:      KindEIP1167,
	}, nil
}
