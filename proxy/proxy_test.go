package proxy

import (
	"context"
	"encoding/hex"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves canned chain state. Unset storage slots read as zero
// words and unset calls fail, which is how detectors miss.
type fakeReader struct {
	code    map[common.Address][]byte
	storage map[common.Address]map[common.Hash][]byte
	calls   map[string][]byte
}

func callKey(to common.Address, data []byte) string {
	return to.Hex() + ":" + hex.EncodeToString(data)
}

func (f *fakeReader) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	return f.code[account], nil
}

func (f *fakeReader) StorageAt(_ context.Context, account common.Address, key common.Hash, _ *big.Int) ([]byte, error) {
	if slots, ok := f.storage[account]; ok {
		if word, ok := slots[key]; ok {
			return word, nil
		}
	}
	return make([]byte, 32), nil
}

func (f *fakeReader) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if result, ok := f.calls[callKey(*call.To, call.Data)]; ok {
		return result, nil
	}
	return nil, ethereum.NotFound
}

var (
	proxyAddr = common.HexToAddress("0x0000000000000000000000000000000000000aaa")
	implAddr  = common.HexToAddress("0x210ff9ced719e9bf2444dbc3670bac99342126fa")
)

func paddedAddress(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

// minimalProxyBytecode builds canonical EIP-1167 runtime code delegating to
// target.
func minimalProxyBytecode(target common.Address) []byte {
	code := "363d3d373d3d3d363d73" + hex.EncodeToString(target.Bytes()) + "5af43d82803e903d91602b57fd5bf3"
	return common.Hex2Bytes(code)
}

func TestDetectEIP1967Logic(t *testing.T) {
	reader := &fakeReader{
		storage: map[common.Address]map[common.Hash][]byte{
			proxyAddr: {common.HexToHash(eip1967LogicSlot): paddedAddress(implAddr)},
		},
	}

	info, err := Detect(context.Background(), reader, proxyAddr)
	require.NoError(t, err)
	assert.Equal(t, implAddr, info.Target)
	assert.Equal(t, KindEIP1967Direct, info.Kind)
	assert.False(t, info.Immutable)
}

func TestDetectEIP1967Beacon(t *testing.T) {
	beacon := common.HexToAddress("0x0000000000000000000000000000000000000bbb")
	reader := &fakeReader{
		storage: map[common.Address]map[common.Hash][]byte{
			proxyAddr: {common.HexToHash(eip1967BeaconSlot): paddedAddress(beacon)},
		},
		calls: map[string][]byte{
			callKey(beacon, common.FromHex(beaconImplementationCalls[0])): paddedAddress(implAddr),
		},
	}

	info, err := Detect(context.Background(), reader, proxyAddr)
	require.NoError(t, err)
	assert.Equal(t, implAddr, info.Target)
	assert.Equal(t, KindEIP1967Beacon, info.Kind)
}

func TestDetectOpenZeppelinSlot(t *testing.T) {
	reader := &fakeReader{
		storage: map[common.Address]map[common.Hash][]byte{
			proxyAddr: {common.HexToHash(openZeppelinSlot): paddedAddress(implAddr)},
		},
	}

	info, err := Detect(context.Background(), reader, proxyAddr)
	require.NoError(t, err)
	assert.Equal(t, implAddr, info.Target)
	assert.Equal(t, KindOpenZeppelin, info.Kind)
}

func TestDetectEIP1822Slot(t *testing.T) {
	reader := &fakeReader{
		storage: map[common.Address]map[common.Hash][]byte{
			proxyAddr: {common.HexToHash(eip1822LogicSlot): paddedAddress(implAddr)},
		},
	}

	info, err := Detect(context.Background(), reader, proxyAddr)
	require.NoError(t, err)
	assert.Equal(t, implAddr, info.Target)
	assert.Equal(t, KindEIP1822, info.Kind)
}

func TestDetectSafeProxyInterfaceCall(t *testing.T) {
	reader := &fakeReader{
		calls: map[string][]byte{
			callKey(proxyAddr, common.FromHex(safeProxyCall)): paddedAddress(implAddr),
		},
	}

	info, err := Detect(context.Background(), reader, proxyAddr)
	require.NoError(t, err)
	assert.Equal(t, implAddr, info.Target)
	assert.Equal(t, KindInterfaceCall, info.Kind)
}

func TestDetectMinimalProxyBytecode(t *testing.T) {
	reader := &fakeReader{
		code: map[common.Address][]byte{proxyAddr: minimalProxyBytecode(implAddr)},
	}

	info, err := Detect(context.Background(), reader, proxyAddr)
	require.NoError(t, err)
	assert.Equal(t, implAddr, info.Target)
	assert.Equal(t, KindEIP1167, info.Kind)
	assert.True(t, info.Immutable)
}

func TestDetectNoProxy(t *testing.T) {
	_, err := Detect(context.Background(), &fakeReader{}, proxyAddr)
	assert.ErrorIs(t, err, ErrNoProxy)
}

func TestParseMinimalProxy(t *testing.T) {
	info, err := parseMinimalProxy(minimalProxyBytecode(implAddr))
	require.NoError(t, err)
	assert.Equal(t, implAddr, info.Target)
	assert.True(t, info.Immutable)
}

func TestParseMinimalProxyRejectsOtherBytecode(t *testing.T) {
	_, err := parseMinimalProxy(common.Hex2Bytes("6080604052"))
	assert.Error(t, err)

	// Right prefix, truncated body.
	_, err = parseMinimalProxy(common.Hex2Bytes("363d3d373d3d3d363d73"))
	assert.Error(t, err)

	_, err = parseMinimalProxy(nil)
	assert.Error(t, err)
}

func TestDetectProxyOnChain(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	rpcURL := os.Getenv("ETH_RPC_URL")
	if rpcURL == "" {
		t.Skip("Skipping test: ETH_RPC_URL not set")
	}

	client, err := ethclient.Dial(rpcURL)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// USDC, an EIP-1967 proxy on mainnet.
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	info, err := Detect(ctx, client, usdc)
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, info.Target)
}
