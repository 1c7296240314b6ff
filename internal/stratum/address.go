package stratum

import (
	"fmt"
	"strings"

	"github.com/radiant-proxy/rxdproxy/internal/bitcoinserial"
)

// mainnetVersions and testnetVersions are the legacy P2PKH/P2SH version
// bytes Radiant inherited from Bitcoin.
var (
	mainnetVersions = map[byte]struct{}{0: {}, 5: {}}
	testnetVersions = map[byte]struct{}{111: {}, 196: {}}
)

// decodePayoutHash160 decodes the address portion of a worker login
// (everything before the first '.') into a 20-byte P2PKH hash160,
// rejecting any version byte that doesn't belong to the active network.
func decodePayoutHash160(worker string, testnet bool) ([]byte, error) {
	addr := worker
	if idx := strings.IndexByte(worker, '.'); idx >= 0 {
		addr = worker[:idx]
	}

	version, payload, err := bitcoinserial.Base58CheckDecode(addr)
	if err != nil {
		return nil, fmt.Errorf("address validation failed: %s: %w", addr, err)
	}

	versions := mainnetVersions
	network := "mainnet"
	if testnet {
		versions, network = testnetVersions, "testnet"
	}
	if _, ok := versions[version]; !ok {
		return nil, fmt.Errorf("invalid %s address version for %s", network, addr)
	}
	if len(payload) != 20 {
		return nil, fmt.Errorf("invalid address hash length: %s", addr)
	}
	return payload, nil
}
