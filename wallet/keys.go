package wallet

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// SeedLength is the recommended seed length (256 bits)
	SeedLength = 32

	// BIP44Purpose is the purpose for legacy addresses (P2PKH)
	BIP44Purpose = 44

	// BIP49Purpose is the purpose for SegWit nested in P2SH (P2SH-P2WPKH)
	BIP49Purpose = 49

	// BIP84Purpose is the purpose for native SegWit (P2WPKH)
	BIP84Purpose = 84

	// CoinTypeBitcoin is the coin type for Bitcoin mainnet
	CoinTypeBitcoin = 0

	// CoinTypeBitcoinTestnet is the coin type for Bitcoin testnet
	CoinTypeBitcoinTestnet = 1
)

// NetworkParams returns the chain configuration for the given network name
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet4":
		// Testnet4 uses same address format as testnet3 (tb1... addresses)
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network: %s (supported: mainnet, testnet4, signet)", network)
	}
}

// CoinType returns the BIP44 coin type for the network
func CoinType(network string) uint32 {
	if network == "testnet4" || network == "signet" {
		return CoinTypeBitcoinTestnet
	}
	return CoinTypeBitcoin
}

// GenerateSeed creates a cryptographically secure random seed
func GenerateSeed() ([]byte, error) {
	seed := make([]byte, SeedLength)
	n, err := rand.Read(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to generate seed: %w", err)
	}
	if n != SeedLength {
		return nil, fmt.Errorf("insufficient random bytes: got %d, need %d", n, SeedLength)
	}
	return seed, nil
}

// ErrInvalidDerivationPath is returned for paths that cannot be used for key derivation
var ErrInvalidDerivationPath = errors.New("invalid derivation path")

// ParseDerivationPath converts a BIP32 path such as m/84'/0'/0'/0/5 into child
// indexes. Hardened segments may be marked with ', h or H.
func ParseDerivationPath(path string) ([]uint32, error) {
	segments := strings.Split(path, "/")
	if len(segments) == 0 || (segments[0] != "m" && segments[0] != "M") {
		return nil, fmt.Errorf("%w: %q must start with m", ErrInvalidDerivationPath, path)
	}

	indexes := make([]uint32, 0, len(segments)-1)
	for _, segment := range segments[1:] {
		hardened := false
		if n := len(segment); n > 0 && (segment[n-1] == '\'' || segment[n-1] == 'h' || segment[n-1] == 'H') {
			hardened = true
			segment = segment[:n-1]
		}

		value, err := strconv.ParseUint(segment, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid segment %q in %q", ErrInvalidDerivationPath, segment, path)
		}
		if value >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: segment %q in %q is out of range", ErrInvalidDerivationPath, segment, path)
		}

		index := uint32(value)
		if hardened {
			index += hdkeychain.HardenedKeyStart
		}
		indexes = append(indexes, index)
	}

	return indexes, nil
}

// DeriveKeyAtPath derives the extended private key at a BIP32 path from a seed
func DeriveKeyAtPath(seed []byte, network string, path string) (*hdkeychain.ExtendedKey, error) {
	params, err := NetworkParams(network)
	if err != nil {
		return nil, err
	}

	indexes, err := ParseDerivationPath(path)
	if err != nil {
		return nil, err
	}

	key, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	for depth, index := range indexes {
		key, err = key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key at depth %d: %w", depth+1, err)
		}
	}

	return key, nil
}

// DerivationPathForPurpose returns the derivation path for an address
// Path: m/purpose'/coin_type'/account'/change/index
func DerivationPathForPurpose(purpose uint32, network string, account, change, index uint32) string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", purpose, CoinType(network), account, change, index)
}

// GetPrivateKey extracts the EC private key from an extended key
func GetPrivateKey(key *hdkeychain.ExtendedKey) (*btcec.PrivateKey, error) {
	if !key.IsPrivate() {
		return nil, fmt.Errorf("extended key is not private")
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get EC private key: %w", err)
	}

	return privKey, nil
}

// GetPublicKey extracts the EC public key from an extended key
func GetPublicKey(key *hdkeychain.ExtendedKey) (*btcec.PublicKey, error) {
	pubKey, err := key.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get EC public key: %w", err)
	}

	return pubKey, nil
}
