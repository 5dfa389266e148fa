package wallet

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

type keyVersion struct {
	mainnet     [4]byte
	testnet     [4]byte
	mainnetName string
	testnetName string
}

// SLIP-0132 version bytes for account extended public keys
var slip132Versions = map[uint32]keyVersion{
	BIP44Purpose: {[4]byte{0x04, 0x88, 0xb2, 0x1e}, [4]byte{0x04, 0x35, 0x87, 0xcf}, "xpub", "tpub"},
	BIP49Purpose: {[4]byte{0x04, 0x9d, 0x7c, 0xb2}, [4]byte{0x04, 0x4a, 0x52, 0x62}, "ypub", "upub"},
	BIP84Purpose: {[4]byte{0x04, 0xb2, 0x47, 0x46}, [4]byte{0x04, 0x5f, 0x1c, 0xf6}, "zpub", "vpub"},
}

// AccountKey is the account-level public key of a purpose for watch-only import
type AccountKey struct {
	DerivationPath string
	// Fingerprint is the hex fingerprint of the master key
	Fingerprint string
	// ExtendedKey carries the network's standard xpub/tpub version, as used in output descriptors
	ExtendedKey string
	// SLIP132Key carries the purpose-specific version; it equals ExtendedKey when none is defined
	SLIP132Key string
	Format     string
}

// GetAccountKey derives the account extended public key at m/purpose'/coin'/account'
func GetAccountKey(seed []byte, network string, purpose, account uint32) (*AccountKey, error) {
	params, err := NetworkParams(network)
	if err != nil {
		return nil, err
	}

	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	masterPub, err := master.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get master public key: %w", err)
	}

	path := fmt.Sprintf("m/%d'/%d'/%d'", purpose, CoinType(network), account)
	key, err := DeriveKeyAtPath(seed, network, path)
	if err != nil {
		return nil, err
	}

	pub, err := key.Neuter()
	if err != nil {
		return nil, fmt.Errorf("failed to neuter account key: %w", err)
	}

	out := &AccountKey{
		DerivationPath: path,
		Fingerprint:    hex.EncodeToString(btcutil.Hash160(masterPub.SerializeCompressed())[:4]),
		ExtendedKey:    pub.String(),
		SLIP132Key:     pub.String(),
		Format:         "xpub",
	}
	if network != "mainnet" {
		out.Format = "tpub"
	}

	versions, ok := slip132Versions[purpose]
	if !ok {
		return out, nil
	}

	version, name := versions.mainnet, versions.mainnetName
	if network != "mainnet" {
		version, name = versions.testnet, versions.testnetName
	}

	converted, err := pub.CloneWithVersion(version[:])
	if err != nil {
		return nil, fmt.Errorf("failed to convert to SLIP-0132: %w", err)
	}

	out.SLIP132Key = converted.String()
	out.Format = name
	return out, nil
}
