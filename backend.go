package btc

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/djschnei21/vault-plugin-btc-addresses/addresstype"
	"github.com/djschnei21/vault-plugin-btc-addresses/wallet"
)

// btcBackend defines the backend for the Bitcoin secrets engine
type btcBackend struct {
	*framework.Backend
	registry *addresstype.Registry
	resolver *addresstype.Resolver
}

// Factory creates a new backend instance
func Factory(ctx context.Context, conf *logical.BackendConfig) (logical.Backend, error) {
	b, err := backend()
	if err != nil {
		return nil, err
	}
	if err := b.Setup(ctx, conf); err != nil {
		return nil, err
	}
	return b, nil
}

func backend() (*btcBackend, error) {
	registry, err := newRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build address type registry: %w", err)
	}

	b := &btcBackend{
		registry: registry,
		resolver: addresstype.NewResolver(registry),
	}

	b.Backend = &framework.Backend{
		Help: strings.TrimSpace(backendHelp),
		PathsSpecial: &logical.Paths{
			SealWrapStorage: []string{
				"config",
				"wallets/*",
			},
		},
		Paths: framework.PathAppend(
			pathConfig(b),
			pathAddressTypes(b),
			pathResolve(b),
			pathWallets(b),
			pathWalletAddresses(b),
			pathWalletQR(b),
			pathWalletXpub(b),
			pathWalletSign(b),
		),
		Secrets:     []*framework.Secret{},
		BackendType: logical.TypeLogical,
	}

	return b, nil
}

// newRegistry binds each supported address type to its wallet functions
func newRegistry() (*addresstype.Registry, error) {
	return addresstype.NewRegistry(map[addresstype.Identifier]addresstype.Functions{
		addresstype.Legacy: {
			Address:   wallet.P2PKHAddress,
			SignInput: wallet.SignP2PKHInput,
			AddInput:  wallet.AddP2PKHInput,
		},
		addresstype.SegwitWrapped: {
			Address:   wallet.P2SHP2WPKHAddress,
			SignInput: wallet.SignP2SHP2WPKHInput,
			AddInput:  wallet.AddP2SHP2WPKHInput,
		},
		addresstype.SegwitNative: {
			Address:   wallet.P2WPKHAddress,
			SignInput: wallet.SignP2WPKHInput,
			AddInput:  wallet.AddP2WPKHInput,
		},
	})
}

// resolveDescriptor parses the purpose of path once and resolves it, logging
// when the purpose is not registered and the Legacy type is used instead
func (b *btcBackend) resolveDescriptor(path string) (addresstype.Descriptor, int, bool, error) {
	purpose, err := addresstype.ExtractPurpose(path)
	if err != nil {
		return addresstype.Descriptor{}, 0, false, err
	}

	d, ok := b.resolver.ResolvePurpose(purpose)
	if !ok {
		b.Logger().Warn("derivation path purpose not registered, using legacy address type", "derivation_path", path, "purpose", purpose)
	}
	return d, purpose, ok, nil
}

const backendHelp = `
The Bitcoin secrets engine manages HD wallets whose address type is selected
from the BIP44 purpose of each derivation path.

Supported address types:

  - P2PKH (legacy, m/44'/...)
  - P2SH-P2WPKH (segwit wrapped in P2SH, m/49'/...)
  - P2WPKH (native segwit, m/84'/...)

Paths with any other purpose fall back to legacy P2PKH behaviour.

Endpoints:
  btc/config                      - Network and default address type
  btc/address-types               - List/read supported address types
  btc/resolve                     - Resolve a derivation path to an address type
  btc/wallets                     - List/create/delete wallets
  btc/wallets/:name               - Wallet info
  btc/wallets/:name/addresses     - List/derive addresses
  btc/wallets/:name/qr            - QR code for a wallet address
  btc/wallets/:name/xpub          - Account extended public key and descriptor
  btc/wallets/:name/sign          - Build and sign a transaction offline
`
