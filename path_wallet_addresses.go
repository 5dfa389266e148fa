package btc

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/djschnei21/vault-plugin-btc-addresses/addresstype"
	"github.com/djschnei21/vault-plugin-btc-addresses/wallet"
)

const maxAddressCount = 100

func pathWalletAddresses(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/addresses",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name": {
					Type:        framework.TypeLowerCaseString,
					Description: "Name of the wallet",
					Required:    true,
				},
				"derivation_path": {
					Type:        framework.TypeString,
					Description: "Explicit derivation path; its purpose selects the address type",
				},
				"change": {
					Type:        framework.TypeInt,
					Description: "Chain under the wallet's purpose: 0 for receive, 1 for change (default: 0)",
					Default:     0,
				},
				"index": {
					Type:        framework.TypeInt,
					Description: "Address index; -1 derives the next unused index (default: -1)",
					Default:     -1,
				},
				"count": {
					Type:        framework.TypeInt,
					Description: "Number of next addresses to derive when index is -1 (default: 1)",
					Default:     1,
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback: b.pathWalletAddressesRead,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "addresses",
					},
				},
				logical.UpdateOperation: &framework.PathOperation{
					Callback: b.pathWalletAddressesWrite,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "addresses-derive",
					},
				},
				logical.CreateOperation: &framework.PathOperation{
					Callback: b.pathWalletAddressesWrite,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "addresses-derive",
					},
				},
			},
			ExistenceCheck:  b.pathWalletAddressesExistenceCheck,
			HelpSynopsis:    pathWalletAddressesHelpSynopsis,
			HelpDescription: pathWalletAddressesHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletAddressesRead(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	b.Logger().Debug("reading wallet addresses", "wallet", name)

	w, err := getWallet(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}

	if w == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}

	addresses, err := getStoredAddresses(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}

	addressList := make([]map[string]interface{}, len(addresses))
	for i := range addresses {
		addressList[i] = addresses[i].responseData()
	}

	return &logical.Response{
		Data: map[string]interface{}{
			"addresses":     addressList,
			"address_count": len(addresses),
		},
	}, nil
}

func (b *btcBackend) pathWalletAddressesExistenceCheck(ctx context.Context, req *logical.Request, data *framework.FieldData) (bool, error) {
	return false, nil
}

func (b *btcBackend) pathWalletAddressesWrite(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	path := data.Get("derivation_path").(string)
	change := data.Get("change").(int)
	index := data.Get("index").(int)
	count := data.Get("count").(int)

	b.Logger().Debug("deriving addresses", "wallet", name, "derivation_path", path, "change", change, "index", index, "count", count)

	if change != 0 && change != 1 {
		return logical.ErrorResponse("change must be 0 or 1"), nil
	}
	if index < -1 || int64(index) >= int64(1)<<31 {
		return logical.ErrorResponse("index must be -1 or a non-hardened child index"), nil
	}
	if count < 1 || count > maxAddressCount {
		return logical.ErrorResponse("count must be between 1 and %d", maxAddressCount), nil
	}

	w, err := getWallet(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}

	if w == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}

	network, err := getNetwork(ctx, req.Storage)
	if err != nil {
		return nil, err
	}

	var derived []*storedAddress
	switch {
	case path != "":
		addr, err := b.deriveAddressAtPath(ctx, req.Storage, w, network, path)
		if err != nil {
			return addressErrorResponse(err)
		}
		derived = append(derived, addr)
	case index >= 0:
		d, err := b.walletDescriptor(w)
		if err != nil {
			return nil, err
		}
		path = wallet.DerivationPathForPurpose(uint32(d.Purpose), network, 0, uint32(change), uint32(index))
		addr, err := b.deriveAddressAtPath(ctx, req.Storage, w, network, path)
		if err != nil {
			return addressErrorResponse(err)
		}
		if change == 0 && uint32(index) >= w.NextAddressIndex {
			w.NextAddressIndex = uint32(index) + 1
		}
		if change == 1 && uint32(index) >= w.NextChangeIndex {
			w.NextChangeIndex = uint32(index) + 1
		}
		derived = append(derived, addr)
	default:
		for i := 0; i < count; i++ {
			addr, err := b.deriveNextAddress(ctx, req.Storage, w, network, uint32(change))
			if err != nil {
				return addressErrorResponse(err)
			}
			derived = append(derived, addr)
		}
	}

	if err := saveWallet(ctx, req.Storage, w); err != nil {
		return nil, fmt.Errorf("failed to update wallet: %w", err)
	}

	addressList := make([]map[string]interface{}, len(derived))
	for i, addr := range derived {
		addressList[i] = addr.responseData()
	}

	b.Logger().Debug("addresses derived", "wallet", name, "count", len(derived))

	return &logical.Response{
		Data: map[string]interface{}{
			"addresses": addressList,
			"count":     len(derived),
		},
	}, nil
}

// deriveNextAddress derives the next address on a chain under the wallet's
// purpose and advances the chain's index. The caller saves the wallet.
func (b *btcBackend) deriveNextAddress(ctx context.Context, s logical.Storage, w *btcWallet, network string, change uint32) (*storedAddress, error) {
	d, err := b.walletDescriptor(w)
	if err != nil {
		return nil, err
	}

	next := &w.NextAddressIndex
	if change == 1 {
		next = &w.NextChangeIndex
	}

	path := wallet.DerivationPathForPurpose(uint32(d.Purpose), network, 0, change, *next)
	addr, err := b.deriveAddressAtPath(ctx, s, w, network, path)
	if err != nil {
		return nil, err
	}
	*next++
	return addr, nil
}

// deriveAddressAtPath derives the address at path with the address function
// resolved from the path's purpose and stores it. A path that was already
// derived returns the stored address.
func (b *btcBackend) deriveAddressAtPath(ctx context.Context, s logical.Storage, w *btcWallet, network, path string) (*storedAddress, error) {
	d, purpose, _, err := b.resolveDescriptor(path)
	if err != nil {
		return nil, err
	}

	existing, err := getStoredAddresses(ctx, s, w.Name)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].DerivationPath == path {
			return &existing[i], nil
		}
	}

	params, err := wallet.NetworkParams(network)
	if err != nil {
		return nil, err
	}

	key, err := wallet.DeriveKeyAtPath(w.Seed, network, path)
	if err != nil {
		return nil, err
	}

	pubKey, err := wallet.GetPublicKey(key)
	if err != nil {
		return nil, err
	}

	address, err := d.Address(pubKey, params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode address: %w", err)
	}

	stored := &storedAddress{
		Address:        address,
		Index:          w.AddressCount,
		DerivationPath: path,
		AddressType:    d.ID.String(),
		Purpose:        purpose,
	}
	if err := putStoredAddress(ctx, s, w.Name, stored); err != nil {
		return nil, err
	}
	w.AddressCount++

	b.Logger().Info("address derived", "wallet", w.Name, "derivation_path", path, "address_type", d.ID)
	return stored, nil
}

// addressErrorResponse turns derivation path problems into caller errors
func addressErrorResponse(err error) (*logical.Response, error) {
	if errors.Is(err, addresstype.ErrMalformedDerivationPath) || errors.Is(err, wallet.ErrInvalidDerivationPath) {
		return logical.ErrorResponse(err.Error()), nil
	}
	return nil, err
}

func (a *storedAddress) responseData() map[string]interface{} {
	return map[string]interface{}{
		"address":         a.Address,
		"index":           a.Index,
		"derivation_path": a.DerivationPath,
		"address_type":    a.AddressType,
		"purpose":         a.Purpose,
	}
}

const pathWalletAddressesHelpSynopsis = `
List or derive addresses for a wallet.
`

const pathWalletAddressesHelpDescription = `
READ: List all derived addresses of a wallet.

Each address includes:
  - address: The Bitcoin address
  - index: Storage sequence within the wallet
  - derivation_path: Full derivation path
  - address_type: P2PKH, P2SH-P2WPKH or P2WPKH
  - purpose: BIP44 purpose of the derivation path

Example:
  $ vault read btc/wallets/my-wallet/addresses

WRITE: Derive addresses.

The address type is chosen from the purpose of the derivation path:
m/44' gives P2PKH, m/49' gives P2SH-P2WPKH and m/84' gives P2WPKH. Any other
purpose falls back to P2PKH.

Parameters:
  - derivation_path: derive exactly this path (e.g. m/49'/0'/0'/0/3)
  - change: 0 for receive, 1 for change addresses under the wallet's purpose
  - index: address index under the wallet's purpose (-1 for the next index)
  - count: number of next addresses to derive when index is -1 (max: 100)

Examples:
  $ vault write btc/wallets/my-wallet/addresses count=5
  $ vault write btc/wallets/my-wallet/addresses change=1
  $ vault write btc/wallets/my-wallet/addresses derivation_path="m/84'/0'/0'/0/0"

Deriving a path that was derived before returns the stored address.
`
