package btc

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/djschnei21/vault-plugin-btc-addresses/addresstype"
	"github.com/djschnei21/vault-plugin-btc-addresses/wallet"
)

const walletsStoragePrefix = "wallets/"

// initialAddressCount is the number of receive addresses derived when a wallet is created
const initialAddressCount = 5

// btcWallet stores the wallet configuration. AddressCount is the number of
// stored addresses and the next storage sequence.
type btcWallet struct {
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	Seed             []byte    `json:"seed"`
	AddressType      string    `json:"address_type"`
	NextAddressIndex uint32    `json:"next_address_index"`
	NextChangeIndex  uint32    `json:"next_change_index"`
	AddressCount     uint32    `json:"address_count"`
	CreatedAt        time.Time `json:"created_at"`
}

func pathWallets(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/?$",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
				OperationSuffix: "wallets",
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ListOperation: &framework.PathOperation{
					Callback: b.pathWalletsList,
				},
			},
			HelpSynopsis:    pathWalletsListHelpSynopsis,
			HelpDescription: pathWalletsListHelpDescription,
		},
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name"),
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name": {
					Type:        framework.TypeLowerCaseString,
					Description: "Name of the wallet",
					Required:    true,
				},
				"description": {
					Type:        framework.TypeString,
					Description: "Optional description for this wallet",
				},
				"address_type": {
					Type:        framework.TypeString,
					Description: "Address type: P2PKH (legacy), P2SH-P2WPKH (segwit-wrapped) or P2WPKH (segwit-native). Defaults to the configured default_address_type",
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback: b.pathWalletsRead,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "wallet",
					},
				},
				logical.CreateOperation: &framework.PathOperation{
					Callback: b.pathWalletsWrite,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "wallet",
					},
				},
				logical.UpdateOperation: &framework.PathOperation{
					Callback: b.pathWalletsWrite,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "wallet",
					},
				},
				logical.DeleteOperation: &framework.PathOperation{
					Callback: b.pathWalletsDelete,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "wallet",
					},
				},
			},
			ExistenceCheck:  b.pathWalletsExistenceCheck,
			HelpSynopsis:    pathWalletsHelpSynopsis,
			HelpDescription: pathWalletsHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletsList(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	b.Logger().Debug("listing wallets")
	entries, err := req.Storage.List(ctx, walletsStoragePrefix)
	if err != nil {
		return nil, fmt.Errorf("error listing wallets: %w", err)
	}

	b.Logger().Debug("wallets listed", "count", len(entries))
	return logical.ListResponse(entries), nil
}

func (b *btcBackend) pathWalletsExistenceCheck(ctx context.Context, req *logical.Request, data *framework.FieldData) (bool, error) {
	name := data.Get("name").(string)
	w, err := getWallet(ctx, req.Storage, name)
	if err != nil {
		return false, err
	}
	return w != nil, nil
}

func (b *btcBackend) pathWalletsRead(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	b.Logger().Debug("reading wallet", "name", name)

	w, err := getWallet(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}

	if w == nil {
		b.Logger().Debug("wallet not found", "name", name)
		return nil, nil
	}

	respData, err := b.walletResponse(ctx, req.Storage, w)
	if err != nil {
		return nil, err
	}
	return &logical.Response{Data: respData}, nil
}

func (b *btcBackend) pathWalletsWrite(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	b.Logger().Debug("writing wallet", "name", name, "operation", req.Operation)

	w, err := getWallet(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}

	created := false
	if w == nil {
		if req.Operation != logical.CreateOperation {
			return nil, fmt.Errorf("wallet %q not found during update operation", name)
		}

		addressType, ok := data.GetOk("address_type")
		if !ok {
			if addressType, err = getDefaultAddressType(ctx, req.Storage); err != nil {
				return nil, err
			}
		}

		d, err := b.registry.Lookup(addressType.(string))
		if err != nil {
			return logical.ErrorResponse("invalid address_type: %s", err), nil
		}

		b.Logger().Info("creating new wallet", "name", name, "address_type", d.ID)
		seed, err := wallet.GenerateSeed()
		if err != nil {
			return nil, fmt.Errorf("failed to generate seed: %w", err)
		}

		w = &btcWallet{
			Name:        name,
			Seed:        seed,
			AddressType: d.ID.String(),
			CreatedAt:   time.Now().UTC(),
		}
		created = true
	} else if addressType, ok := data.GetOk("address_type"); ok {
		d, err := b.registry.Lookup(addressType.(string))
		if err != nil {
			return logical.ErrorResponse("invalid address_type: %s", err), nil
		}
		if d.ID.String() != w.AddressType {
			return logical.ErrorResponse("address_type of wallet %q cannot be changed from %s", name, w.AddressType), nil
		}
	}

	if description, ok := data.GetOk("description"); ok {
		w.Description = description.(string)
	}

	if created {
		network, err := getNetwork(ctx, req.Storage)
		if err != nil {
			return nil, err
		}

		for i := 0; i < initialAddressCount; i++ {
			if _, err := b.deriveNextAddress(ctx, req.Storage, w, network, 0); err != nil {
				return nil, fmt.Errorf("failed to generate address %d: %w", i, err)
			}
		}
	}

	if err := saveWallet(ctx, req.Storage, w); err != nil {
		return nil, err
	}

	respData, err := b.walletResponse(ctx, req.Storage, w)
	if err != nil {
		return nil, err
	}
	return &logical.Response{Data: respData}, nil
}

func (b *btcBackend) pathWalletsDelete(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	b.Logger().Debug("deleting wallet", "name", name)

	if err := req.Storage.Delete(ctx, walletsStoragePrefix+name); err != nil {
		return nil, fmt.Errorf("error deleting wallet: %w", err)
	}

	deleted, err := deleteStoredAddresses(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}

	b.Logger().Info("wallet deleted", "name", name, "addresses_deleted", deleted)
	return nil, nil
}

// walletResponse renders wallet info together with its address type metadata
func (b *btcBackend) walletResponse(ctx context.Context, s logical.Storage, w *btcWallet) (map[string]interface{}, error) {
	network, err := getNetwork(ctx, s)
	if err != nil {
		return nil, err
	}

	d, err := b.walletDescriptor(w)
	if err != nil {
		return nil, err
	}

	addresses, err := getStoredAddresses(ctx, s, w.Name)
	if err != nil {
		return nil, err
	}

	respData := map[string]interface{}{
		"name":               w.Name,
		"network":            network,
		"address_type":       d.ID.String(),
		"purpose":            d.Purpose,
		"title":              d.Title,
		"address_count":      len(addresses),
		"next_address_index": w.NextAddressIndex,
		"next_change_index":  w.NextChangeIndex,
		"created_at":         w.CreatedAt.Format(time.RFC3339),
	}

	if latest := latestReceiveAddress(w, d, network, addresses); latest != nil {
		respData["receive_address"] = latest.Address
		respData["receive_derivation_path"] = latest.DerivationPath
	} else {
		respData["receive_address"] = nil
	}

	if d.Warning != "" {
		respData["warning"] = d.Warning
	}

	if w.Description != "" {
		respData["description"] = w.Description
	}

	return respData, nil
}

// latestReceiveAddress returns the stored address at the highest derived index
// of the receive chain under the wallet's purpose. Change addresses and
// addresses at explicit paths of other purposes are never returned.
func latestReceiveAddress(w *btcWallet, d addresstype.Descriptor, network string, addresses []storedAddress) *storedAddress {
	if w.NextAddressIndex == 0 {
		return nil
	}

	path := wallet.DerivationPathForPurpose(uint32(d.Purpose), network, 0, 0, w.NextAddressIndex-1)
	for i := range addresses {
		if addresses[i].DerivationPath == path {
			return &addresses[i]
		}
	}
	return nil
}

// walletDescriptor returns the address type descriptor of a wallet
func (b *btcBackend) walletDescriptor(w *btcWallet) (addresstype.Descriptor, error) {
	d, err := b.registry.Lookup(w.AddressType)
	if err != nil {
		return d, fmt.Errorf("wallet %q has invalid address type: %w", w.Name, err)
	}
	return d, nil
}

// getWallet retrieves a wallet from storage
func getWallet(ctx context.Context, s logical.Storage, name string) (*btcWallet, error) {
	entry, err := s.Get(ctx, walletsStoragePrefix+name)
	if err != nil {
		return nil, fmt.Errorf("error retrieving wallet: %w", err)
	}

	if entry == nil {
		return nil, nil
	}

	w := new(btcWallet)
	if err := entry.DecodeJSON(w); err != nil {
		return nil, fmt.Errorf("error decoding wallet: %w", err)
	}

	return w, nil
}

// saveWallet saves a wallet to storage
func saveWallet(ctx context.Context, s logical.Storage, w *btcWallet) error {
	entry, err := logical.StorageEntryJSON(walletsStoragePrefix+w.Name, w)
	if err != nil {
		return fmt.Errorf("error creating storage entry: %w", err)
	}

	if err := s.Put(ctx, entry); err != nil {
		return fmt.Errorf("error saving wallet: %w", err)
	}

	return nil
}

const pathWalletsListHelpSynopsis = `
List all wallets.
`

const pathWalletsListHelpDescription = `
This endpoint lists all configured wallets in the Bitcoin secrets engine.
`

const pathWalletsHelpSynopsis = `
Manage Bitcoin wallets.
`

const pathWalletsHelpDescription = `
This endpoint manages Bitcoin wallets. Each wallet is an HD wallet with its own
seed and an address type that selects the BIP44 purpose of its receive
addresses. All wallets use the network configured at the mount level
(btc/config).

To create a new wallet:
  $ vault write btc/wallets/my-wallet description="Treasury" address_type=P2WPKH

Without address_type the configured default_address_type is used; when none is
configured the wallet uses legacy P2PKH addresses. The address type cannot be
changed after creation.

To view wallet info:
  $ vault read btc/wallets/my-wallet

To delete a wallet:
  $ vault delete btc/wallets/my-wallet

WARNING: Deleting a wallet permanently destroys the seed. Ensure all funds have
been transferred before deletion.
`
