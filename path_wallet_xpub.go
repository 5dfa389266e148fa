package btc

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/djschnei21/vault-plugin-btc-addresses/addresstype"
	"github.com/djschnei21/vault-plugin-btc-addresses/wallet"
)

func pathWalletXpub(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/xpub",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name": {
					Type:        framework.TypeLowerCaseString,
					Description: "Name of the wallet",
					Required:    true,
				},
				"address_type": {
					Type:        framework.TypeString,
					Description: "Address type to export the account key for (default: the wallet's address type)",
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback: b.pathWalletXpubRead,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "xpub",
					},
				},
			},
			HelpSynopsis:    pathWalletXpubHelpSynopsis,
			HelpDescription: pathWalletXpubHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletXpubRead(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)

	b.Logger().Debug("reading wallet xpub", "wallet", name)

	w, err := getWallet(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}

	if w == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}

	d, err := b.walletDescriptor(w)
	if err != nil {
		return nil, err
	}
	if addressType, ok := data.GetOk("address_type"); ok {
		if d, err = b.registry.Lookup(addressType.(string)); err != nil {
			return logical.ErrorResponse("invalid address_type: %s", err), nil
		}
	}

	network, err := getNetwork(ctx, req.Storage)
	if err != nil {
		return nil, err
	}

	key, err := wallet.GetAccountKey(w.Seed, network, uint32(d.Purpose), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to derive xpub: %w", err)
	}

	origin := fmt.Sprintf("[%s%s]%s/<0;1>/*", key.Fingerprint, key.DerivationPath[1:], key.ExtendedKey)

	b.Logger().Debug("xpub read complete", "wallet", name, "format", key.Format)

	return &logical.Response{
		Data: map[string]interface{}{
			"xpub":            key.SLIP132Key,
			"format":          key.Format,
			"fingerprint":     key.Fingerprint,
			"derivation_path": key.DerivationPath,
			"address_type":    d.ID.String(),
			"network":         network,
			"descriptor":      outputDescriptor(d.ID, origin),
		},
	}, nil
}

// outputDescriptor wraps a key expression in the script of the address type
func outputDescriptor(id addresstype.Identifier, key string) string {
	switch id {
	case addresstype.SegwitWrapped:
		return "sh(wpkh(" + key + "))"
	case addresstype.SegwitNative:
		return "wpkh(" + key + ")"
	default:
		return "pkh(" + key + ")"
	}
}

const pathWalletXpubHelpSynopsis = `
Export the wallet's account extended public key for watch-only wallet setup.
`

const pathWalletXpubHelpDescription = `
This endpoint exports the account-level extended public key (m/purpose'/coin'/0')
for use in watch-only wallet software. Transactions can then be built outside
Vault and signed through btc/wallets/:name/sign.

Key formats per SLIP-0132:
  - P2PKH:       xpub (mainnet) or tpub (testnet)
  - P2SH-P2WPKH: ypub (mainnet) or upub (testnet)
  - P2WPKH:      zpub (mainnet) or vpub (testnet)

Response fields:
  - xpub: The extended public key in the format above
  - format: Key format name
  - fingerprint: Master key fingerprint
  - derivation_path: Account derivation path (e.g. m/84'/0'/0')
  - address_type: Address type the key was exported for
  - network: Bitcoin network (mainnet, testnet4, signet)
  - descriptor: Output descriptor (pkh, sh(wpkh) or wpkh) for wallet import

Example:
  $ vault read btc/wallets/my-wallet/xpub
  $ vault read btc/wallets/my-wallet/xpub address_type=P2SH-P2WPKH

Security Note:
  The xpub allows deriving all public keys and addresses but CANNOT spend funds.
  Treat it as sensitive since it reveals the complete transaction history.
`
