package btc

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"
	"github.com/skip2/go-qrcode"
)

func pathWalletQR(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/qr",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name": {
					Type:        framework.TypeLowerCaseString,
					Description: "Name of the wallet",
					Required:    true,
				},
				"address_index": {
					Type:        framework.TypeInt,
					Description: "Index of the stored address; -1 selects the latest receive address (default: -1)",
					Default:     -1,
				},
				"amount": {
					Type:        framework.TypeInt,
					Description: "Optional amount in satoshis to request in the BIP21 URI",
				},
				"size": {
					Type:        framework.TypeInt,
					Description: "QR code size in pixels (default: 256)",
					Default:     256,
				},
				"format": {
					Type:        framework.TypeString,
					Description: "Output format: 'png' (base64) or 'ascii' (default: png)",
					Default:     "png",
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback: b.pathWalletQRRead,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "qr",
					},
				},
			},
			HelpSynopsis:    pathWalletQRHelpSynopsis,
			HelpDescription: pathWalletQRHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletQRRead(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	index := data.Get("address_index").(int)
	amount := int64(data.Get("amount").(int))
	size := data.Get("size").(int)
	format := data.Get("format").(string)

	b.Logger().Debug("QR code request", "wallet", name, "address_index", index, "format", format, "size", size)

	if size < 64 || size > 1024 {
		return logical.ErrorResponse("size must be between 64 and 1024"), nil
	}
	if format != "png" && format != "ascii" {
		return logical.ErrorResponse("format must be 'png' or 'ascii'"), nil
	}
	if amount < 0 {
		return logical.ErrorResponse("amount must not be negative"), nil
	}

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

	if len(addresses) == 0 {
		return logical.ErrorResponse("no address available - derive one with: vault write btc/wallets/%s/addresses", name), nil
	}

	var selected *storedAddress
	if index < 0 {
		d, err := b.walletDescriptor(w)
		if err != nil {
			return nil, err
		}

		network, err := getNetwork(ctx, req.Storage)
		if err != nil {
			return nil, err
		}

		if selected = latestReceiveAddress(w, d, network, addresses); selected == nil {
			return logical.ErrorResponse("wallet %q has no receive address - derive one with: vault write btc/wallets/%s/addresses", name, name), nil
		}
	} else {
		for i := range addresses {
			if int64(addresses[i].Index) == int64(index) {
				selected = &addresses[i]
				break
			}
		}
	}

	if selected == nil {
		return logical.ErrorResponse("address index %d not found in wallet %q", index, name), nil
	}

	uri := bip21URI(selected.Address, amount)

	respData := map[string]interface{}{
		"address":         selected.Address,
		"derivation_path": selected.DerivationPath,
		"address_type":    selected.AddressType,
		"uri":             uri,
	}

	if format == "ascii" {
		qr, err := qrcode.New(uri, qrcode.Medium)
		if err != nil {
			return nil, fmt.Errorf("failed to generate QR code: %w", err)
		}
		respData["qr"] = qr.ToSmallString(false)
		respData["display_hint"] = "vault read -field=qr btc/wallets/" + name + "/qr format=ascii"
	} else {
		png, err := qrcode.Encode(uri, qrcode.Medium, size)
		if err != nil {
			return nil, fmt.Errorf("failed to generate QR code: %w", err)
		}
		respData["qr_png"] = base64.StdEncoding.EncodeToString(png)
	}

	return &logical.Response{Data: respData}, nil
}

// bip21URI builds a bitcoin: URI, adding the amount in BTC when it is set
func bip21URI(address string, amount int64) string {
	uri := "bitcoin:" + address
	if amount > 0 {
		uri += "?amount=" + strconv.FormatFloat(btcutil.Amount(amount).ToBTC(), 'f', -1, 64)
	}
	return uri
}

const pathWalletQRHelpSynopsis = `
Get a QR code for a wallet address.
`

const pathWalletQRHelpDescription = `
This endpoint returns a QR code for one of the wallet's stored addresses.
The QR code contains a BIP21 URI (bitcoin:address[?amount=btc]).

Example:
  $ vault read btc/wallets/my-wallet/qr
  $ vault read btc/wallets/my-wallet/qr address_index=2 amount=150000 size=512

For ASCII format, use -field to display correctly in terminal:
  $ vault read -field=qr btc/wallets/my-wallet/qr format=ascii

Parameters:
  - address_index: stored address index (default: -1, the latest receive address)
  - amount: requested amount in satoshis (optional)
  - size: QR code size in pixels (default: 256, range: 64-1024)
  - format: 'png' for base64-encoded PNG, 'ascii' for terminal display

Response:
  - address, derivation_path, address_type: The selected address
  - uri: BIP21 URI
  - qr_png: Base64-encoded PNG (if format=png)
  - qr: ASCII art QR code (if format=ascii)
  - display_hint: Command to display ASCII QR properly (if format=ascii)
`
