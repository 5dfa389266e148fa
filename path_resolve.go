package btc

import (
	"context"
	"errors"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/djschnei21/vault-plugin-btc-addresses/addresstype"
)

func pathResolve(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "resolve",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
				OperationSuffix: "derivation-path",
			},
			Fields: map[string]*framework.FieldSchema{
				"derivation_path": {
					Type:        framework.TypeString,
					Description: "BIP44-style derivation path, e.g. m/84'/0'/0'/0/0",
					Required:    true,
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback: b.pathResolveRead,
				},
				logical.UpdateOperation: &framework.PathOperation{
					Callback: b.pathResolveRead,
				},
			},
			HelpSynopsis:    pathResolveHelpSynopsis,
			HelpDescription: pathResolveHelpDescription,
		},
	}
}

func (b *btcBackend) pathResolveRead(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	path := data.Get("derivation_path").(string)
	if path == "" {
		return logical.ErrorResponse("derivation_path is required"), nil
	}

	d, purpose, resolved, err := b.resolveDescriptor(path)
	if errors.Is(err, addresstype.ErrMalformedDerivationPath) {
		return logical.ErrorResponse(err.Error()), nil
	}
	if err != nil {
		return nil, err
	}

	b.Logger().Debug("resolved derivation path", "derivation_path", path, "purpose", purpose, "address_type", d.ID, "resolved", resolved)

	respData := descriptorData(d)
	respData["derivation_path"] = path
	respData["purpose"] = purpose
	respData["resolved"] = resolved
	respData["address_purpose"] = d.Purpose

	return &logical.Response{Data: respData}, nil
}

const pathResolveHelpSynopsis = `
Resolve a derivation path to its address type.
`

const pathResolveHelpDescription = `
This endpoint reads the BIP44 purpose from a derivation path and returns the
address type registered for it. Paths whose purpose is not registered resolve
to legacy P2PKH with resolved=false.

Example:
  $ vault read btc/resolve derivation_path="m/84'/0'/0'/0/0"

Response:
  - purpose: purpose field parsed from the path
  - resolved: whether the purpose matched a registered address type
  - address_type: P2PKH, P2SH-P2WPKH or P2WPKH
  - address_purpose: purpose of the returned address type
  - title, description, warning: address type metadata

A path without a numeric purpose segment (e.g. "bad-path") is rejected.
`
