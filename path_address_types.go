package btc

import (
	"context"
	"errors"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/djschnei21/vault-plugin-btc-addresses/addresstype"
)

func pathAddressTypes(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "address-types/?$",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
				OperationSuffix: "address-types",
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ListOperation: &framework.PathOperation{
					Callback: b.pathAddressTypesList,
				},
			},
			HelpSynopsis:    pathAddressTypesListHelpSynopsis,
			HelpDescription: pathAddressTypesListHelpDescription,
		},
		{
			Pattern: "address-types/" + framework.GenericNameRegex("type"),
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"type": {
					Type:        framework.TypeString,
					Description: "Address type: P2PKH, P2SH-P2WPKH, P2WPKH or legacy, segwit-wrapped, segwit-native",
					Required:    true,
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback: b.pathAddressTypeRead,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "address-type",
					},
				},
			},
			HelpSynopsis:    pathAddressTypeHelpSynopsis,
			HelpDescription: pathAddressTypeHelpDescription,
		},
	}
}

func (b *btcBackend) pathAddressTypesList(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	descriptors := b.registry.Descriptors()

	keys := make([]string, 0, len(descriptors))
	keyInfo := make(map[string]interface{}, len(descriptors))
	for _, d := range descriptors {
		keys = append(keys, d.ID.String())
		keyInfo[d.ID.String()] = map[string]interface{}{
			"name":    d.ID.Name(),
			"purpose": d.Purpose,
			"title":   d.Title,
		}
	}

	return logical.ListResponseWithInfo(keys, keyInfo), nil
}

func (b *btcBackend) pathAddressTypeRead(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("type").(string)
	b.Logger().Debug("reading address type", "type", name)

	d, err := b.registry.Lookup(name)
	if errors.Is(err, addresstype.ErrUnknownIdentifier) {
		return logical.ErrorResponse(err.Error()), nil
	}
	if err != nil {
		return nil, err
	}

	return &logical.Response{Data: descriptorData(d)}, nil
}

// descriptorData renders address type metadata for a response
func descriptorData(d addresstype.Descriptor) map[string]interface{} {
	out := map[string]interface{}{
		"address_type": d.ID.String(),
		"name":         d.ID.Name(),
		"purpose":      d.Purpose,
		"title":        d.Title,
		"description":  d.Description,
	}
	if d.Warning != "" {
		out["warning"] = d.Warning
	}
	return out
}

const pathAddressTypesListHelpSynopsis = `
List the supported address types.
`

const pathAddressTypesListHelpDescription = `
This endpoint lists the supported address types with their BIP44 purpose and
title. Every purpose is used by exactly one address type.
`

const pathAddressTypeHelpSynopsis = `
Read the metadata of an address type.
`

const pathAddressTypeHelpDescription = `
This endpoint returns the BIP44 purpose, title, description and, where
relevant, the interoperability warning of an address type.

Example:
  $ vault read btc/address-types/P2WPKH
  $ vault read btc/address-types/legacy

Unknown address types are rejected; they never fall back to legacy.
`
