package btc

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/djschnei21/vault-plugin-btc-addresses/wallet"
)

const configStoragePath = "config"

// btcConfig stores the secrets engine configuration
type btcConfig struct {
	Network            string `json:"network"`
	DefaultAddressType string `json:"default_address_type,omitempty"`
}

func pathConfig(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "config",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"network": {
					Type:        framework.TypeString,
					Description: "Bitcoin network: mainnet, testnet4, or signet",
					Default:     "mainnet",
				},
				"default_address_type": {
					Type:        framework.TypeString,
					Description: "Address type for new wallets that do not set one (default: legacy P2PKH)",
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback: b.pathConfigRead,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "config",
					},
				},
				logical.CreateOperation: &framework.PathOperation{
					Callback: b.pathConfigWrite,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "config",
					},
				},
				logical.UpdateOperation: &framework.PathOperation{
					Callback: b.pathConfigWrite,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "config",
					},
				},
				logical.DeleteOperation: &framework.PathOperation{
					Callback: b.pathConfigDelete,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "config",
					},
				},
			},
			ExistenceCheck:  b.pathConfigExistenceCheck,
			HelpSynopsis:    pathConfigHelpSynopsis,
			HelpDescription: pathConfigHelpDescription,
		},
	}
}

func (b *btcBackend) pathConfigExistenceCheck(ctx context.Context, req *logical.Request, data *framework.FieldData) (bool, error) {
	out, err := req.Storage.Get(ctx, configStoragePath)
	if err != nil {
		return false, fmt.Errorf("existence check failed: %w", err)
	}
	return out != nil, nil
}

func (b *btcBackend) pathConfigRead(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	b.Logger().Debug("reading config")
	config, err := getConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}

	if config == nil {
		b.Logger().Debug("no config found")
		return nil, nil
	}

	defaultType, err := b.registry.Lookup(config.DefaultAddressType)
	if err != nil {
		return nil, fmt.Errorf("stored default address type is invalid: %w", err)
	}

	return &logical.Response{
		Data: map[string]interface{}{
			"network":              config.Network,
			"default_address_type": defaultType.ID.String(),
		},
	}, nil
}

func (b *btcBackend) pathConfigWrite(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	b.Logger().Debug("writing config", "operation", req.Operation)
	config, err := getConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}

	createOperation := req.Operation == logical.CreateOperation

	if config == nil {
		if !createOperation {
			return nil, fmt.Errorf("config not found during update operation")
		}
		b.Logger().Debug("creating new config")
		config = &btcConfig{}
	}

	if network, ok := data.GetOk("network"); ok {
		config.Network = network.(string)
	} else if createOperation {
		config.Network = data.Get("network").(string)
	}

	if _, err := wallet.NetworkParams(config.Network); err != nil {
		return logical.ErrorResponse("network must be 'mainnet', 'testnet4', or 'signet'"), nil
	}

	if addressType, ok := data.GetOk("default_address_type"); ok {
		d, err := b.registry.Lookup(addressType.(string))
		if err != nil {
			return logical.ErrorResponse("invalid default_address_type: %s", err), nil
		}
		config.DefaultAddressType = d.ID.String()
	}

	entry, err := logical.StorageEntryJSON(configStoragePath, config)
	if err != nil {
		return nil, err
	}

	if err := req.Storage.Put(ctx, entry); err != nil {
		return nil, err
	}

	b.Logger().Info("config saved", "network", config.Network, "default_address_type", config.DefaultAddressType)
	return nil, nil
}

func (b *btcBackend) pathConfigDelete(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	b.Logger().Debug("deleting config")
	if err := req.Storage.Delete(ctx, configStoragePath); err != nil {
		return nil, fmt.Errorf("error deleting config: %w", err)
	}

	b.Logger().Info("config deleted")
	return nil, nil
}

// getConfig retrieves the configuration from storage
func getConfig(ctx context.Context, s logical.Storage) (*btcConfig, error) {
	entry, err := s.Get(ctx, configStoragePath)
	if err != nil {
		return nil, fmt.Errorf("error retrieving config: %w", err)
	}

	if entry == nil {
		return nil, nil
	}

	config := new(btcConfig)
	if err := entry.DecodeJSON(config); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	return config, nil
}

// getNetwork retrieves the network from config, defaulting to mainnet
func getNetwork(ctx context.Context, s logical.Storage) (string, error) {
	config, err := getConfig(ctx, s)
	if err != nil {
		return "", err
	}

	if config == nil || config.Network == "" {
		return "mainnet", nil
	}

	return config.Network, nil
}

// getDefaultAddressType retrieves the configured default address type name.
// An empty result selects the legacy type.
func getDefaultAddressType(ctx context.Context, s logical.Storage) (string, error) {
	config, err := getConfig(ctx, s)
	if err != nil {
		return "", err
	}

	if config == nil {
		return "", nil
	}

	return config.DefaultAddressType, nil
}

const pathConfigHelpSynopsis = `
Configure the Bitcoin secrets engine.
`

const pathConfigHelpDescription = `
This endpoint configures the network used for address encoding and the address
type given to wallets created without an explicit address_type.

Parameters:
  - network: mainnet, testnet4, or signet (default: mainnet)
  - default_address_type: P2PKH, P2SH-P2WPKH, P2WPKH or their symbolic names
    legacy, segwit-wrapped, segwit-native (default: legacy)

Example:
  $ vault write btc/config network=testnet4 default_address_type=segwit-native
`
