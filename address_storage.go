package btc

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/vault/sdk/logical"
)

const addressStoragePrefix = "addresses/"

// storedAddress stores information about a derived address
type storedAddress struct {
	Address        string `json:"address"`
	Index          uint32 `json:"index"` // storage sequence within the wallet
	DerivationPath string `json:"derivation_path"`
	AddressType    string `json:"address_type"`
	Purpose        int    `json:"purpose"`
}

// putStoredAddress writes an address under the wallet at its sequence number
func putStoredAddress(ctx context.Context, s logical.Storage, walletName string, addr *storedAddress) error {
	storageKey := fmt.Sprintf("%s%s/%d", addressStoragePrefix, walletName, addr.Index)
	entry, err := logical.StorageEntryJSON(storageKey, addr)
	if err != nil {
		return fmt.Errorf("failed to create storage entry: %w", err)
	}

	if err := s.Put(ctx, entry); err != nil {
		return fmt.Errorf("failed to store address %d: %w", addr.Index, err)
	}
	return nil
}

// getStoredAddresses retrieves all stored addresses for a wallet, sorted by index
func getStoredAddresses(ctx context.Context, s logical.Storage, walletName string) ([]storedAddress, error) {
	prefix := addressStoragePrefix + walletName + "/"
	entries, err := s.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("error listing addresses: %w", err)
	}

	addresses := make([]storedAddress, 0, len(entries))
	for _, entry := range entries {
		stored, err := s.Get(ctx, prefix+entry)
		if err != nil {
			return nil, fmt.Errorf("error reading address %s: %w", entry, err)
		}
		if stored == nil {
			continue
		}

		var addr storedAddress
		if err := stored.DecodeJSON(&addr); err != nil {
			return nil, fmt.Errorf("error decoding address %s: %w", entry, err)
		}

		addresses = append(addresses, addr)
	}

	sort.Slice(addresses, func(i, j int) bool {
		return addresses[i].Index < addresses[j].Index
	})

	return addresses, nil
}

// deleteStoredAddresses removes every stored address of a wallet
func deleteStoredAddresses(ctx context.Context, s logical.Storage, walletName string) (int, error) {
	prefix := addressStoragePrefix + walletName + "/"
	entries, err := s.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("error listing addresses: %w", err)
	}

	for _, entry := range entries {
		if err := s.Delete(ctx, prefix+entry); err != nil {
			return 0, fmt.Errorf("error deleting address: %w", err)
		}
	}
	return len(entries), nil
}
