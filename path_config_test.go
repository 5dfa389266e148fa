package btc

import (
	"testing"

	"github.com/hashicorp/vault/sdk/logical"
)

func TestConfig(t *testing.T) {
	b, s := getTestBackend(t)

	t.Run("read before write", func(t *testing.T) {
		if resp := doRequest(t, b, s, logical.ReadOperation, "config", nil); resp != nil {
			t.Errorf("read config = %v, want nil", resp.Data)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		mustSucceed(t, doRequest(t, b, s, logical.CreateOperation, "config", map[string]interface{}{}), "write config")

		resp := mustSucceed(t, doRequest(t, b, s, logical.ReadOperation, "config", nil), "read config")
		if got := resp.Data["network"]; got != "mainnet" {
			t.Errorf("network = %v, want mainnet", got)
		}
		if got := resp.Data["default_address_type"]; got != "P2PKH" {
			t.Errorf("default_address_type = %v, want P2PKH", got)
		}
	})

	t.Run("update", func(t *testing.T) {
		mustSucceed(t, doRequest(t, b, s, logical.UpdateOperation, "config", map[string]interface{}{
			"network":              "testnet4",
			"default_address_type": "segwit-native",
		}), "update config")

		resp := mustSucceed(t, doRequest(t, b, s, logical.ReadOperation, "config", nil), "read config")
		if got := resp.Data["network"]; got != "testnet4" {
			t.Errorf("network = %v, want testnet4", got)
		}
		if got := resp.Data["default_address_type"]; got != "P2WPKH" {
			t.Errorf("default_address_type = %v, want P2WPKH", got)
		}
	})

	t.Run("invalid network", func(t *testing.T) {
		mustFail(t, doRequest(t, b, s, logical.UpdateOperation, "config", map[string]interface{}{
			"network": "regtest",
		}), "update config network=regtest")
	})

	t.Run("unknown address type", func(t *testing.T) {
		mustFail(t, doRequest(t, b, s, logical.UpdateOperation, "config", map[string]interface{}{
			"default_address_type": "P2TR",
		}), "update config default_address_type=P2TR")
	})

	t.Run("delete", func(t *testing.T) {
		doRequest(t, b, s, logical.DeleteOperation, "config", nil)
		if resp := doRequest(t, b, s, logical.ReadOperation, "config", nil); resp != nil {
			t.Errorf("read config after delete = %v, want nil", resp.Data)
		}
	})
}
