package btc

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/vault/sdk/logical"
)

func getTestBackend(t *testing.T) (*btcBackend, logical.Storage) {
	t.Helper()

	config := logical.TestBackendConfig()
	config.StorageView = &logical.InmemStorage{}
	config.Logger = hclog.NewNullLogger()

	b, err := Factory(context.Background(), config)
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}

	return b.(*btcBackend), config.StorageView
}

// doRequest runs a request against the backend and fails on Go errors
func doRequest(t *testing.T, b *btcBackend, s logical.Storage, op logical.Operation, path string, data map[string]interface{}) *logical.Response {
	t.Helper()

	resp, err := b.HandleRequest(context.Background(), &logical.Request{
		Operation: op,
		Path:      path,
		Storage:   s,
		Data:      data,
	})
	if err != nil {
		t.Fatalf("%s %s error = %v", op, path, err)
	}
	return resp
}

// mustSucceed fails the test when resp is an error response
func mustSucceed(t *testing.T, resp *logical.Response, what string) *logical.Response {
	t.Helper()
	if resp == nil {
		t.Fatalf("%s returned no response", what)
	}
	if resp.IsError() {
		t.Fatalf("%s error response: %v", what, resp.Error())
	}
	return resp
}

func mustFail(t *testing.T, resp *logical.Response, what string) {
	t.Helper()
	if resp == nil || !resp.IsError() {
		t.Fatalf("%s = %v, want error response", what, resp)
	}
}

func TestBackendRegistry(t *testing.T) {
	b, _ := getTestBackend(t)

	descriptors := b.registry.Descriptors()
	if len(descriptors) != 3 {
		t.Fatalf("registry has %d address types, want 3", len(descriptors))
	}

	for _, d := range descriptors {
		if d.Address == nil || d.AddInput == nil || d.SignInput == nil {
			t.Errorf("address type %s has a nil function", d.ID)
		}
	}

	if b.resolver.Registry() != b.registry {
		t.Error("resolver does not use the backend registry")
	}
}

func TestResolveDescriptorFallback(t *testing.T) {
	b, _ := getTestBackend(t)

	d, purpose, ok, err := b.resolveDescriptor("m/999'/0'/0'/0/0")
	if err != nil {
		t.Fatalf("resolveDescriptor() error = %v", err)
	}
	if ok || purpose != 999 || d.ID.String() != "P2PKH" {
		t.Errorf("resolveDescriptor(m/999'...) = (%s, %d, %v), want (P2PKH, 999, false)", d.ID, purpose, ok)
	}

	d, purpose, ok, err = b.resolveDescriptor("m/49'/0'/0'/0/0")
	if err != nil || !ok || purpose != 49 || d.ID.String() != "P2SH-P2WPKH" {
		t.Errorf("resolveDescriptor(m/49'...) = (%s, %d, %v, %v), want (P2SH-P2WPKH, 49, true, nil)", d.ID, purpose, ok, err)
	}

	if _, _, _, err := b.resolveDescriptor("bad-path"); err == nil {
		t.Error("resolveDescriptor(bad-path) expected error")
	}
}
