package config

import (
	"errors"
	"testing"

	"github.com/agoramesh/agora/pkg/provider/embeddings"
	"github.com/agoramesh/agora/pkg/provider/embeddings/mock"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterEmbeddings("mock", func(entry ProviderEntry) (embeddings.Provider, error) {
		return &mock.Provider{ModelIDValue: entry.Model}, nil
	})

	p, err := reg.CreateEmbeddings(ProviderEntry{Name: "mock", Model: "m1"})
	if err != nil {
		t.Fatalf("CreateEmbeddings: %v", err)
	}
	if p.ModelID() != "m1" {
		t.Errorf("model = %q, want the entry's model passed through", p.ModelID())
	}

	_, err = reg.CreateEmbeddings(ProviderEntry{Name: "nope"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}
