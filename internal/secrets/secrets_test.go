package secrets

import (
	"context"
	"testing"

	"gatewayplane/internal/objectstore"
)

func TestLoad(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemory()
	s := NewStore(objects)

	set, err := s.Load(ctx, "acme")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(set) != 0 {
		t.Errorf("expected empty set for missing object, got %v", set)
	}

	objects.Put(ctx, objectstore.SecretsKey("acme"), []byte(`{"ANTHROPIC_API_KEY":"sk-ant-1"}`), "application/json")
	set, err = s.Load(ctx, "acme")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if set["ANTHROPIC_API_KEY"] != "sk-ant-1" {
		t.Errorf("unexpected set %v", set)
	}
}

func TestLoad_Malformed(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemory()
	objects.Put(ctx, objectstore.SecretsKey("acme"), []byte(`not json`), "")

	if _, err := NewStore(objects).Load(ctx, "acme"); err == nil {
		t.Fatal("expected decode error")
	}
}
