package db_test

import (
	"context"
	"testing"

	"github.com/onnwee/nomi-bridge/db"
	"github.com/onnwee/nomi-bridge/testutil"
)

func TestCredentialRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()

	if err := db.UpsertCredential(ctx, database, "user-1", db.ProviderLLM, "sk-abc", "gpt-4o-mini"); err != nil {
		t.Fatalf("UpsertCredential: %v", err)
	}
	key, model, err := db.GetCredential(ctx, database, "user-1", db.ProviderLLM)
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if key != "sk-abc" || model != "gpt-4o-mini" {
		t.Errorf("got %q/%q", key, model)
	}

	// Update replaces the stored values.
	if err := db.UpsertCredential(ctx, database, "user-1", db.ProviderLLM, "sk-new", "gpt-4o"); err != nil {
		t.Fatalf("UpsertCredential update: %v", err)
	}
	key, model, err = db.GetCredential(ctx, database, "user-1", db.ProviderLLM)
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if key != "sk-new" || model != "gpt-4o" {
		t.Errorf("after update got %q/%q", key, model)
	}
}

func TestGetCredentialMissing(t *testing.T) {
	database := testutil.SetupTestDB(t)
	key, model, err := db.GetCredential(context.Background(), database, "nobody", db.ProviderNomi)
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if key != "" || model != "" {
		t.Errorf("expected zero values, got %q/%q", key, model)
	}
}
