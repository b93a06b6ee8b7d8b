package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"

	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/persistence/middleware"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	// Setup
	underlyingStore := memory.NewStore()
	key := generateKey(t)
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	instanceID := "test-instance"
	originalState := domain.NewSnapshot(instanceID, "g", "v1")
	originalState.Status = domain.StatusRunning
	originalState.Seq = 7
	originalState.Vars["secret"] = "my-secret-sauce"

	// 1. Save
	if err := secureStore.Save(ctx, instanceID, originalState); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// 2. Verify Underlying Store directly (Should be encrypted)
	storedState, err := underlyingStore.Load(ctx, instanceID)
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}
	if val, ok := storedState.Vars["secret"]; ok {
		t.Fatalf("Expected secret to be hidden, found: %v", val)
	}
	if _, ok := storedState.Vars["__encrypted__"]; !ok {
		t.Fatal("Expected __encrypted__ field in vars")
	}
	if storedState.Seq != 7 || storedState.Status != domain.StatusRunning {
		t.Errorf("Envelope should expose seq and status, got %d/%s", storedState.Seq, storedState.Status)
	}

	// 3. Load via Middleware (Should be decrypted)
	loadedState, err := secureStore.Load(ctx, instanceID)
	if err != nil {
		t.Fatalf("Load via middleware failed: %v", err)
	}
	if loadedState.Vars["secret"] != "my-secret-sauce" {
		t.Errorf("Expected 'my-secret-sauce', got %v", loadedState.Vars["secret"])
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	// Setup
	underlyingStore := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	// Create middleware with OLD key to save initial state
	mwOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})
	secureStoreOld := mwOld(underlyingStore)

	ctx := context.Background()
	instanceID := "rotation-instance"
	originalState := domain.NewSnapshot(instanceID, "g", "v1")
	originalState.Status = domain.StatusRunning
	originalState.Seq = 7
	originalState.Vars["data"] = "encrypted-with-old-key"

	// 1. Save with OLD key
	if err := secureStoreOld.Save(ctx, instanceID, originalState); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// 2. Load with NEW key (Active) + OLD key (Fallback)
	mwNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})
	secureStoreNew := mwNew(underlyingStore)

	loadedState, err := secureStoreNew.Load(ctx, instanceID)
	if err != nil {
		t.Fatalf("Load with rotated key failed: %v", err)
	}

	if loadedState.Vars["data"] != "encrypted-with-old-key" {
		t.Errorf("Decryption with fallback key key failed")
	}

	// 3. Save again (Should now define with NEW key)
	loadedState.Vars["data"] = "encrypted-with-new-key"
	if err := secureStoreNew.Save(ctx, instanceID, loadedState); err != nil {
		t.Fatalf("Save with new key failed: %v", err)
	}

	// 4. Verify we CANNOT load with just OLD key anymore
	_, err = secureStoreOld.Load(ctx, instanceID)
	if err == nil {
		t.Error("Expected failure when loading new-key encryption with old-key middleware")
	}
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for invalid key size")
		}
	}()
	middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
}
