package common

import (
	"testing"

	"basketd/storage"
)

func TestPauseStoreTogglesModules(t *testing.T) {
	store := NewPauseStore(storage.NewMemDB())

	if store.IsPaused("cdp") {
		t.Fatal("fresh store must report unpaused")
	}
	if err := store.SetPaused("CDP", true); err != nil {
		t.Fatalf("set paused: %v", err)
	}
	if !store.IsPaused("cdp") {
		t.Fatal("pause toggle not visible")
	}
	if err := Guard(store, "cdp"); err != ErrModulePaused {
		t.Fatalf("guard on paused module: got %v", err)
	}

	modules, err := store.Paused()
	if err != nil {
		t.Fatalf("list paused: %v", err)
	}
	if len(modules) != 1 || modules[0] != "cdp" {
		t.Fatalf("paused list = %v", modules)
	}

	if err := store.SetPaused("cdp", false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if store.IsPaused("cdp") {
		t.Fatal("unpause not applied")
	}
	if err := Guard(store, "cdp"); err != nil {
		t.Fatalf("guard after unpause: %v", err)
	}
}

func TestPauseStoreValidation(t *testing.T) {
	store := NewPauseStore(storage.NewMemDB())

	if err := store.SetPaused("  ", true); err == nil {
		t.Fatal("expected error for empty module name")
	}
	var nilStore *PauseStore
	if nilStore.IsPaused("cdp") {
		t.Fatal("nil store must read unpaused")
	}
	if err := nilStore.SetPaused("cdp", true); err == nil {
		t.Fatal("nil store must reject writes")
	}
}
