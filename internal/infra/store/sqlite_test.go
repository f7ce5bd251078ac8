package store

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DAO {
	t.Helper()

	db := NewDB(filepath.Join(t.TempDir(), "beacon.db"))
	if err := db.Open(); err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewDAO(db)
}

func TestUpsertAndListDevices(t *testing.T) {
	dao := openTestDB(t)

	rec := DeviceRecord{
		DeviceID:    "aa:bb:cc",
		Protocol:    "MRP",
		Name:        "Living Room",
		Address:     "192.168.1.20",
		Credentials: "cred-mrp",
	}
	if err := dao.UpsertDevice(rec); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	records, err := dao.ListDevices()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0] != rec {
		t.Errorf("record mismatch: got %+v", records[0])
	}
}

func TestUpsertReplacesExistingRecord(t *testing.T) {
	dao := openTestDB(t)

	rec := DeviceRecord{DeviceID: "id1", Protocol: "MRP", Name: "TV", Address: "10.0.0.5", Credentials: "old"}
	if err := dao.UpsertDevice(rec); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	rec.Credentials = "new"
	rec.Address = "10.0.0.9"
	if err := dao.UpsertDevice(rec); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	records, err := dao.ListDevices()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after replace, got %d", len(records))
	}
	if records[0].Credentials != "new" || records[0].Address != "10.0.0.9" {
		t.Errorf("replace did not apply: %+v", records[0])
	}
}

func TestMultiProtocolRecordsAreIndependent(t *testing.T) {
	dao := openTestDB(t)

	mrp := DeviceRecord{DeviceID: "id1", Protocol: "MRP", Name: "TV", Address: "10.0.0.5", Credentials: "cred-a"}
	companion := DeviceRecord{DeviceID: "id1", Protocol: "Companion", Name: "TV", Address: "10.0.0.5", Credentials: "cred-b"}

	if err := dao.UpsertDevice(mrp); err != nil {
		t.Fatalf("upsert MRP failed: %v", err)
	}
	if err := dao.UpsertDevice(companion); err != nil {
		t.Fatalf("upsert Companion failed: %v", err)
	}

	// Re-pairing one protocol must not touch the other.
	mrp.Credentials = "cred-a2"
	if err := dao.UpsertDevice(mrp); err != nil {
		t.Fatalf("re-upsert MRP failed: %v", err)
	}

	records, err := dao.ListDevices()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	byProto := make(map[string]DeviceRecord)
	for _, r := range records {
		byProto[r.Protocol] = r
	}
	if byProto["Companion"].Credentials != "cred-b" {
		t.Errorf("Companion credentials changed: %+v", byProto["Companion"])
	}
	if byProto["MRP"].Credentials != "cred-a2" {
		t.Errorf("MRP credentials not updated: %+v", byProto["MRP"])
	}
}

func TestDeleteDeviceRemovesAllProtocols(t *testing.T) {
	dao := openTestDB(t)

	dao.UpsertDevice(DeviceRecord{DeviceID: "id1", Protocol: "MRP", Name: "TV", Address: "a"})
	dao.UpsertDevice(DeviceRecord{DeviceID: "id1", Protocol: "Companion", Name: "TV", Address: "a"})
	dao.UpsertDevice(DeviceRecord{DeviceID: "id2", Protocol: "MRP", Name: "Other", Address: "b"})

	if err := dao.DeleteDevice("id1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	records, err := dao.ListDevices()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 || records[0].DeviceID != "id2" {
		t.Errorf("expected only id2 to remain, got %+v", records)
	}
}

func TestFavoriteLifecycle(t *testing.T) {
	dao := openTestDB(t)

	fav := FavoriteApp{DeviceID: "id1", BundleID: "com.example.tv", DisplayName: "Example", IconURL: ""}
	if err := dao.UpsertFavorite(fav); err != nil {
		t.Fatalf("upsert favorite failed: %v", err)
	}

	// Updating with an icon URL fills it in; updating with an empty URL
	// later must not erase it.
	fav.IconURL = "https://example.com/icon.png"
	if err := dao.UpsertFavorite(fav); err != nil {
		t.Fatalf("upsert favorite with icon failed: %v", err)
	}
	fav.IconURL = ""
	if err := dao.UpsertFavorite(fav); err != nil {
		t.Fatalf("upsert favorite without icon failed: %v", err)
	}

	got, err := dao.GetFavorite("id1", "com.example.tv")
	if err != nil {
		t.Fatalf("get favorite failed: %v", err)
	}
	if got.IconURL != "https://example.com/icon.png" {
		t.Errorf("icon URL was erased: %+v", got)
	}

	if err := dao.RemoveFavorite("id1", "com.example.tv"); err != nil {
		t.Fatalf("remove favorite failed: %v", err)
	}
	favs, err := dao.ListFavorites("id1")
	if err != nil {
		t.Fatalf("list favorites failed: %v", err)
	}
	if len(favs) != 0 {
		t.Errorf("expected no favorites after removal, got %+v", favs)
	}
}
