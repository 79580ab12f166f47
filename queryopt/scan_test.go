package queryopt

import "testing"

type userRow struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

func TestScanRowsMapsColumnsByDBTag(t *testing.T) {
	rows := []map[string]interface{}{
		{"id": int64(1), "name": "alice"},
		{"id": int64(2), "name": "bob"},
	}

	var users []userRow
	if err := ScanRows(rows, &users); err != nil {
		t.Fatalf("ScanRows failed: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[0].ID != 1 || users[0].Name != "alice" {
		t.Fatalf("unexpected first row: %+v", users[0])
	}
	if users[1].ID != 2 || users[1].Name != "bob" {
		t.Fatalf("unexpected second row: %+v", users[1])
	}
}

func TestScanRowsSkipsUnknownColumnsAndNils(t *testing.T) {
	rows := []map[string]interface{}{
		{"id": int64(3), "name": "carol", "extra": "ignored", "nilval": nil},
	}

	var users []userRow
	if err := ScanRows(rows, &users); err != nil {
		t.Fatalf("ScanRows failed: %v", err)
	}
	if len(users) != 1 || users[0].ID != 3 || users[0].Name != "carol" {
		t.Fatalf("unexpected result: %+v", users)
	}
}

func TestScanRowsRejectsNonSlicePointerDest(t *testing.T) {
	var dest userRow
	if err := ScanRows(nil, dest); err == nil {
		t.Fatal("expected error for non-pointer dest")
	}
}
