package sqlstore

import (
	"testing"
)

var testStore *SQLStore

func SetupTestDB(t *testing.T) {
	var err error
	testStore, err = New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
}

func TeardownTestDB() {
	if testStore != nil {
		testStore.Close()
		testStore = nil
	}
}
