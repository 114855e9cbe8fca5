package store_test

import (
	"testing"

	"github.com/fieldgrid/fieldgrid/server/internal/store"
	"github.com/fieldgrid/fieldgrid/server/internal/store/storetest"
)

func TestMemoryConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return store.NewMemory() })
}
