package pricedb

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "prices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndQuerySamples(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	store.RecordAccepted("UATOM", big.NewRat(3, 2), base, true)
	store.RecordAccepted("uatom", big.NewRat(7, 5), base.Add(time.Minute), false)
	store.RecordAccepted("uosmo", big.NewRat(1, 1), base, true)

	samples, err := store.Recent("uatom", 10)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	// Most recent first, denomination normalised to lower case.
	require.Equal(t, "uatom", samples[0].Denom)
	require.Equal(t, big.NewRat(7, 5).FloatString(18), samples[0].Rate)
	require.False(t, samples[0].LimiterAdvanced)
	require.Equal(t, big.NewRat(3, 2).FloatString(18), samples[1].Rate)
	require.True(t, samples[1].LimiterAdvanced)
}

func TestRecentLimitsResults(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		store.RecordAccepted("uatom", big.NewRat(int64(i+1), 1), base.Add(time.Duration(i)*time.Minute), true)
	}

	samples, err := store.Recent("uatom", 3)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	require.Equal(t, big.NewRat(5, 1).FloatString(18), samples[0].Rate)
}

func TestRecordToleratesNilInputs(t *testing.T) {
	store := openTestStore(t)

	// Nil prices and nil stores must never panic the hot path.
	store.RecordAccepted("uatom", nil, time.Now(), false)
	var nilStore *Store
	nilStore.RecordAccepted("uatom", big.NewRat(1, 1), time.Now(), false)

	samples, err := store.Recent("uatom", 10)
	require.NoError(t, err)
	require.Empty(t, samples)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}
