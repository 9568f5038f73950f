package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbipd-go/usbipd/claim"
	"github.com/usbipd-go/usbipd/internal/config"
)

func TestClaimStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claimstate.json")
	entries := []claim.PersistedClaim{
		{DeviceKey: "1-1-1", SessionID: "s1", ClaimedAt: time.Now().Truncate(time.Second)},
	}

	require.NoError(t, config.SaveClaimState(path, entries))

	loaded, err := config.LoadClaimState(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, entries[0].DeviceKey, loaded[0].DeviceKey)
	assert.Equal(t, entries[0].SessionID, loaded[0].SessionID)
}

func TestClaimStateMissingFileIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claimstate.json")
	loaded, err := config.LoadClaimState(path)
	assert.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestClaimStateTamperedIsDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claimstate.json")
	entries := []claim.PersistedClaim{{DeviceKey: "1-1-1", SessionID: "s1", ClaimedAt: time.Now()}}
	require.NoError(t, config.SaveClaimState(path, entries))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip the first '1' in the file (the first character of the device_key
	// value) so the JSON stays well-formed but no longer matches the
	// persisted integrity tag.
	corrupted := append([]byte{}, data...)
	for i := range corrupted {
		if corrupted[i] == '1' {
			corrupted[i] = '9'
			break
		}
	}
	require.NoError(t, os.WriteFile(path, corrupted, 0o600))

	_, err = config.LoadClaimState(path)
	assert.ErrorIs(t, err, config.ErrClaimStateTampered)
}
