package config

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/usbipd-go/usbipd/claim"
)

// claimStateSalt and claimStateIterations ground the integrity tag on the
// teacher's auth.DeriveKey PBKDF2 usage (internal/server/api/auth/auth.go),
// reused here to detect a tampered or partially-written claim-state file at
// startup rather than blindly trusting it (spec.md §4.D: "on-disk claim
// state is always a superset or equal to the in-memory table").
const (
	claimStateSalt       = "usbipd-claimstate-v1"
	claimStateIterations = 100000
)

// ErrClaimStateTampered is returned by LoadClaimState when the persisted
// file's integrity tag does not match its contents.
var ErrClaimStateTampered = errors.New("config: claim state file failed integrity check")

type claimStateFile struct {
	Entries []claim.PersistedClaim `json:"entries"`
	Tag     string                 `json:"tag"`
}

func deriveTagKey() []byte {
	return pbkdf2.Key([]byte("usbipd-claimstate"), []byte(claimStateSalt), claimStateIterations, 32, sha256.New)
}

func computeTag(entries []claim.PersistedClaim) (string, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, deriveTagKey())
	mac.Write(data)
	return fmt.Sprintf("%x", mac.Sum(nil)), nil
}

// SaveClaimState writes the current claim table to path, tagged so a
// corrupted or tampered file is detected (and discarded) rather than
// trusted on the next startup reconciliation.
func SaveClaimState(path string, entries []claim.PersistedClaim) error {
	tag, err := computeTag(entries)
	if err != nil {
		return fmt.Errorf("claim state: compute tag: %w", err)
	}
	data, err := json.MarshalIndent(claimStateFile{Entries: entries, Tag: tag}, "", "  ")
	if err != nil {
		return fmt.Errorf("claim state: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("claim state: write %s: %w", path, err)
	}
	return nil
}

// LoadClaimState reads and verifies a persisted claim table. A missing file
// returns an empty slice and no error (nothing to reconcile yet); a present
// but tampered file returns ErrClaimStateTampered and an empty slice, so
// callers can proceed with a cold-start reconciliation instead of crashing.
func LoadClaimState(path string) ([]claim.PersistedClaim, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim state: read %s: %w", path, err)
	}
	var f claimStateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("claim state: parse %s: %w", path, err)
	}
	wantTag, err := computeTag(f.Entries)
	if err != nil {
		return nil, fmt.Errorf("claim state: compute tag: %w", err)
	}
	if !hmac.Equal([]byte(wantTag), []byte(f.Tag)) {
		return nil, ErrClaimStateTampered
	}
	return f.Entries, nil
}

// ClaimStatePath returns the default claim-state file path alongside the
// server's config directory.
func ClaimStatePath(configDir string) string {
	return configDir + string(os.PathSeparator) + "claimstate.json"
}
