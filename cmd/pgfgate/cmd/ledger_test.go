package cmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgf-fleet/pgfgate/session"
	bboltstore "github.com/pgf-fleet/pgfgate/session/bbolt"
)

var inspectNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func liveEntry(key string) ledgerEntry {
	issued := inspectNow.Add(-10 * time.Minute)
	return ledgerEntry{Key: key, Record: session.Record{
		Subject:          "7",
		IssuedAt:         issued,
		ExpiresAt:        issued.Add(time.Hour),
		RefreshIssuedAt:  issued,
		RefreshExpiresAt: issued.Add(7 * 24 * time.Hour),
	}}
}

func checkStatus(t *testing.T, result inspectResult, name string) string {
	t.Helper()
	for _, c := range result.Checks {
		if c.Name == name {
			return c.Status
		}
	}
	t.Fatalf("check %s not reported", name)
	return ""
}

func TestInspect_Clean(t *testing.T) {
	result := inspectLedger([]ledgerEntry{liveEntry("a"), liveEntry("b")}, inspectNow)

	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.Records)
	assert.Equal(t, 2, result.Live)
	for _, c := range result.Checks {
		assert.Equal(t, "pass", c.Status, c.Name)
	}
}

func TestInspect_Empty(t *testing.T) {
	result := inspectLedger(nil, inspectNow)
	assert.True(t, result.Valid)
	assert.Zero(t, result.Records)
}

func TestInspect_Corrupt(t *testing.T) {
	entries := []ledgerEntry{liveEntry("a"), {Key: "0123456789abcdef", Err: errors.New("unexpected end of JSON input")}}
	result := inspectLedger(entries, inspectNow)

	assert.False(t, result.Valid)
	assert.Equal(t, 1, result.Corrupt)
	assert.Equal(t, "fail", checkStatus(t, result, "decodable"))
	assert.Equal(t, 1, result.Live, "corrupt records are not counted as live")
}

func TestInspect_BackwardsWindow(t *testing.T) {
	e := liveEntry("a")
	e.Record.ExpiresAt = e.Record.IssuedAt
	result := inspectLedger([]ledgerEntry{e}, inspectNow)

	assert.False(t, result.Valid)
	assert.Equal(t, "fail", checkStatus(t, result, "access_window"))
}

func TestInspect_AccessOutlivesRefresh(t *testing.T) {
	e := liveEntry("a")
	e.Record.RefreshExpiresAt = e.Record.IssuedAt.Add(30 * time.Minute)
	result := inspectLedger([]ledgerEntry{e}, inspectNow)

	assert.True(t, result.Valid, "a warning does not invalidate the ledger")
	assert.Equal(t, "warn", checkStatus(t, result, "refresh_window"))
}

func TestInspect_Expired(t *testing.T) {
	old := liveEntry("old")
	old.Record.IssuedAt = inspectNow.Add(-3 * time.Hour)
	old.Record.ExpiresAt = inspectNow.Add(-2 * time.Hour)
	result := inspectLedger([]ledgerEntry{old, liveEntry("new")}, inspectNow)

	assert.True(t, result.Valid)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 1, result.Live)
	assert.Equal(t, "warn", checkStatus(t, result, "expired_records"))
}

func TestPrintHumanInspect(t *testing.T) {
	entries := []ledgerEntry{{Key: "k", Err: errors.New("bad")}}
	result := inspectLedger(entries, inspectNow)
	result.File = "data/sessions.db"

	var buf bytes.Buffer
	printHumanInspect(&buf, result)
	out := buf.String()
	assert.Contains(t, out, "Session ledger: data/sessions.db")
	assert.Contains(t, out, "[FAIL] decodable")
	assert.Contains(t, out, "Result: INVALID (1 error(s), 0 warning(s))")
}

func TestLedgerCommandsAgainstFile(t *testing.T) {
	dir := t.TempDir()
	s, err := bboltstore.NewStoreFromFile(filepath.Join(dir, ledgerFile), nil)
	require.NoError(t, err)
	now := time.Now()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "live", session.Record{IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.Put(ctx, "gone", session.Record{IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, s.Close())

	ledgerDataDir = dir
	t.Cleanup(func() { ledgerDataDir = "./data" })

	var out bytes.Buffer
	ledgerInspectCmd.SetOut(&out)
	require.NoError(t, ledgerInspectCmd.RunE(ledgerInspectCmd, nil))
	assert.Contains(t, out.String(), "live 1, expired 1")

	out.Reset()
	ledgerSweepCmd.SetOut(&out)
	require.NoError(t, ledgerSweepCmd.RunE(ledgerSweepCmd, nil))
	assert.Contains(t, out.String(), "Removed 1 record(s)")
}
