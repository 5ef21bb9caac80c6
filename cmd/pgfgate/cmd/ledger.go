package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/pgf-fleet/pgfgate/session"
	bboltstore "github.com/pgf-fleet/pgfgate/session/bbolt"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Session ledger maintenance tools",
	Long: `Commands for inspecting and pruning a bbolt session ledger. Stop the
gateway first; bbolt allows one writer per file.`,
}

// ledgerEntry is one stored record as read back from disk.
type ledgerEntry struct {
	Key    string
	Record session.Record
	Err    error
}

type inspectResult struct {
	File    string        `json:"file"`
	Records int           `json:"records"`
	Live    int           `json:"live"`
	Expired int           `json:"expired"`
	Corrupt int           `json:"corrupt"`
	Valid   bool          `json:"valid"`
	Checks  []checkResult `json:"checks"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

var errLedgerInvalid = errors.New("ledger has invalid records")

func inspectLedger(entries []ledgerEntry, now time.Time) inspectResult {
	result := inspectResult{Records: len(entries), Valid: true}

	// 1. Every record decodes.
	var firstCorrupt string
	for _, e := range entries {
		if e.Err != nil {
			if result.Corrupt == 0 {
				firstCorrupt = fmt.Sprintf("key %s: %v", shortKey(e.Key), e.Err)
			}
			result.Corrupt++
		}
	}
	if result.Corrupt == 0 {
		result.Checks = append(result.Checks, checkResult{Name: "decodable", Status: "pass"})
	} else {
		result.Valid = false
		result.Checks = append(result.Checks, checkResult{
			Name:   "decodable",
			Status: "fail",
			Detail: fmt.Sprintf("%d corrupt record(s), first %s", result.Corrupt, firstCorrupt),
		})
	}

	// 2. Access windows run forward.
	windowDetail := ""
	for _, e := range entries {
		if e.Err == nil && !e.Record.ExpiresAt.After(e.Record.IssuedAt) {
			windowDetail = fmt.Sprintf("key %s expires at %s, not after issue at %s",
				shortKey(e.Key), e.Record.ExpiresAt.Format(time.RFC3339), e.Record.IssuedAt.Format(time.RFC3339))
			break
		}
	}
	if windowDetail == "" {
		result.Checks = append(result.Checks, checkResult{Name: "access_window", Status: "pass"})
	} else {
		result.Valid = false
		result.Checks = append(result.Checks, checkResult{Name: "access_window", Status: "fail", Detail: windowDetail})
	}

	// 3. Access never outlives its refresh token. Upstream may grant
	// that, so it is only a warning.
	refreshDetail := ""
	for _, e := range entries {
		rec := e.Record
		if e.Err != nil || rec.RefreshExpiresAt.IsZero() {
			continue
		}
		if rec.RefreshExpiresAt.Before(rec.RefreshIssuedAt) || rec.ExpiresAt.After(rec.RefreshExpiresAt) {
			refreshDetail = fmt.Sprintf("key %s access expires %s, refresh window ends %s",
				shortKey(e.Key), rec.ExpiresAt.Format(time.RFC3339), rec.RefreshExpiresAt.Format(time.RFC3339))
			break
		}
	}
	if refreshDetail == "" {
		result.Checks = append(result.Checks, checkResult{Name: "refresh_window", Status: "pass"})
	} else {
		result.Checks = append(result.Checks, checkResult{Name: "refresh_window", Status: "warn", Detail: refreshDetail})
	}

	// 4. Expired records still on disk.
	for _, e := range entries {
		if e.Err != nil {
			continue
		}
		if e.Record.Expired(now) {
			result.Expired++
		} else {
			result.Live++
		}
	}
	if result.Expired == 0 {
		result.Checks = append(result.Checks, checkResult{Name: "expired_records", Status: "pass"})
	} else {
		result.Checks = append(result.Checks, checkResult{
			Name:   "expired_records",
			Status: "warn",
			Detail: fmt.Sprintf("%d expired record(s) awaiting sweep", result.Expired),
		})
	}

	return result
}

func shortKey(k string) string {
	if len(k) > 12 {
		return k[:12] + "…"
	}
	return k
}

func printHumanInspect(w io.Writer, result inspectResult) {
	fmt.Fprintf(w, "Session ledger: %s\n", result.File)
	fmt.Fprintf(w, "Records: %d (live %d, expired %d, corrupt %d)\n\n", result.Records, result.Live, result.Expired, result.Corrupt)

	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case "fail":
			tag = "[FAIL]"
		case "warn":
			tag = "[WARN]"
		}
		if c.Detail != "" {
			fmt.Fprintf(w, "%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "%s %s\n", tag, c.Name)
		}
	}

	fmt.Fprintln(w)
	if result.Valid {
		fmt.Fprintln(w, "Result: VALID")
		return
	}
	failures, warnings := 0, 0
	for _, c := range result.Checks {
		switch c.Status {
		case "fail":
			failures++
		case "warn":
			warnings++
		}
	}
	fmt.Fprintf(w, "Result: INVALID (%d error(s), %d warning(s))\n", failures, warnings)
}

var (
	ledgerDataDir string
	ledgerJSON    bool
)

func openLedgerFile() (*bboltstore.Store, string, error) {
	path := filepath.Join(ledgerDataDir, ledgerFile)
	s, err := bboltstore.NewStoreFromFile(path, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, path, fmt.Errorf("opening %s (is the gateway still running?): %w", path, err)
	}
	return s, path, nil
}

var ledgerInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Check a bbolt session ledger for corrupt or inconsistent records",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, path, err := openLedgerFile()
		if err != nil {
			return err
		}
		defer s.Close()

		var entries []ledgerEntry
		err = s.ForEach(func(key string, rec session.Record, decodeErr error) error {
			entries = append(entries, ledgerEntry{Key: key, Record: rec, Err: decodeErr})
			return nil
		})
		if err != nil {
			return fmt.Errorf("reading ledger: %w", err)
		}

		result := inspectLedger(entries, time.Now())
		result.File = path
		if ledgerJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
		} else {
			printHumanInspect(cmd.OutOrStdout(), result)
		}
		if !result.Valid {
			return errLedgerInvalid
		}
		return nil
	},
}

var ledgerSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired and corrupt records from a bbolt session ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, path, err := openLedgerFile()
		if err != nil {
			return err
		}
		defer s.Close()
		n := s.Sweep(time.Now())
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d record(s) from %s\n", n, path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.PersistentFlags().StringVar(&ledgerDataDir, "data-dir", "./data", "Directory holding the bbolt ledger")
	ledgerCmd.AddCommand(ledgerInspectCmd, ledgerSweepCmd)
	ledgerInspectCmd.Flags().BoolVar(&ledgerJSON, "json", false, "Output results as JSON")
}
