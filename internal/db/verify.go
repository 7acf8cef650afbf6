// SPDX-License-Identifier: MIT

package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// VerifyIntegrity checks the SQLite file for structural corruption. Mode is
// "quick" (PRAGMA quick_check) or "full" (PRAGMA integrity_check). It returns
// diagnostic rows when corruption is found, nil when healthy.
func VerifyIntegrity(path string, mode string) ([]string, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=2000", path)
	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrap("open for verification", err)
	}
	defer handle.Close()

	pragma := "PRAGMA quick_check;"
	if mode == "full" {
		pragma = "PRAGMA integrity_check;"
	}

	rows, err := handle.Query(pragma)
	if err != nil {
		return nil, wrap("integrity pragma", err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var res string
		if err := rows.Scan(&res); err != nil {
			return nil, wrap("scan integrity result", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("integrity rows", err)
	}

	// Success is exactly a single row with "ok".
	if len(results) == 1 && strings.ToLower(results[0]) == "ok" {
		return nil, nil
	}
	if len(results) == 0 {
		return []string{"no results returned from integrity check"}, nil
	}
	return results, nil
}
