package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/olekukonko/tablewriter"
)

// runAnalyze opens the Parquet files the server's analytics export
// sidecar wrote and runs an ad hoc SQL query against them through
// DuckDB's read_parquet table function. It never touches the running
// server or the window store directly: export is a side channel, and
// analyze reads only what that sidecar already flushed to disk.
func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	dir := fs.String("dir", "", "directory of exported Parquet files (required)")
	query := fs.String("sql", "", `SQL to run; the exported files are available as the table "windows"`)
	fs.Parse(args)

	if *dir == "" {
		return fmt.Errorf("analyze: -dir is required")
	}
	sqlText := *query
	if sqlText == "" {
		sqlText = "SELECT metric, count(*) AS rows, sum(count) AS samples FROM windows GROUP BY metric ORDER BY metric"
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	pattern := filepath.Join(*dir, "*.parquet")
	view := fmt.Sprintf("CREATE VIEW windows AS SELECT * FROM read_parquet('%s')", pattern)
	if _, err := db.Exec(view); err != nil {
		return fmt.Errorf("create view over %s: %w", pattern, err)
	}

	rows, err := db.Query(sqlText)
	if err != nil {
		return fmt.Errorf("run query: %w", err)
	}
	defer rows.Close()

	return printRows(rows)
}

func printRows(rows *sql.Rows) error {
	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("columns: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(columns)

	var nrows int
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		rendered := make([]string, len(columns))
		for i, v := range values {
			rendered[i] = fmt.Sprintf("%v", v)
		}
		table.Append(rendered)
		nrows++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}

	table.Render()
	if nrows == 0 {
		fmt.Println("(no rows)")
	}
	return nil
}
