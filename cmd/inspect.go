package cmd

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/iksnae/claude-relay/internal"
	"github.com/spf13/cobra"
)

var (
	inspectFormat     string
	inspectSampleRows int
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect [database-path]",
	Short: "Inspect the session database schema and contents",
	Long: `Inspect the schema and structure of the session database.

This command provides detailed information about:
  • Schema version
  • Tables, columns and types
  • Row counts and per-server number counters
  • Sample rows (tokens are redacted)

Examples:
  claude-relay inspect                          # Inspect the default database
  claude-relay inspect --db /path/sessions.db   # Inspect a specific database
  claude-relay inspect --format json --sample 5 # JSON output with 5 sample rows`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) > 0 {
			path = internal.ExpandPath(args[0])
		} else {
			paths, err := relayPaths()
			if err != nil {
				return err
			}
			if !paths.DatabaseExists() {
				return fmt.Errorf("no session database at %s", paths.DatabasePath)
			}
			path = paths.DatabasePath
		}

		db, err := internal.OpenDatabase(path)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		report, err := inspectDatabase(db, path, inspectSampleRows)
		if err != nil {
			return err
		}

		switch inspectFormat {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		case "", "text":
			printInspection(cmd.OutOrStdout(), report)
			return nil
		default:
			return fmt.Errorf("unsupported format: %s (supported: text, json)", inspectFormat)
		}
	},
}

// DatabaseReport describes a session database
type DatabaseReport struct {
	Path          string        `json:"path"`
	SchemaVersion int           `json:"schemaVersion"`
	Tables        []TableReport `json:"tables"`
}

// TableReport describes one table
type TableReport struct {
	Name    string              `json:"name"`
	Rows    int                 `json:"rows"`
	Columns []ColumnInfo        `json:"columns"`
	Sample  []map[string]string `json:"sample,omitempty"`
}

type ColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"notNull"`
	PrimaryKey bool   `json:"primaryKey"`
}

func inspectDatabase(db *sql.DB, path string, sampleRows int) (*DatabaseReport, error) {
	report := &DatabaseReport{Path: path}
	if err := db.QueryRow("PRAGMA user_version").Scan(&report.SchemaVersion); err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}

	tables, err := getTables(db)
	if err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}
	for _, name := range tables {
		table, err := inspectTable(db, name, sampleRows)
		if err != nil {
			internal.LogWarn("Error inspecting table %s: %v", name, err)
			continue
		}
		report.Tables = append(report.Tables, *table)
	}
	return report, nil
}

func getTables(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			continue
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func inspectTable(db *sql.DB, tableName string, sampleRows int) (*TableReport, error) {
	table := &TableReport{Name: tableName}

	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %q", tableName)).Scan(&table.Rows); err != nil {
		return nil, fmt.Errorf("failed to get row count: %w", err)
	}

	columns, err := getTableSchema(db, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}
	table.Columns = columns

	if table.Rows > 0 && sampleRows > 0 {
		sample, err := sampleData(db, tableName, columns, sampleRows)
		if err != nil {
			internal.LogWarn("Error reading sample data from %s: %v", tableName, err)
		}
		table.Sample = sample
	}
	return table, nil
}

func getTableSchema(db *sql.DB, tableName string) ([]ColumnInfo, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%q)", tableName))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []ColumnInfo
	for rows.Next() {
		var col ColumnInfo
		var cid int
		var notNull, pk int
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &defaultValue, &pk); err != nil {
			continue
		}
		col.NotNull = notNull == 1
		col.PrimaryKey = pk > 0
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func sampleData(db *sql.DB, tableName string, columns []ColumnInfo, limit int) ([]map[string]string, error) {
	if len(columns) == 0 {
		return nil, nil
	}

	colNames := make([]string, len(columns))
	for i, col := range columns {
		colNames[i] = fmt.Sprintf("%q", col.Name)
	}

	query := fmt.Sprintf("SELECT %s FROM %q ORDER BY rowid DESC LIMIT %d", strings.Join(colNames, ", "), tableName, limit)
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sample []map[string]string
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return sample, err
		}

		row := make(map[string]string, len(columns))
		for i, col := range columns {
			row[col.Name] = formatValue(col.Name, values[i])
		}
		sample = append(sample, row)
	}
	return sample, rows.Err()
}

func formatValue(column string, val interface{}) string {
	if val == nil {
		return "<NULL>"
	}
	var s string
	switch v := val.(type) {
	case []byte:
		s = string(v)
	default:
		s = fmt.Sprintf("%v", v)
	}
	if column == "token" {
		return internal.RedactToken(s)
	}
	// Show first line only for multi-line values
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + "..."
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func printInspection(w io.Writer, report *DatabaseReport) {
	fmt.Fprintf(w, "📋 Database: %s\n", report.Path)
	fmt.Fprintf(w, "🔖 Schema version: %d\n", report.SchemaVersion)
	if len(report.Tables) == 0 {
		fmt.Fprintln(w, "⚠️  No tables found in database")
		return
	}
	fmt.Fprintf(w, "📊 Found %d table(s)\n\n", len(report.Tables))

	for _, table := range report.Tables {
		fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
		fmt.Fprintf(w, "📦 Table: %s\n", table.Name)
		fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
		fmt.Fprintf(w, "📊 Rows: %d\n\n", table.Rows)

		fmt.Fprintf(w, "📐 Schema:\n")
		for _, col := range table.Columns {
			pk := ""
			if col.PrimaryKey {
				pk = " [PRIMARY KEY]"
			}
			notNull := ""
			if col.NotNull {
				notNull = " NOT NULL"
			}
			fmt.Fprintf(w, "  • %s: %s%s%s\n", col.Name, col.Type, notNull, pk)
		}
		fmt.Fprintln(w)

		if len(table.Sample) > 0 {
			fmt.Fprintf(w, "📄 Sample Data (latest %d rows):\n", len(table.Sample))
			for i, row := range table.Sample {
				fmt.Fprintf(w, "\n  Row %d:\n", i+1)
				for _, col := range table.Columns {
					fmt.Fprintf(w, "    %s: %s\n", col.Name, row[col.Name])
				}
			}
			fmt.Fprintln(w)
		}
	}
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "text", "Output format (text, json)")
	inspectCmd.Flags().IntVar(&inspectSampleRows, "sample", 3, "Number of sample rows to show")
}
