package connector

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/models"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type sqlFlavor int

const (
	flavorSQLite sqlFlavor = iota
	flavorPostgres
	flavorMySQL
)

type sqlConfig struct {
	DatabasePath string `mapstructure:"database_path"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Database     string `mapstructure:"database"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Schema       string `mapstructure:"schema"`
	SSLMode      string `mapstructure:"sslmode"`
	Table        string `mapstructure:"table"`
}

// sqlConnector serves as both source and sink for one database.
type sqlConnector struct {
	db     *sql.DB
	flavor sqlFlavor
	schema string
	table  string
}

func openSQL(flavor sqlFlavor, cfg models.ConnectorConfig) (*sqlConnector, error) {
	var c sqlConfig
	kind := flavor.String()
	if err := decodeConfig(kind, cfg, &c); err != nil {
		return nil, err
	}

	var driver, dsn string
	switch flavor {
	case flavorSQLite:
		if err := required(kind, map[string]string{"database_path": c.DatabasePath}); err != nil {
			return nil, err
		}
		driver, dsn = "sqlite", c.DatabasePath
	case flavorPostgres:
		if err := required(kind, map[string]string{"host": c.Host, "database": c.Database, "user": c.User}); err != nil {
			return nil, err
		}
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Path:     "/" + c.Database,
			RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
		}
		driver, dsn = "postgres", u.String()
		if c.Schema == "" {
			c.Schema = "public"
		}
	case flavorMySQL:
		if err := required(kind, map[string]string{"host": c.Host, "database": c.Database, "user": c.User}); err != nil {
			return nil, err
		}
		if c.Port == 0 {
			c.Port = 3306
		}
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		driver, dsn = "mysql", mc.FormatDSN()
		// a MySQL schema is the database itself
		c.Schema = ""
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfiguration, err, "invalid "+kind+" connection settings")
	}
	if flavor == flavorSQLite {
		db.SetMaxOpenConns(1)
	}
	return &sqlConnector{db: db, flavor: flavor, schema: c.Schema, table: c.Table}, nil
}

func (f sqlFlavor) String() string {
	switch f {
	case flavorPostgres:
		return "postgresql"
	case flavorMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

func NewSQLiteSource(cfg models.ConnectorConfig) (Source, error) { return openSQL(flavorSQLite, cfg) }
func NewPostgresSource(cfg models.ConnectorConfig) (Source, error) {
	return openSQL(flavorPostgres, cfg)
}
func NewMySQLSource(cfg models.ConnectorConfig) (Source, error) { return openSQL(flavorMySQL, cfg) }
func NewSQLiteSink(cfg models.ConnectorConfig) (Sink, error)    { return openSQL(flavorSQLite, cfg) }
func NewPostgresSink(cfg models.ConnectorConfig) (Sink, error)  { return openSQL(flavorPostgres, cfg) }
func NewMySQLSink(cfg models.ConnectorConfig) (Sink, error)     { return openSQL(flavorMySQL, cfg) }

func (c *sqlConnector) quote(ident string) string {
	if c.flavor == flavorMySQL {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (c *sqlConnector) qualified(name string) string {
	if c.schema != "" {
		return c.quote(c.schema) + "." + c.quote(name)
	}
	return c.quote(name)
}

func (c *sqlConnector) placeholder(n int) string {
	if c.flavor == flavorPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Read runs query, or selects the configured table when query is empty.
func (c *sqlConnector) Read(ctx context.Context, query string) (*Dataset, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		if c.table == "" {
			return nil, apperrors.Configurationf("%s source needs a query or a table", c.flavor)
		}
		query = "SELECT * FROM " + c.qualified(c.table)
	}
	return c.query(ctx, query)
}

func (c *sqlConnector) query(ctx context.Context, query string, args ...interface{}) (*Dataset, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "read columns")
	}
	ds := &Dataset{Columns: columns, Rows: [][]interface{}{}}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		ds.Rows = append(ds.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rows")
	}
	return ds, nil
}

// Write replaces the destination table: it is dropped, recreated with TEXT
// columns and filled inside one transaction.
func (c *sqlConnector) Write(ctx context.Context, ds *Dataset, destination string) (int64, error) {
	if len(ds.Columns) == 0 {
		return 0, errors.New("dataset has no columns")
	}
	table := c.qualified(destination)

	cols := make([]string, len(ds.Columns))
	marks := make([]string, len(ds.Columns))
	for i, col := range ds.Columns {
		cols[i] = c.quote(col)
		marks[i] = c.placeholder(i + 1)
	}
	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = col + " TEXT"
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return 0, errors.Wrapf(err, "drop %s", destination)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return 0, errors.Wrapf(err, "create %s", destination)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return 0, errors.Wrapf(err, "prepare insert into %s", destination)
	}
	defer stmt.Close()

	var written int64
	args := make([]interface{}, len(ds.Columns))
	for _, row := range ds.Rows {
		for i := range args {
			args[i] = nil
			if i < len(row) && row[i] != nil {
				args[i] = formatValue(row[i])
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return written, errors.Wrapf(err, "insert into %s", destination)
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit")
	}
	return written, nil
}

func (c *sqlConnector) Objects(ctx context.Context) ([]string, error) {
	var (
		query string
		args  []interface{}
	)
	switch c.flavor {
	case flavorSQLite:
		query = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	case flavorPostgres:
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = $1 ORDER BY table_name`
		args = append(args, c.schema)
	case flavorMySQL:
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name`
	}
	ds, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	objects := make([]string, 0, ds.Len())
	for _, row := range ds.Rows {
		objects = append(objects, formatValue(row[0]))
	}
	return objects, nil
}

func (c *sqlConnector) Preview(ctx context.Context, object string, limit int) (*Dataset, error) {
	if limit <= 0 {
		limit = 10
	}
	return c.query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", c.qualified(object), limit))
}

func (c *sqlConnector) Close() error {
	return c.db.Close()
}
