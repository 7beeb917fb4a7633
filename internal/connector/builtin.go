package connector

// Builtin returns a registry holding every connector shipped with the service.
func Builtin() *Registry {
	r := NewRegistry()

	r.RegisterSource("csv", "Comma separated values file", map[string]interface{}{
		"file_path": "/path/to/file.csv",
	}, NewCSVSource)
	r.RegisterSink("csv", "Comma separated values file", map[string]interface{}{
		"directory": "/path/to/output",
	}, NewCSVSink)

	r.RegisterSource("json", "JSON array of objects", map[string]interface{}{
		"file_path": "/path/to/file.json",
	}, NewJSONSource)
	r.RegisterSink("json", "JSON array of objects", map[string]interface{}{
		"directory": "/path/to/output",
	}, NewJSONSink)

	r.RegisterSource("excel", "Excel workbook (.xlsx)", map[string]interface{}{
		"file_path":  "/path/to/file.xlsx",
		"sheet_name": "Sheet1",
	}, NewExcelSource)
	r.RegisterSink("parquet", "Apache Parquet file", map[string]interface{}{
		"directory": "/path/to/output",
	}, NewParquetSink)

	r.RegisterSource("sqlite", "SQLite database", map[string]interface{}{
		"database_path": "/path/to/database.db",
		"table":         "source_table",
	}, NewSQLiteSource)
	r.RegisterSink("sqlite", "SQLite database", map[string]interface{}{
		"database_path": "/path/to/database.db",
	}, NewSQLiteSink)

	pg := map[string]interface{}{
		"host":     "localhost",
		"port":     5432,
		"database": "mydb",
		"user":     "user",
		"password": "password",
		"schema":   "public",
	}
	r.RegisterSource("postgresql", "PostgreSQL database", pg, NewPostgresSource)
	r.RegisterSink("postgresql", "PostgreSQL database", pg, NewPostgresSink)

	my := map[string]interface{}{
		"host":     "localhost",
		"port":     3306,
		"database": "mydb",
		"user":     "user",
		"password": "password",
	}
	r.RegisterSource("mysql", "MySQL database", my, NewMySQLSource)
	r.RegisterSink("mysql", "MySQL database", my, NewMySQLSink)

	r.RegisterSink("ftp", "CSV upload to an FTP server", map[string]interface{}{
		"host":      "ftp.example.com",
		"port":      21,
		"user":      "user",
		"password":  "password",
		"directory": "/exports",
	}, NewFTPSink)

	return r
}
