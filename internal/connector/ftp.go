package connector

import (
	"bytes"
	"context"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/models"
)

type ftpConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Directory      string `mapstructure:"directory"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ftpSink uploads each destination as a CSV file to an FTP server.
// A connection is opened per call.
type ftpSink struct {
	addr     string
	user     string
	password string
	dir      string
	timeout  time.Duration
}

func NewFTPSink(cfg models.ConnectorConfig) (Sink, error) {
	var c ftpConfig
	if err := decodeConfig("ftp", cfg, &c); err != nil {
		return nil, err
	}
	if err := required("ftp", map[string]string{"host": c.Host}); err != nil {
		return nil, err
	}
	if c.Port == 0 {
		c.Port = 21
	}
	if c.User == "" {
		c.User = "anonymous"
		c.Password = "anonymous"
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	return &ftpSink{
		addr:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		user:     c.User,
		password: c.Password,
		dir:      c.Directory,
		timeout:  time.Duration(c.TimeoutSeconds) * time.Second,
	}, nil
}

func (s *ftpSink) connect(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(s.addr, ftp.DialWithTimeout(s.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", s.addr)
	}
	if err := conn.Login(s.user, s.password); err != nil {
		_ = conn.Quit()
		return nil, errors.Wrap(err, "login")
	}
	return conn, nil
}

func (s *ftpSink) remote(name string) string {
	if s.dir == "" {
		return name + ".csv"
	}
	return path.Join(s.dir, name+".csv")
}

func (s *ftpSink) Write(ctx context.Context, ds *Dataset, destination string) (int64, error) {
	var buf bytes.Buffer
	if err := encodeCSV(&buf, ds, ','); err != nil {
		return 0, errors.Wrap(err, "encode csv")
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Quit()

	if err := conn.Stor(s.remote(destination), &buf); err != nil {
		return 0, errors.Wrapf(err, "upload %s", s.remote(destination))
	}
	return int64(ds.Len()), nil
}

func (s *ftpSink) Objects(ctx context.Context) ([]string, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	dir := s.dir
	if dir == "" {
		dir = "."
	}
	entries, err := conn.List(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	objects := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type == ftp.EntryTypeFile && strings.HasSuffix(e.Name, ".csv") {
			objects = append(objects, strings.TrimSuffix(e.Name, ".csv"))
		}
	}
	sort.Strings(objects)
	return objects, nil
}

func (s *ftpSink) Preview(ctx context.Context, object string, limit int) (*Dataset, error) {
	if strings.Contains(object, "/") {
		return nil, apperrors.Validationf("invalid object name %q", object)
	}
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	resp, err := conn.Retr(s.remote(object))
	if err != nil {
		return nil, errors.Wrapf(err, "download %s", s.remote(object))
	}
	defer resp.Close()

	ds, err := decodeCSV(resp, ',')
	if err != nil {
		return nil, err
	}
	return ds.Limit(limit), nil
}

func (s *ftpSink) Close() error { return nil }
