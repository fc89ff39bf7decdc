package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

const uriScheme = "s3://"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// Location is a parsed s3://bucket/key reference. A key ending in "/"
// names a directory that generated keys are placed under.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return uriScheme + l.Bucket + "/" + l.Key
}

func (l Location) IsDir() bool {
	return l.Key == "" || strings.HasSuffix(l.Key, "/")
}

// IsObjectURI reports whether raw refers to the object store rather than a
// local file.
func IsObjectURI(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), uriScheme)
}

func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, uriScheme) {
		return Location{}, fmt.Errorf("object uri must start with %s: %q", uriScheme, raw)
	}
	bucket, key, _ := strings.Cut(strings.TrimPrefix(raw, uriScheme), "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("object uri has no bucket: %q", raw)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// BuildResultKey names a fetched result buffer:
// <dir>/<table>/date=YYYY-MM-DD/<table>-<unix-millis>.arrows.
func BuildResultKey(dir, table string, fetchedAt time.Time) (string, error) {
	if err := validatePathComponent(table, "table name"); err != nil {
		return "", err
	}
	ts := fetchedAt.UTC()
	return path.Join(
		strings.Trim(dir, "/"),
		table,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("%s-%d.arrows", table, ts.UnixMilli()),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
