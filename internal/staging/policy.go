package staging

import (
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// MB is one mebibyte, the unit the size limits are expressed in.
const MB int64 = 1 << 20

var (
	spreadsheetExtensions = []string{".csv", ".xlsx", ".xls"}
	schemaExtensions      = []string{".csv", ".xlsx", ".xls", ".json"}
)

// Policy is the admission gate for a slot.
type Policy struct {
	MaxFileSize       int64
	AllowedExtensions []string // lower-case, with leading dot
}

var (
	// SingleBoxPolicy applies when the page offers one upload box.
	SingleBoxPolicy = Policy{MaxFileSize: 10 * MB, AllowedExtensions: spreadsheetExtensions}

	// MultiBoxPolicy applies to the data boxes of the multi-box layout.
	MultiBoxPolicy = Policy{MaxFileSize: 50 * MB, AllowedExtensions: spreadsheetExtensions}

	// SchemaPolicy applies to the schema boxes; schema exports may also be JSON.
	SchemaPolicy = Policy{MaxFileSize: 50 * MB, AllowedExtensions: schemaExtensions}
)

// Check returns nil if a file with the given name and size may enter a slot
// governed by p. The size check runs first, so an oversized file of the
// wrong type reports as too large.
func (p Policy) Check(name string, size int64) error {
	if size > p.MaxFileSize {
		return ErrFileTooLarge
	}
	if !p.Allows(name) {
		return ErrUnsupportedType
	}
	return nil
}

// Allows reports whether name carries an allowed extension.
func (p Policy) Allows(name string) bool {
	ext := Extension(name)
	if ext == "" {
		return false
	}
	return slices.Contains(p.AllowedExtensions, ext)
}

// WithMaxFileSize returns a copy of p with a different size limit.
func (p Policy) WithMaxFileSize(n int64) Policy {
	p.AllowedExtensions = slices.Clone(p.AllowedExtensions)
	p.MaxFileSize = n
	return p
}

// Extension returns the lower-cased extension after the last dot, including
// the dot. Names without a dot, and dot-files such as ".csv", have none.
func Extension(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	ext := filepath.Ext(base)
	if ext == base {
		return ""
	}
	return strings.ToLower(ext)
}

// FormatSize renders a byte count the way the upload box displays it:
// "0 Bytes", "512 Bytes", "1.5 KB", "50 MB".
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	i := 0
	for i < len(units)-1 && bytes >= int64(1)<<(10*(i+1)) {
		i++
	}
	v := float64(bytes) / float64(int64(1)<<(10*i))
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + units[i]
}
