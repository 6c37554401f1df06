package store

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Key prefixes.
const (
	RecordPrefix = "estimates/"
	UploadPrefix = "uploads/"
)

const recordExt = ".json"

// RecordKey builds estimates/<YYYY-MM>/<zip>-<ULID>.json. The month comes
// from the ULID timestamp so the key alone dates the record.
func RecordKey(id ulid.ULID, zip string) string {
	month := ulid.Time(id.Time()).UTC().Format("2006-01")
	return fmt.Sprintf("%s%s/%s-%s%s", RecordPrefix, month, safeSegment(zip), id, recordExt)
}

// RecordKeyInfo is what a record key encodes.
type RecordKeyInfo struct {
	ID        ulid.ULID
	Zip       string
	CreatedAt time.Time
}

// ParseRecordKey extracts the ID, zip and creation time from a record key.
func ParseRecordKey(key string) (RecordKeyInfo, bool) {
	rest, ok := strings.CutPrefix(key, RecordPrefix)
	if !ok {
		return RecordKeyInfo{}, false
	}
	month, name, ok := strings.Cut(rest, "/")
	if !ok || strings.Contains(name, "/") {
		return RecordKeyInfo{}, false
	}
	name, ok = strings.CutSuffix(name, recordExt)
	if !ok || len(name) < ulid.EncodedSize+2 {
		return RecordKeyInfo{}, false
	}
	sep := len(name) - ulid.EncodedSize - 1
	if name[sep] != '-' {
		return RecordKeyInfo{}, false
	}
	id, err := ulid.ParseStrict(name[sep+1:])
	if err != nil {
		return RecordKeyInfo{}, false
	}
	created := ulid.Time(id.Time()).UTC()
	if created.Format("2006-01") != month {
		return RecordKeyInfo{}, false
	}
	return RecordKeyInfo{ID: id, Zip: name[:sep], CreatedAt: created}, true
}

// MonthPrefix is the listing prefix for records created in t's month.
func MonthPrefix(t time.Time) string {
	return RecordPrefix + t.UTC().Format("2006-01") + "/"
}

var uploadExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// UploadKey builds uploads/<batchID>/<uuid><ext>. The extension follows the
// declared content type, falling back to the client's file name.
func UploadKey(batchID, pathname, contentType string) string {
	ext, ok := uploadExt[contentType]
	if !ok {
		ext = strings.ToLower(filepath.Ext(pathname))
		if len(ext) > 8 || strings.ContainsAny(ext, "/\\") {
			ext = ""
		}
	}
	return UploadPrefix + batchID + "/" + uuid.NewString() + ext
}

// safeSegment keeps letters, digits and '-' so user input cannot add path
// segments to a key.
func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "none"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
