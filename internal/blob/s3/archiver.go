package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/annabazaar/pricingengine/internal/domain"
)

const (
	jsonContentType = "application/json"
	// RawPrefix is the key prefix for archived mandi feed responses.
	RawPrefix = "mandi/raw/"
	// multipartThreshold switches Archive to the multipart uploader.
	multipartThreshold = 8 * 1024 * 1024
)

// PayloadArchiver implements domain.PayloadArchiver on top of a BlobWriter.
// The first payload of a commodity and day takes the plain day key. When a
// reader is configured, later runs that day get a time-suffixed key so the
// archive is never overwritten.
type PayloadArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewPayloadArchiver creates a PayloadArchiver. reader may be nil, in which
// case a later run the same day replaces the earlier object.
func NewPayloadArchiver(writer domain.BlobWriter, reader domain.BlobReader) *PayloadArchiver {
	return &PayloadArchiver{writer: writer, reader: reader}
}

// Archive uploads payload and returns the key it was written to.
func (a *PayloadArchiver) Archive(ctx context.Context, commodity string, fetchedAt time.Time, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("s3blob: archive %s: empty payload", commodity)
	}

	key := RawPayloadPath(commodity, fetchedAt)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive %s: %w", commodity, err)
		}
		if exists {
			key = rerunPayloadPath(commodity, fetchedAt)
		}
	}

	var err error
	if len(payload) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(payload), minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(payload), jsonContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", commodity, err)
	}
	return key, nil
}

// RawPayloadPath builds the archive key for a commodity fetched at t:
//
//	mandi/raw/2026/03/10/green-chilli.json
func RawPayloadPath(commodity string, t time.Time) string {
	return fmt.Sprintf("%s%s/%s.json", RawPrefix, t.UTC().Format("2006/01/02"), slug(commodity))
}

// rerunPayloadPath is the key for a second or later fetch on the same day:
//
//	mandi/raw/2026/03/10/green-chilli-183000.json
func rerunPayloadPath(commodity string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%s/%s-%s.json", RawPrefix, t.Format("2006/01/02"), slug(commodity), t.Format("150405"))
}

// DayPrefix returns the archive prefix holding every payload fetched on
// the day of t.
func DayPrefix(t time.Time) string {
	return RawPrefix + t.UTC().Format("2006/01/02") + "/"
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

var _ domain.PayloadArchiver = (*PayloadArchiver)(nil)
