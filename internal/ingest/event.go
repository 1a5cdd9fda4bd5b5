// Package ingest validates raw files as they land in the raw bucket and
// triggers processing for the ones that pass.
package ingest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ObjectRef is one arrived object.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	ETag   string `json:"etag,omitempty"`
}

func (o ObjectRef) URI() string { return "s3://" + o.Bucket + "/" + o.Key }

// event is the S3 event-notification document; MinIO emits the same shape.
type event struct {
	Records []struct {
		EventSource string `json:"eventSource"`
		EventName   string `json:"eventName"`
		S3          struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				ETag string `json:"eTag"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseEvent extracts object references from an S3 or MinIO notification.
// Keys arrive form-encoded and are decoded. Records from other sources are
// ignored.
func ParseEvent(raw []byte) ([]ObjectRef, error) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	refs := make([]ObjectRef, 0, len(ev.Records))
	for i, rec := range ev.Records {
		switch rec.EventSource {
		case "aws:s3", "minio:s3":
		default:
			continue
		}
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("record %d: decode key %q: %w", i, rec.S3.Object.Key, err)
		}
		if rec.S3.Bucket.Name == "" || key == "" {
			return nil, fmt.Errorf("record %d: bucket and key are required", i)
		}
		refs = append(refs, ObjectRef{Bucket: rec.S3.Bucket.Name, Key: key, ETag: rec.S3.Object.ETag})
	}
	return refs, nil
}

// TableFromKey returns the directory holding the file, so
// "raw/customers/2024-06-01.csv" belongs to customers. Keys without a
// directory map to "unknown".
func TableFromKey(key string) string {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" {
		return "unknown"
	}
	return parts[len(parts)-2]
}
