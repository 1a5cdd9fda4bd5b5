package quality

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ecomdwh/ecomdwh-go/internal/platform/objectstore"
)

const reportKeyPrefix = "quality_reports/data_quality_report_"

// PublishedReport describes a report document written to the object store.
type PublishedReport struct {
	Document  Document `json:"document"`
	Bucket    string   `json:"bucket"`
	ObjectKey string   `json:"report_object_key"`
	SHA256    string   `json:"report_sha256"`
	SizeBytes int64    `json:"report_size_bytes"`
}

// Publisher writes schema-checked report documents to the reports bucket.
type Publisher struct {
	Store  objectstore.Store
	Bucket string
}

func ReportObjectKey(doc Document) string {
	return reportKeyPrefix + doc.Timestamp.UTC().Format("20060102_150405") + ".json"
}

func (p Publisher) Publish(ctx context.Context, rep QualityReport) (PublishedReport, error) {
	if p.Store == nil {
		return PublishedReport{}, errors.New("report publisher: store is nil")
	}
	doc := NewDocument(rep)
	raw, err := MarshalDocument(doc)
	if err != nil {
		return PublishedReport{}, err
	}
	key := ReportObjectKey(doc)
	sum := sha256.Sum256(raw)
	if _, err := p.Store.Put(ctx, p.Bucket, key, bytes.NewReader(raw), int64(len(raw)), "application/json"); err != nil {
		return PublishedReport{}, fmt.Errorf("store report %s/%s: %w", p.Bucket, key, err)
	}
	return PublishedReport{
		Document:  doc,
		Bucket:    p.Bucket,
		ObjectKey: key,
		SHA256:    hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(raw)),
	}, nil
}
