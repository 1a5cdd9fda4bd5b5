package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ecomdwh/ecomdwh-go/internal/platform/env"
)

type Driver string

const (
	DriverMinIO Driver = "minio"
	DriverS3    Driver = "s3"
)

// Config covers both drivers. Endpoint is host[:port] without scheme; it may
// be empty for the s3 driver, in which case the AWS default resolver is used.
type Config struct {
	Driver    Driver
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	PathStyle bool

	BucketRaw       string
	BucketProcessed string
	BucketReports   string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("DWH_OBJECTSTORE_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	pathStyle, err := env.Bool("DWH_OBJECTSTORE_PATH_STYLE", true)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Driver:          Driver(strings.ToLower(strings.TrimSpace(env.String("DWH_OBJECTSTORE_DRIVER", string(DriverMinIO))))),
		Endpoint:        env.String("DWH_OBJECTSTORE_ENDPOINT", "localhost:9000"),
		AccessKey:       env.String("DWH_OBJECTSTORE_ACCESS_KEY", "ecomdwh"),
		SecretKey:       env.String("DWH_OBJECTSTORE_SECRET_KEY", "ecomdwhminio"),
		Region:          env.String("DWH_OBJECTSTORE_REGION", "us-east-1"),
		UseSSL:          useSSL,
		PathStyle:       pathStyle,
		BucketRaw:       env.String("DWH_BUCKET_RAW", "ecommerce-dwh-raw"),
		BucketProcessed: env.String("DWH_BUCKET_PROCESSED", "ecommerce-dwh-processed"),
		BucketReports:   env.String("DWH_BUCKET_REPORTS", "ecommerce-dwh-reports"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Driver {
	case DriverMinIO:
		if strings.TrimSpace(c.Endpoint) == "" {
			return errors.New("endpoint is required for the minio driver")
		}
	case DriverS3:
	default:
		return fmt.Errorf("DWH_OBJECTSTORE_DRIVER must be one of: minio, s3 (got %q)", c.Driver)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	for name, bucket := range map[string]string{
		"raw":       c.BucketRaw,
		"processed": c.BucketProcessed,
		"reports":   c.BucketReports,
	} {
		if strings.TrimSpace(bucket) == "" {
			return fmt.Errorf("%s bucket is required", name)
		}
	}
	return nil
}

// Buckets lists every bucket the platform reads from or writes to.
func (c Config) Buckets() []string {
	return []string{c.BucketRaw, c.BucketProcessed, c.BucketReports}
}

// Bucket resolves a logical bucket alias used in pipeline definitions
// (raw, processed, reports) to its configured name. Unknown values are
// returned unchanged so literal bucket names keep working.
func (c Config) Bucket(alias string) string {
	switch strings.ToLower(strings.TrimSpace(alias)) {
	case "raw":
		return c.BucketRaw
	case "processed":
		return c.BucketProcessed
	case "reports":
		return c.BucketReports
	default:
		return strings.TrimSpace(alias)
	}
}
