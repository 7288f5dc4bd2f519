// Package template checks that the stack set template is reachable before
// a stack set is created from it.
package template

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3API is the subset of *s3.Client used here.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Location is a template object in S3.
type Location struct {
	Bucket string
	Key    string
}

// ParseLocation accepts s3://bucket/key as well as virtual-hosted and
// path-style S3 HTTPS URLs.
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse template url: %w", err)
	}
	key := strings.TrimPrefix(u.Path, "/")

	switch u.Scheme {
	case "s3":
		if u.Host == "" || key == "" {
			return Location{}, fmt.Errorf("template url %q: missing bucket or key", raw)
		}
		return Location{Bucket: u.Host, Key: key}, nil
	case "http", "https":
	default:
		return Location{}, fmt.Errorf("template url %q: unsupported scheme %q", raw, u.Scheme)
	}

	host := u.Hostname()
	if !strings.HasSuffix(host, ".amazonaws.com") {
		return Location{}, fmt.Errorf("template url %q: not an S3 host", raw)
	}

	// Path style: s3.amazonaws.com/bucket/key, s3.<region>... or s3-<region>...
	if strings.HasPrefix(host, "s3.") || strings.HasPrefix(host, "s3-") {
		bucket, objectKey, ok := strings.Cut(key, "/")
		if !ok || bucket == "" || objectKey == "" {
			return Location{}, fmt.Errorf("template url %q: missing bucket or key", raw)
		}
		return Location{Bucket: bucket, Key: objectKey}, nil
	}

	// Virtual-hosted style: <bucket>.s3.amazonaws.com/key, <bucket>.s3.<region>... or <bucket>.s3-<region>...
	for _, marker := range []string{".s3.", ".s3-"} {
		if i := strings.Index(host, marker); i > 0 {
			if key == "" {
				return Location{}, fmt.Errorf("template url %q: missing key", raw)
			}
			return Location{Bucket: host[:i], Key: key}, nil
		}
	}
	return Location{}, fmt.Errorf("template url %q: not an S3 host", raw)
}

// Verifier checks that a template object exists.
type Verifier struct {
	api    S3API
	logger zerolog.Logger
}

func NewVerifier(api S3API, logger zerolog.Logger) *Verifier {
	return &Verifier{
		api:    api,
		logger: logger.With().Str("component", "template-verifier").Logger(),
	}
}

// Verify returns an error unless the object behind templateURL can be read.
func (v *Verifier) Verify(ctx context.Context, templateURL string) error {
	loc, err := ParseLocation(templateURL)
	if err != nil {
		return err
	}
	out, err := v.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return fmt.Errorf("head template s3://%s/%s: %w", loc.Bucket, loc.Key, err)
	}
	v.logger.Debug().
		Str("bucket", loc.Bucket).
		Str("key", loc.Key).
		Int64("size", aws.ToInt64(out.ContentLength)).
		Msg("template verified")
	return nil
}
