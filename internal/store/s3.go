package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rotisserie/eris"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// PresignAPI is the subset of the S3 presign client the store uses.
type PresignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config configures an S3Store.
type S3Config struct {
	Bucket string
	Region string
	// Endpoint overrides the S3 endpoint (e.g. MinIO or LocalStack) and
	// switches to path-style addressing.
	Endpoint      string
	PublicBaseURL string
	PresignTTL    time.Duration
}

// S3Store implements Store and Presigner on an S3 bucket.
type S3Store struct {
	client  S3API
	presign PresignAPI
	bucket  string
	ttl     time.Duration
	urlMapper
}

// NewS3 loads the default AWS credential chain and returns an S3Store.
func NewS3(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("s3: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, eris.Wrap(err, "s3: load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, s3.NewPresignClient(client), cfg), nil
}

func newS3Store(client S3API, presign PresignAPI, cfg S3Config) *S3Store {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &S3Store{
		client:    client,
		presign:   presign,
		bucket:    cfg.Bucket,
		ttl:       ttl,
		urlMapper: newURLMapper(s3BaseURL(cfg)),
	}
}

func s3BaseURL(cfg S3Config) string {
	switch {
	case cfg.PublicBaseURL != "":
		return cfg.PublicBaseURL
	case cfg.Endpoint != "":
		return strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	default:
		return "https://" + cfg.Bucket + ".s3." + cfg.Region + ".amazonaws.com"
	}
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	return eris.Wrapf(err, "s3: put %s", key)
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "s3: get %s", key)
	}
	defer out.Body.Close() //nolint:errcheck

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "s3: read %s", key)
	}
	return b, nil
}

func (s *S3Store) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(int32(pageLimit(opts.Limit))),
	}
	if opts.Prefix != "" {
		in.Prefix = aws.String(opts.Prefix)
	}
	if opts.StartAfter != "" {
		in.StartAfter = aws.String(opts.StartAfter)
	}

	out, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, eris.Wrap(err, "s3: list objects")
	}

	res := &ListResult{
		Objects:   make([]Object, 0, len(out.Contents)),
		Truncated: aws.ToBool(out.IsTruncated),
	}
	for _, o := range out.Contents {
		res.Objects = append(res.Objects, Object{
			Key:        aws.ToString(o.Key),
			Size:       aws.ToInt64(o.Size),
			UploadedAt: aws.ToTime(o.LastModified),
		})
	}
	return res, nil
}

// PresignUpload grants a PUT of exactly size bytes of contentType to key.
func (s *S3Store) PresignUpload(ctx context.Context, key, contentType string, size int64) (*PresignedUpload, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	}, func(o *s3.PresignOptions) { o.Expires = s.ttl })
	if err != nil {
		return nil, eris.Wrapf(err, "s3: presign %s", key)
	}

	headers := map[string]string{"Content-Type": contentType}
	for name, vals := range req.SignedHeader {
		if len(vals) == 0 || strings.EqualFold(name, "Host") {
			continue
		}
		headers[http.CanonicalHeaderKey(name)] = vals[0]
	}
	method := req.Method
	if method == "" {
		method = http.MethodPut
	}
	return &PresignedUpload{URL: req.URL, Method: method, Headers: headers, ExpiresIn: s.ttl}, nil
}

// Migrate is a no-op; the bucket is provisioned outside the service.
func (s *S3Store) Migrate(_ context.Context) error { return nil }

func (s *S3Store) Close() error { return nil }
