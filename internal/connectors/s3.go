package connectors

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/trackshift/answer-intake/internal/config"
	"github.com/trackshift/answer-intake/internal/intake"
)

// s3API is the part of the S3 client the connector needs.
type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type s3Connector struct {
	client s3API
	bucket string
	prefix string
}

func NewS3Connector(ctx context.Context, cfg config.S3Config) (Connector, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET required when using the s3 source")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &s3Connector{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *s3Connector) Name() string {
	return "s3"
}

func (s *s3Connector) Close() error {
	return nil
}

func (s *s3Connector) List(ctx context.Context, patterns []string) ([]intake.CandidateFile, error) {
	if len(patterns) == 0 {
		patterns = []string{""}
	}
	var out []intake.CandidateFile
	for _, p := range patterns {
		key := joinRoot(s.prefix, p)
		if p != "" && !strings.HasSuffix(p, "/") {
			head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			if err == nil {
				out = append(out, s.candidate(ctx, key, aws.ToInt64(head.ContentLength), aws.ToTime(head.LastModified).UnixMilli(), aws.ToString(head.ContentType)))
				continue
			}
		}
		if key != "" && !strings.HasSuffix(key, "/") {
			key += "/"
		}
		files, err := s.listPrefix(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

func (s *s3Connector) listPrefix(ctx context.Context, prefix string) ([]intake.CandidateFile, error) {
	var out []intake.CandidateFile
	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if !isPDFName(aws.ToString(obj.Key)) {
				continue
			}
			out = append(out, s.objectCandidate(ctx, obj))
		}
	}
	return out, nil
}

func (s *s3Connector) objectCandidate(ctx context.Context, obj types.Object) intake.CandidateFile {
	return s.candidate(ctx, aws.ToString(obj.Key), aws.ToInt64(obj.Size), aws.ToTime(obj.LastModified).UnixMilli(), "")
}

func (s *s3Connector) candidate(ctx context.Context, key string, size, modified int64, contentType string) intake.CandidateFile {
	return intake.CandidateFile{
		Name:         path.Base(key),
		Size:         size,
		LastModified: modified,
		MediaType:    contentType,
		Open: func() (io.ReadCloser, error) {
			obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
			}
			return obj.Body, nil
		},
	}
}
