package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/openmined/dirsync/internal/syncerr"
)

const (
	uploadExpiry   = 5 * time.Minute
	downloadExpiry = 5 * time.Minute
)

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // custom endpoint for S3 compatible stores; enables path style
	AccessKey string
	SecretKey string
	Prefix    string // key prefix prepended to every object path
}

type headObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type presignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Authorizer issues presigned S3 URLs directly instead of asking a storage API.
type S3Authorizer struct {
	head      headObjectAPI
	presigner presignAPI
	config    S3Config
}

// NewS3Authorizer builds an S3 client from static credentials when given,
// falling back to the default AWS credential chain.
func NewS3Authorizer(ctx context.Context, cfg S3Config) (*S3Authorizer, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Authorizer(client, s3.NewPresignClient(client), cfg), nil
}

func newS3Authorizer(head headObjectAPI, presigner presignAPI, cfg S3Config) *S3Authorizer {
	return &S3Authorizer{
		head:      head,
		presigner: presigner,
		config:    cfg,
	}
}

func (a *S3Authorizer) key(objectPath string) string {
	objectPath = strings.TrimLeft(objectPath, "/")
	if a.config.Prefix == "" {
		return objectPath
	}
	return path.Join(a.config.Prefix, objectPath)
}

func (a *S3Authorizer) AuthorizeUpload(ctx context.Context, objectPath string, overwrite bool) (*Authorization, error) {
	if objectPath == "" {
		return nil, syncerr.Authorization("upload authorize", objectPath, ErrNoObjectPath)
	}
	key := a.key(objectPath)

	if !overwrite {
		exists, err := a.exists(ctx, key)
		if err != nil {
			return nil, syncerr.Authorization("upload authorize", objectPath, err)
		}
		if exists {
			return nil, syncerr.Authorization("upload authorize", objectPath, ErrObjectExists)
		}
	}

	signed, err := a.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = uploadExpiry
	})
	if err != nil {
		return nil, syncerr.Authorization("upload authorize", objectPath, err)
	}

	return &Authorization{
		Op:         OpUpload,
		ObjectPath: objectPath,
		URL:        signed.URL,
		Method:     signed.Method,
		Overwrite:  overwrite,
	}, nil
}

func (a *S3Authorizer) AuthorizeDownload(ctx context.Context, objectPath string) (*Authorization, error) {
	if objectPath == "" {
		return nil, syncerr.Authorization("download authorize", objectPath, ErrNoObjectPath)
	}
	key := a.key(objectPath)

	exists, err := a.exists(ctx, key)
	if err != nil {
		return nil, syncerr.Authorization("download authorize", objectPath, err)
	}
	if !exists {
		return nil, syncerr.NotFound("download authorize", objectPath, fmt.Errorf("s3://%s/%s", a.config.Bucket, key))
	}

	signed, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = downloadExpiry
	})
	if err != nil {
		return nil, syncerr.Authorization("download authorize", objectPath, err)
	}

	return &Authorization{
		Op:         OpDownload,
		ObjectPath: objectPath,
		URL:        signed.URL,
		Method:     signed.Method,
	}, nil
}

func (a *S3Authorizer) exists(ctx context.Context, key string) (bool, error) {
	_, err := a.head.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

var _ Authorizer = (*S3Authorizer)(nil)
