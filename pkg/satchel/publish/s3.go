package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/karrick/godirwalk"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

const (
	// S3ChannelName is the name apps use to select the S3 channel
	S3ChannelName = "s3"

	defaultS3PartSize = 5 * 1024 * 1024
	defaultRateLimit  = 20
	defaultBurstLimit = 40
	defaultRetries    = 3
)

// s3ClientAPI is a subset of the S3 client interface we need
type s3ClientAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
}

// S3Config configures the S3 channel of an app. It's read from [tool.satchel.app.<name>.publish.s3].
type S3Config struct {
	Bucket string
	Region string
	Prefix string
	// Overwrite allows replacing an already published version
	Overwrite bool
	// Signed makes the channel refuse artifacts that were not signed with an identity
	Signed bool
}

// S3ConfigFromApp reads the S3 channel settings of an app
func S3ConfigFromApp(app *satchel.AppConfig) (*S3Config, error) {
	settings := app.Publish[S3ChannelName]
	res := &S3Config{}
	for k, v := range settings {
		switch k {
		case "bucket":
			res.Bucket, _ = v.(string)
		case "region":
			res.Region, _ = v.(string)
		case "prefix":
			res.Prefix, _ = v.(string)
		case "overwrite":
			res.Overwrite, _ = v.(bool)
		case "signed":
			res.Signed, _ = v.(bool)
		default:
			log.WithField("app", app.AppName).WithField("key", k).Warn("ignoring unknown S3 publication setting")
		}
	}
	if res.Bucket == "" {
		return nil, &satchel.ConfigError{Msg: fmt.Sprintf("app %s: publishing to s3 requires publish.s3.bucket", app.AppName)}
	}
	return res, nil
}

// S3Channel publishes artifacts to an S3 bucket
type S3Channel struct {
	cfg         *S3Config
	client      s3ClientAPI
	rateLimiter *rate.Limiter
}

// NewS3ChannelFactory produces channels from an app's publish.s3 settings using the default AWS credential chain
func NewS3ChannelFactory() satchel.ChannelFactory {
	return func(ctx context.Context, app *satchel.AppConfig) (satchel.Channel, error) {
		cfg, err := S3ConfigFromApp(app)
		if err != nil {
			return nil, err
		}

		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Errorf("cannot load AWS config: %w", err)
		}
		if cfg.Region != "" {
			awsCfg.Region = cfg.Region
		}

		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.DisableLogOutputChecksumValidationSkipped = true
		})
		return newS3Channel(cfg, client), nil
	}
}

func newS3Channel(cfg *S3Config, client s3ClientAPI) *S3Channel {
	return &S3Channel{
		cfg:         cfg,
		client:      client,
		rateLimiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurstLimit),
	}
}

// Name implements satchel.Channel
func (s *S3Channel) Name() string { return S3ChannelName }

// RequiresSignature implements satchel.Channel
func (s *S3Channel) RequiresSignature() bool { return s.cfg.Signed }

// Publish implements satchel.Channel. Every file of the artifact is uploaded next to a .sha256 digest.
func (s *S3Channel) Publish(ctx context.Context, app *satchel.AppConfig, artifact *satchel.Artifact) (string, error) {
	base := path.Join(s.cfg.Prefix, app.AppName, app.Version)

	files, err := artifactFiles(artifact.Path)
	if err != nil {
		return "", err
	}

	if !s.cfg.Overwrite {
		for _, f := range files {
			key := path.Join(base, f.rel)
			exists, err := s.HasObject(ctx, key)
			if err != nil {
				return "", err
			}
			if exists {
				return "", &satchel.ConfigError{Msg: fmt.Sprintf("s3://%s/%s already exists; bump the version or set publish.s3.overwrite", s.cfg.Bucket, key)}
			}
		}
	}

	for _, f := range files {
		key := path.Join(base, f.rel)
		err = withRetry(ctx, defaultRetries, func() error {
			return s.UploadObject(ctx, key, f.path)
		})
		if err != nil {
			return "", err
		}

		digest, err := fileDigest(f.path)
		if err != nil {
			return "", err
		}
		err = withRetry(ctx, defaultRetries, func() error {
			return s.putContent(ctx, key+".sha256", digest+"  "+path.Base(f.rel)+"\n")
		})
		if err != nil {
			return "", err
		}
		log.WithField("key", key).Debug("uploaded artifact file")
	}

	loc := fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, base)
	if len(files) == 1 {
		loc = fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, path.Join(base, files[0].rel))
	}
	return loc, nil
}

// HasObject checks if a key exists in the bucket
func (s *S3Channel) HasObject(ctx context.Context, key string) (bool, error) {
	if err := s.rateLimiter.Wait(ctx); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return false, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, xerrors.Errorf("cannot check s3://%s/%s: %w", s.cfg.Bucket, key, err)
}

// UploadObject uploads a local file
func (s *S3Channel) UploadObject(ctx context.Context, key string, src string) error {
	if err := s.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	file, err := os.Open(src)
	if err != nil {
		return xerrors.Errorf("cannot open %s: %w", src, err)
	}
	defer file.Close()

	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = defaultS3PartSize
	})
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	return describeAPIError(key, err)
}

func (s *S3Channel) putContent(ctx context.Context, key, content string) error {
	if err := s.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(content),
	})
	return describeAPIError(key, err)
}

func describeAPIError(key string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		log.WithError(err).WithFields(log.Fields{
			"key":       key,
			"errorCode": apiErr.ErrorCode(),
		}).Debug("S3 API error while uploading object")
		if apiErr.ErrorCode() == "Forbidden" || apiErr.ErrorCode() == "AccessDenied" {
			return xerrors.Errorf("permission denied while uploading %s: %w", key, errPermanent{err})
		}
		return xerrors.Errorf("S3 API error while uploading %s: %w", key, err)
	}
	return xerrors.Errorf("cannot upload %s: %w", key, err)
}

type errPermanent struct{ error }

func (e errPermanent) Unwrap() error { return e.error }

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404")
}

// withRetry attempts an operation with retries and exponential backoff
func withRetry(ctx context.Context, maxRetries int, operation func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}
		var perm errPermanent
		if errors.As(err, &perm) || ctx.Err() != nil {
			return err
		}

		log.WithError(err).WithField("retry", i+1).Debug("operation failed, retrying")
		sleep := time.Duration(50*(i+1)*(1+rand.Intn(10))) * time.Millisecond
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return xerrors.Errorf("operation failed after %d retries: %w", maxRetries, err)
}

type artifactFile struct {
	path string
	rel  string
}

// artifactFiles lists the files of an artifact, which is either a single file or a directory
func artifactFiles(root string) ([]artifactFile, error) {
	stat, err := os.Stat(root)
	if err != nil {
		return nil, xerrors.Errorf("cannot publish artifact: %w", err)
	}
	if !stat.IsDir() {
		return []artifactFile{{path: root, rel: filepath.Base(root)}}, nil
	}

	var res []artifactFile
	err = godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, osPathname)
			if err != nil {
				return err
			}
			res = append(res, artifactFile{path: osPathname, rel: path.Join(filepath.Base(root), filepath.ToSlash(rel))})
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func fileDigest(fn string) (string, error) {
	f, err := os.Open(fn)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	_, err = io.Copy(h, f)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
