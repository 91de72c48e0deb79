package dataset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/metrolabs/busstop-api/internal/cryptoutil"
	"github.com/metrolabs/busstop-api/internal/log"
	"github.com/metrolabs/busstop-api/internal/stops"
	"github.com/metrolabs/busstop-api/internal/xerrors"
)

// Source identifies where the active dataset came from.
const (
	SourceCSV = "csv"
	SourceS3  = "s3"
)

// Snapshot is a fully verified dataset ready to be swapped into the store.
type Snapshot struct {
	Rows     []stops.StopDetail
	SHA256   string
	Source   string
	LoadedAt time.Time
}

// SignatureVerifier checks a detached signature over snapshot bytes.
// Satisfied by cryptoutil.KMSVerifier.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

// ssmParamGetter and s3ObjectGetter are the API subsets the loader needs.
// Extracted as interfaces to enable unit testing without live AWS credentials.
type ssmParamGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type s3ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type LoaderOptions struct {
	Logger log.Logger

	// SSM parameter containing the snapshot SHA256 hash
	SSMParam string

	// S3 location for snapshots: s3://{bucket}/{prefix}/{hash}.csv
	S3Bucket string
	S3Prefix string

	// Verifier, when set, requires a detached signature object at
	// {prefix}/{hash}.sig and verifies it over the snapshot bytes.
	Verifier SignatureVerifier

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

type Loader struct {
	opts      LoaderOptions
	ssmClient ssmParamGetter
	s3Client  s3ObjectGetter
	logger    log.Logger
}

// NewLoader creates a snapshot Loader with the given options.
func NewLoader(ctx context.Context, opts LoaderOptions) (*Loader, error) {
	if opts.SSMParam == "" {
		return nil, xerrors.New("SSMParam is required")
	}
	if opts.S3Bucket == "" {
		return nil, xerrors.New("S3Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	var awsCfg aws.Config
	var err error
	if opts.AWSConfig != nil {
		awsCfg = *opts.AWSConfig
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}

	return &Loader{
		opts:      opts,
		ssmClient: ssm.NewFromConfig(awsCfg),
		s3Client:  s3.NewFromConfig(awsCfg),
		logger:    opts.Logger,
	}, nil
}

// FetchCurrentHash gets the current snapshot hash from SSM.
func (l *Loader) FetchCurrentHash(ctx context.Context) (string, error) {
	out, err := l.ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}

	hash := strings.TrimSpace(*out.Parameter.Value)
	if hash == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", l.opts.SSMParam)
	}

	return hash, nil
}

func (l *Loader) s3Key(hash, ext string) string {
	if l.opts.S3Prefix != "" {
		return fmt.Sprintf("%s/%s%s", l.opts.S3Prefix, hash, ext)
	}
	return hash + ext
}

func (l *Loader) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := l.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read S3 object s3://%s/%s", l.opts.S3Bucket, key)
	}
	return data, nil
}

// Download fetches and verifies the snapshot bytes for a given hash.
func (l *Loader) Download(ctx context.Context, hash string) ([]byte, error) {
	key := l.s3Key(hash, ".csv")

	l.logger.Info(ctx, "downloading dataset snapshot",
		"bucket", l.opts.S3Bucket,
		"key", key,
		"expected_hash", hash,
	)

	data, err := l.getObject(ctx, key)
	if err != nil {
		return nil, err
	}

	// our policy is to always use cryptoutil.HashEqual for comparing hashes,
	// even though this is not a secret value so timing attacks are not a
	// concern here.
	actualHash := cryptoutil.SHA256Hex(data)
	if !cryptoutil.HashEqual(actualHash, hash) {
		return nil, xerrors.Newf("checksum mismatch: expected %s, got %s", hash, actualHash)
	}

	if l.opts.Verifier != nil {
		sig, err := l.getObject(ctx, l.s3Key(hash, ".sig"))
		if err != nil {
			return nil, xerrors.Wrap(err, "fetch snapshot signature")
		}
		if err := l.opts.Verifier.VerifySignature(ctx, data, sig); err != nil {
			return nil, xerrors.Wrapf(err, "verify snapshot %s signature", hash)
		}
	}

	l.logger.Info(ctx, "downloaded dataset snapshot",
		"bytes", len(data),
		"hash", actualHash,
	)

	return data, nil
}

// Load fetches the current snapshot and parses it.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	hash, err := l.FetchCurrentHash(ctx)
	if err != nil {
		return nil, err
	}
	return l.LoadHash(ctx, hash)
}

// LoadHash fetches a specific snapshot by hash and parses it.
func (l *Loader) LoadHash(ctx context.Context, hash string) (*Snapshot, error) {
	loadedAt := time.Now().UTC()

	data, err := l.Download(ctx, hash)
	if err != nil {
		return nil, err
	}

	rows, err := ParseCSV(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Wrapf(err, "parse snapshot %s", hash)
	}
	if len(rows) == 0 {
		return nil, xerrors.Newf("snapshot %s has no rows", hash)
	}

	return &Snapshot{
		Rows:     rows,
		SHA256:   hash,
		Source:   SourceS3,
		LoadedAt: loadedAt,
	}, nil
}

// LoadIntoStore fetches the current snapshot and replaces the store contents.
func (l *Loader) LoadIntoStore(ctx context.Context, store *stops.SQLStore) (*Snapshot, error) {
	snap, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.ReplaceAll(ctx, snap.Rows); err != nil {
		return nil, xerrors.Wrapf(err, "swap snapshot %s into store", snap.SHA256)
	}
	return snap, nil
}
