package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// MetadataSessionID is the object metadata key carrying the owning session id.
const MetadataSessionID = "session-id"

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	RecordingsPrefix     string
	PresignExpireMinutes int
}

// File is a stored recording object. ID is the object key.
type File struct {
	ID         string
	Name       string
	Size       int64
	ModifiedAt time.Time
	URL        string
	// SessionID is the owning session's tag, when known.
	SessionID string
}

// Link holds the shareable URLs of a published file.
type Link struct {
	ViewURL     string
	DownloadURL string
}

type objectAPI interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObjectAcl(ctx context.Context, in *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type uploadAPI interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3 searches, publishes and uploads recordings in the recordings bucket.
type S3 struct {
	client    objectAPI
	presigner presignAPI
	uploader  uploadAPI
	cfg       S3Config
	logger    *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("recordings_bucket", cfg.RecordingsBucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 16 * 1024 * 1024 // recordings are large; fewer parts
	})
	return &S3{
		client:    client,
		presigner: s3.NewPresignClient(client),
		uploader:  uploader,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// RecordingKey returns the object key for a recording file: {prefix}/{name}.
func RecordingKey(prefix, name string) string {
	return path.Join(prefix, path.Base(name))
}

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// PublicObjectURL returns the unsigned URL of a key in the recordings bucket.
func (s *S3) PublicObjectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.RecordingsBucket, s.cfg.Region, key)
}

// SearchByName lists recordings whose file name contains pattern, newest first.
func (s *S3) SearchByName(ctx context.Context, pattern string) ([]File, error) {
	objs, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	return s.toFiles(filterByName(objs, pattern)), nil
}

// SearchByTimeWindow lists videos last modified within [from, to] that could
// belong to sessionID, newest first. Objects tagged with sessionID come before
// untagged ones; objects tagged with another session are left out.
func (s *S3) SearchByTimeWindow(ctx context.Context, from, to time.Time, sessionID string) ([]File, error) {
	objs, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	var tagged, untagged []File
	for _, f := range s.toFiles(filterByWindow(objs, from, to)) {
		owner, err := s.sessionTag(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		switch {
		case owner == "":
			untagged = append(untagged, f)
		case owner == sessionID:
			f.SessionID = owner
			tagged = append(tagged, f)
		default:
			s.logger.Debug("window match belongs to another session",
				zap.String("key", f.ID), zap.String("owner", owner))
		}
	}
	return append(tagged, untagged...), nil
}

func (s *S3) sessionTag(ctx context.Context, key string) (string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.RecordingsBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("head object %s: %w", key, err)
	}
	return out.Metadata[MetadataSessionID], nil
}

// SetPublicRead grants anonymous read on a file and returns its links.
func (s *S3) SetPublicRead(ctx context.Context, fileID string) (Link, error) {
	_, err := s.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(s.cfg.RecordingsBucket),
		Key:    aws.String(fileID),
		ACL:    types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return Link{}, fmt.Errorf("put object acl: %w", err)
	}
	view := s.PublicObjectURL(fileID)
	return Link{ViewURL: view, DownloadURL: view}, nil
}

// FileLink returns a time-limited presigned GET link for a file that is not public.
func (s *S3) FileLink(ctx context.Context, fileID string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.RecordingsBucket),
		Key:    aws.String(fileID),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.PresignExpire()
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// UploadFile streams a local recording into the bucket, tagging it with the session id.
func (s *S3) UploadFile(ctx context.Context, localPath, name, sessionID string) (File, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return File{}, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return File{}, fmt.Errorf("stat recording: %w", err)
	}

	key := RecordingKey(s.cfg.RecordingsPrefix, name)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.RecordingsBucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentTypeFor(name)),
		Metadata:    map[string]string{MetadataSessionID: sessionID},
	})
	if err != nil {
		return File{}, fmt.Errorf("upload: %w", err)
	}
	s.logger.Info("recording uploaded", zap.String("key", key), zap.Int64("bytes", info.Size()))
	return File{
		ID:         key,
		Name:       path.Base(key),
		Size:       info.Size(),
		ModifiedAt: time.Now(),
		URL:        s.PublicObjectURL(key),
		SessionID:  sessionID,
	}, nil
}

// DeleteObject removes a recording object.
func (s *S3) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.RecordingsBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *S3) list(ctx context.Context) ([]types.Object, error) {
	prefix := strings.TrimSuffix(s.cfg.RecordingsPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.RecordingsBucket),
		Prefix: aws.String(prefix),
	})
	var out []types.Object
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		out = append(out, page.Contents...)
	}
	return out, nil
}

func (s *S3) toFiles(objs []types.Object) []File {
	files := make([]File, 0, len(objs))
	for _, o := range objs {
		key := aws.ToString(o.Key)
		files = append(files, File{
			ID:         key,
			Name:       path.Base(key),
			Size:       aws.ToInt64(o.Size),
			ModifiedAt: aws.ToTime(o.LastModified),
			URL:        s.PublicObjectURL(key),
		})
	}
	return files
}

func filterByName(objs []types.Object, pattern string) []types.Object {
	var out []types.Object
	for _, o := range objs {
		if pattern != "" && strings.Contains(path.Base(aws.ToString(o.Key)), pattern) {
			out = append(out, o)
		}
	}
	sortNewestFirst(out)
	return out
}

func filterByWindow(objs []types.Object, from, to time.Time) []types.Object {
	var out []types.Object
	for _, o := range objs {
		mod := aws.ToTime(o.LastModified)
		if mod.Before(from) || mod.After(to) {
			continue
		}
		if !isVideo(aws.ToString(o.Key)) {
			continue
		}
		out = append(out, o)
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(objs []types.Object) {
	sort.SliceStable(objs, func(i, j int) bool {
		return aws.ToTime(objs[i].LastModified).After(aws.ToTime(objs[j].LastModified))
	})
}

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
}

func isVideo(name string) bool {
	_, ok := videoTypes[strings.ToLower(path.Ext(name))]
	return ok
}

func contentTypeFor(name string) string {
	if ct, ok := videoTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}
