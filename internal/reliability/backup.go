// Package reliability owns cold-storage backups: stage a database snapshot,
// verify it, wrap it with its checksum metadata, ship the archive to S3, and
// prune remote copies past retention.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/database"
)

// DefaultRetention is how many remote backups survive pruning when the
// config leaves retention unset.
const DefaultRetention = 8

// ObjectClient is the slice of the S3 API the service touches. The real
// *s3.Client satisfies it.
type ObjectClient interface {
	manager.UploadAPIClient
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Metadata travels inside every archive so a restore can confirm what it is
// holding before touching the live database.
type Metadata struct {
	BackupID  string    `json:"backup_id"`
	Database  string    `json:"database"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
	SHA256    string    `json:"sha256"`
}

// Snapshot reports one completed backup run.
type Snapshot struct {
	Key       string        `json:"key"`
	SizeBytes int64         `json:"size_bytes"`
	SHA256    string        `json:"sha256"`
	Pruned    int           `json:"pruned"`
	Duration  time.Duration `json:"duration"`
}

// Service stages, verifies, and ships database snapshots.
type Service struct {
	db       *database.DB
	client   ObjectClient
	uploader *manager.Uploader
	cfg      config.BackupConfig
	log      zerolog.Logger
}

// NewService builds the S3 client from static credentials. Call only when
// the backup config is enabled; an unconfigured deployment skips the backup
// job instead.
func NewService(ctx context.Context, db *database.DB, cfg config.BackupConfig, log zerolog.Logger) (*Service, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("backup config incomplete: bucket and credentials required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Service{
		db:       db,
		client:   client,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
		log:      log.With().Str("service", "backup").Logger(),
	}, nil
}

// Run performs one full backup cycle: snapshot, verify, archive, upload,
// prune. A prune failure is logged but never fails a completed upload.
func (s *Service) Run(ctx context.Context) (*Snapshot, error) {
	started := time.Now()
	s.log.Info().Msg("Starting backup")

	stage, err := os.MkdirTemp("", "backup-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	snapPath := filepath.Join(stage, s.db.Name()+".db")
	if err := s.db.SnapshotTo(ctx, snapPath); err != nil {
		return nil, fmt.Errorf("snapshot failed: %w", err)
	}
	if err := verifySnapshot(snapPath); err != nil {
		return nil, fmt.Errorf("snapshot verification failed: %w", err)
	}

	sum, err := fileSHA256(snapPath)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum snapshot: %w", err)
	}
	info, err := os.Stat(snapPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	backupID := uuid.New().String()
	createdAt := time.Now().UTC()
	meta := Metadata{
		BackupID:  backupID,
		Database:  s.db.Name(),
		CreatedAt: createdAt,
		SizeBytes: info.Size(),
		SHA256:    sum,
	}

	archivePath := filepath.Join(stage, "backup.tar.gz")
	if err := buildArchive(archivePath, snapPath, meta); err != nil {
		return nil, fmt.Errorf("failed to build archive: %w", err)
	}
	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	key := s.objectKey(createdAt, backupID)
	if err := s.upload(ctx, archivePath, key, sum); err != nil {
		return nil, err
	}

	pruned, err := s.prune(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to prune old backups")
	}

	duration := time.Since(started)
	s.log.Info().
		Dur("duration_ms", duration).
		Str("key", key).
		Int64("size_bytes", archiveInfo.Size()).
		Int("pruned", pruned).
		Msg("Backup completed")

	return &Snapshot{
		Key:       key,
		SizeBytes: archiveInfo.Size(),
		SHA256:    sum,
		Pruned:    pruned,
		Duration:  duration,
	}, nil
}

func (s *Service) upload(ctx context.Context, archivePath, key, sum string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/gzip"),
		Metadata:    map[string]string{"sha256": sum},
	})
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}

// prune deletes remote backups past the newest `retention`.
func (s *Service) prune(ctx context.Context) (int, error) {
	var objects []types.Object
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.cfg.Bucket),
			Prefix:            aws.String(s.cfg.Prefix + "/"),
			ContinuationToken: token,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to list backups: %w", err)
		}
		objects = append(objects, out.Contents...)
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	stale := keysBeyondRetention(objects, s.cfg.Retention)
	pruned := 0
	for _, key := range stale {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			s.log.Warn().Str("key", key).Err(err).Msg("Failed to delete old backup")
			continue
		}
		pruned++
		s.log.Debug().Str("key", key).Msg("Deleted old backup")
	}
	return pruned, nil
}

func (s *Service) objectKey(ts time.Time, backupID string) string {
	short := backupID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s/%s-%s-%s.tar.gz",
		s.cfg.Prefix, s.db.Name(), ts.Format("20060102T150405Z"), short)
}

// keysBeyondRetention returns the keys of backups past the newest `keep`,
// ordered oldest last.
func keysBeyondRetention(objects []types.Object, keep int) []string {
	if keep <= 0 {
		keep = DefaultRetention
	}
	if len(objects) <= keep {
		return nil
	}

	sorted := make([]types.Object, len(objects))
	copy(sorted, objects)
	sort.Slice(sorted, func(i, j int) bool {
		return aws.ToTime(sorted[i].LastModified).After(aws.ToTime(sorted[j].LastModified))
	})

	keys := make([]string, 0, len(sorted)-keep)
	for _, obj := range sorted[keep:] {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return keys
}

// buildArchive writes a tar.gz holding the snapshot plus its metadata JSON.
func buildArchive(dst, snapPath string, meta Metadata) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	snap, err := os.Open(snapPath)
	if err != nil {
		return err
	}
	defer snap.Close()
	info, err := snap.Stat()
	if err != nil {
		return err
	}

	if err := tw.WriteHeader(&tar.Header{
		Name:    filepath.Base(snapPath),
		Mode:    0600,
		Size:    info.Size(),
		ModTime: meta.CreatedAt,
	}); err != nil {
		return err
	}
	if _, err := io.Copy(tw, snap); err != nil {
		return err
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    "metadata.json",
		Mode:    0600,
		Size:    int64(len(metaJSON)),
		ModTime: meta.CreatedAt,
	}); err != nil {
		return err
	}
	if _, err := tw.Write(metaJSON); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// verifySnapshot opens the staged copy and runs an integrity check before
// anything ships. A corrupt snapshot is worse than no backup: it replaces a
// good older copy during rotation.
func verifySnapshot(path string) error {
	snap, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer snap.Close()

	var result string
	if err := snap.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
