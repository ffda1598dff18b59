package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/database"
)

type fakeObjectStore struct {
	putKeys []string
	listed  []types.Object
	deleted []string
}

func (f *fakeObjectStore) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if in.Body != nil {
		if _, err := io.Copy(io.Discard, in.Body); err != nil {
			return nil, err
		}
	}
	f.putKeys = append(f.putKeys, aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectStore) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart unsupported in fake")
}

func (f *fakeObjectStore) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart unsupported in fake")
}

func (f *fakeObjectStore) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart unsupported in fake")
}

func (f *fakeObjectStore) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errors.New("multipart unsupported in fake")
}

func (f *fakeObjectStore) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return &s3.ListObjectsV2Output{
		Contents:    f.listed,
		IsTruncated: aws.Bool(false),
	}, nil
}

func (f *fakeObjectStore) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func setupBackupDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "backup_test.db"),
		Profile: database.ProfileStandard,
		Name:    "backup_test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func remoteObject(key string, age time.Duration) types.Object {
	ts := time.Date(2026, 8, 23, 3, 0, 0, 0, time.UTC).Add(-age)
	return types.Object{Key: aws.String(key), LastModified: &ts}
}

func TestRunUploadsAndPrunes(t *testing.T) {
	db := setupBackupDB(t)
	fake := &fakeObjectStore{
		listed: []types.Object{
			remoteObject("backups/old-1.tar.gz", 4*7*24*time.Hour),
			remoteObject("backups/old-2.tar.gz", 3*7*24*time.Hour),
			remoteObject("backups/recent-1.tar.gz", 2*7*24*time.Hour),
			remoteObject("backups/recent-2.tar.gz", 7*24*time.Hour),
		},
	}
	svc := &Service{
		db:       db,
		client:   fake,
		uploader: manager.NewUploader(fake),
		cfg: config.BackupConfig{
			Bucket:    "cold-storage",
			Prefix:    "backups",
			Retention: 2,
		},
		log: zerolog.Nop(),
	}

	snap, err := svc.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, fake.putKeys, 1)
	assert.Equal(t, snap.Key, fake.putKeys[0])
	assert.Contains(t, snap.Key, "backups/backup_test-")
	assert.Contains(t, snap.Key, ".tar.gz")
	assert.NotEmpty(t, snap.SHA256)
	assert.Positive(t, snap.SizeBytes)

	assert.Equal(t, 2, snap.Pruned)
	assert.ElementsMatch(t, []string{"backups/old-1.tar.gz", "backups/old-2.tar.gz"}, fake.deleted)
}

func TestKeysBeyondRetention(t *testing.T) {
	objects := []types.Object{
		remoteObject("backups/a.tar.gz", 5*24*time.Hour),
		remoteObject("backups/b.tar.gz", 1*24*time.Hour),
		remoteObject("backups/c.tar.gz", 3*24*time.Hour),
		remoteObject("backups/d.tar.gz", 2*24*time.Hour),
	}

	stale := keysBeyondRetention(objects, 2)
	assert.Equal(t, []string{"backups/c.tar.gz", "backups/a.tar.gz"}, stale)

	assert.Nil(t, keysBeyondRetention(objects, 4))
	assert.Nil(t, keysBeyondRetention(objects, 0), "default retention keeps more than four")
}

func TestBuildArchiveLayout(t *testing.T) {
	stage := t.TempDir()
	snapPath := filepath.Join(stage, "desk.db")
	require.NoError(t, os.WriteFile(snapPath, []byte("snapshot-bytes"), 0600))

	meta := Metadata{
		BackupID:  "b-1",
		Database:  "desk",
		CreatedAt: time.Date(2026, 8, 23, 3, 0, 0, 0, time.UTC),
		SizeBytes: 14,
		SHA256:    "abc",
	}
	archivePath := filepath.Join(stage, "backup.tar.gz")
	require.NoError(t, buildArchive(archivePath, snapPath, meta))

	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	entries := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = body
	}

	require.Contains(t, entries, "desk.db")
	require.Contains(t, entries, "metadata.json")
	assert.Equal(t, []byte("snapshot-bytes"), entries["desk.db"])

	var got Metadata
	require.NoError(t, json.Unmarshal(entries["metadata.json"], &got))
	assert.Equal(t, meta.BackupID, got.BackupID)
	assert.Equal(t, meta.SHA256, got.SHA256)
}

func TestVerifySnapshot(t *testing.T) {
	db := setupBackupDB(t)
	stage := t.TempDir()

	good := filepath.Join(stage, "good.db")
	require.NoError(t, db.SnapshotTo(context.Background(), good))
	assert.NoError(t, verifySnapshot(good))

	bad := filepath.Join(stage, "bad.db")
	require.NoError(t, os.WriteFile(bad, []byte("this is not a database"), 0600))
	assert.Error(t, verifySnapshot(bad))
}

func TestFileSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0600))

	sum, err := fileSHA256(path)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)
}
