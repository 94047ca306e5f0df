package state

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

type fakeRedis struct {
	values map[string][]byte
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	data, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(data), nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.values[key] = value.([]byte)
	return redis.NewStatusResult("OK", nil)
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	return map[string]Backend{
		"file":  NewFile(filepath.Join(t.TempDir(), "state.json")),
		"s3":    NewS3(&fakeS3{objects: map[string][]byte{}}, "bucket", "state.json"),
		"redis": NewRedis(&fakeRedis{values: map[string][]byte{}}, "tracker-pulse/state"),
	}
}

func TestKeeperRoundTrip(t *testing.T) {
	boundary := time.Date(2025, 3, 10, 12, 30, 45, 0, time.UTC)
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			k := NewKeeper(b, JSONSerializer{}, zerolog.Nop())
			require.NoError(t, k.Save(context.Background(), boundary))
			got, found, err := k.Load(context.Background())
			require.NoError(t, err)
			require.True(t, found)
			assert.True(t, got.Equal(boundary), "got %s, want %s", got, boundary)
		})
	}
}

func TestKeeperRoundTripYAML(t *testing.T) {
	boundary := time.Date(2025, 3, 10, 12, 30, 45, 0, time.UTC)
	k := NewKeeper(NewFile(filepath.Join(t.TempDir(), "state.yaml")), YAMLSerializer{}, zerolog.Nop())
	require.NoError(t, k.Save(context.Background(), boundary))
	got, found, err := k.Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Equal(boundary))
}

func TestKeeperColdStart(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			k := NewKeeper(b, JSONSerializer{}, zerolog.Nop())
			_, found, err := k.Load(context.Background())
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestKeeperOverwrite(t *testing.T) {
	first := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	second := first.Add(30 * time.Minute)
	k := NewKeeper(NewFile(filepath.Join(t.TempDir(), "state.json")), JSONSerializer{}, zerolog.Nop())
	require.NoError(t, k.Save(context.Background(), first))
	require.NoError(t, k.Save(context.Background(), second))
	got, found, err := k.Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Equal(second))
}

func TestFileWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	b := NewFile(filepath.Join(dir, "state.json"))
	require.NoError(t, b.Write(context.Background(), []byte(`{"boundary":"2025-03-10T00:00:00Z"}`)))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestLoadRejectsCorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	k := NewKeeper(NewFile(path), JSONSerializer{}, zerolog.Nop())
	_, _, err := k.Load(context.Background())
	require.Error(t, err)
}

func TestLoadRejectsEmptyBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"saved_at":"2025-03-10T00:00:00Z"}`), 0o644))
	k := NewKeeper(NewFile(path), JSONSerializer{}, zerolog.Nop())
	_, _, err := k.Load(context.Background())
	require.Error(t, err)
}
