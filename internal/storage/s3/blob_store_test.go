package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
)

type fakeS3 struct {
	objects     map[string][]byte
	contentType map[string]string
	cache       map[string]string
	getErr      error
	putErr      error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, contentType: map[string]string{}, cache: map[string]string{}}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = data
	f.contentType[key] = aws.ToString(in.ContentType)
	f.cache[key] = aws.ToString(in.CacheControl)
	return &s3.PutObjectOutput{}, nil
}

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	client := newFakeS3()
	store, err := New(client, Config{Bucket: "runcalcs", Prefix: "/data/", CacheControl: "public, max-age=300"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "races/marathons.json", "application/json", bytes.NewReader([]byte("[]")))
	require.NoError(t, err)
	require.Equal(t, "s3://runcalcs/data/races/marathons.json", uri)
	require.Equal(t, "application/json", client.contentType["runcalcs/data/races/marathons.json"])
	require.Equal(t, "public, max-age=300", client.cache["runcalcs/data/races/marathons.json"])

	got, err := store.GetObject(context.Background(), "races/marathons.json")
	require.NoError(t, err)
	require.Equal(t, "[]", string(got))
}

func TestBlobStoreMissingKey(t *testing.T) {
	t.Parallel()

	store, err := New(newFakeS3(), Config{Bucket: "runcalcs"})
	require.NoError(t, err)

	_, err = store.GetObject(context.Background(), "missing.json")
	require.ErrorIs(t, err, crawler.ErrObjectNotFound)
}

func TestBlobStorePropagatesErrors(t *testing.T) {
	t.Parallel()

	client := newFakeS3()
	client.getErr = errors.New("access denied")
	client.putErr = errors.New("throttled")
	store, err := New(client, Config{Bucket: "runcalcs"})
	require.NoError(t, err)

	_, err = store.GetObject(context.Background(), "k")
	require.Error(t, err)
	require.NotErrorIs(t, err, crawler.ErrObjectNotFound)

	_, err = store.PutObject(context.Background(), "k", "", bytes.NewReader(nil))
	require.ErrorContains(t, err, "throttled")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = New(newFakeS3(), Config{})
	require.Error(t, err)
}
