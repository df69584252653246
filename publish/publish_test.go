package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/fetchsim/logging"
)

type fakeS3 struct {
	objects  map[string][]byte
	failures int
	calls    int
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("503 slow down")
	}

	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body

	return &s3.PutObjectOutput{}, nil
}

func writeReports(t *testing.T, names ...string) []string {
	t.Helper()

	dir := t.TempDir()
	var paths []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte(`{"total_latency_ms":1}`), 0o644))
		paths = append(paths, p)
	}

	return paths
}

func newPublisher(client PutObjectAPI) *Publisher {
	p := NewWithClient(client, Options{Bucket: "bench", Prefix: "fetchsim"}, logging.Discard())
	p.backoff = 0

	return p
}

func TestPublish(t *testing.T) {
	fake := &fakeS3{}
	p := newPublisher(fake)

	keys, err := p.Publish(context.Background(), "inv-1", "toy", writeReports(t, "results-1.json", "results-2.json"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"fetchsim/inv-1/toy/results-1.json",
		"fetchsim/inv-1/toy/results-2.json",
	}, keys)
	assert.Equal(t, `{"total_latency_ms":1}`, string(fake.objects["bench/fetchsim/inv-1/toy/results-2.json"]))
}

func TestPublishRetries(t *testing.T) {
	fake := &fakeS3{failures: 2}
	p := newPublisher(fake)

	keys, err := p.Publish(context.Background(), "inv-1", "small", writeReports(t, "results-1.json"))
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.Equal(t, 3, fake.calls)
}

func TestPublishGivesUp(t *testing.T) {
	fake := &fakeS3{failures: 100}
	p := newPublisher(fake)

	keys, err := p.Publish(context.Background(), "inv-1", "toy", writeReports(t, "results-1.json", "results-2.json"))
	assert.ErrorContains(t, err, "503 slow down")
	assert.Empty(t, keys)
	assert.Equal(t, p.maxRetries+1, fake.calls)
}

func TestPublishMissingFile(t *testing.T) {
	p := newPublisher(&fakeS3{})

	_, err := p.Publish(context.Background(), "inv-1", "toy", []string{filepath.Join(t.TempDir(), "nope.json")})
	assert.Error(t, err)
}

func TestPublishCanceled(t *testing.T) {
	fake := &fakeS3{}
	p := newPublisher(fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Publish(ctx, "inv-1", "toy", writeReports(t, "results-1.json"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fake.calls)
}

func TestKeyWithoutPrefix(t *testing.T) {
	p := NewWithClient(&fakeS3{}, Options{Bucket: "b"}, logging.Discard())
	assert.Equal(t, "inv/large/results-3.json", p.Key("inv", "large", "results-3.json"))
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Options{}, logging.Discard())
	assert.ErrorIs(t, err, ErrNoBucket)
}
