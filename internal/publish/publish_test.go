package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	exists  bool
	made    []string
	objects map[string]string // key -> content type
	failKey string
}

func (f *fakeStore) BucketExists(context.Context, string) (bool, error) { return f.exists, nil }

func (f *fakeStore) MakeBucket(_ context.Context, bucket string, _ miniogo.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	f.exists = true
	return nil
}

func (f *fakeStore) FPutObject(_ context.Context, _, object, _ string, opts miniogo.PutObjectOptions) (miniogo.UploadInfo, error) {
	if object == f.failKey {
		return miniogo.UploadInfo{}, errors.New("boom")
	}
	if f.objects == nil {
		f.objects = map[string]string{}
	}
	f.objects[object] = opts.ContentType
	return miniogo.UploadInfo{Key: object}, nil
}

func newRun(t *testing.T) string {
	t.Helper()
	run := filepath.Join(t.TempDir(), "wf_ollama_llava_detailed_20260101_000000")
	for name, body := range map[string]string{
		"html_reports/index.html":             "<html></html>",
		"html_reports/thumbs/0001_a.jpg":      "jpg",
		"descriptions/image_descriptions.txt": "File: a.jpg",
		"logs/workflow.log":                   "{}",
	} {
		p := filepath.Join(run, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	}
	return run
}

func TestPublish(t *testing.T) {
	run := newRun(t)
	store := &fakeStore{}
	p := NewWithClient(store, "galleries", "/idt/", nil)

	res, err := p.Publish(context.Background(), run, "html_reports", "descriptions", "missing")
	require.NoError(t, err)
	assert.Equal(t, []string{"galleries"}, store.made)

	sort.Strings(res.Objects)
	assert.Equal(t, []string{
		"idt/wf_ollama_llava_detailed_20260101_000000/descriptions/image_descriptions.txt",
		"idt/wf_ollama_llava_detailed_20260101_000000/html_reports/index.html",
		"idt/wf_ollama_llava_detailed_20260101_000000/html_reports/thumbs/0001_a.jpg",
	}, res.Objects)
	assert.Equal(t, "text/html; charset=utf-8", store.objects["idt/wf_ollama_llava_detailed_20260101_000000/html_reports/index.html"])
	assert.Equal(t, "image/jpeg", store.objects["idt/wf_ollama_llava_detailed_20260101_000000/html_reports/thumbs/0001_a.jpg"])
}

func TestPublishExistingBucketAndFailure(t *testing.T) {
	run := newRun(t)
	store := &fakeStore{exists: true, failKey: "wf_ollama_llava_detailed_20260101_000000/html_reports/index.html"}
	p := NewWithClient(store, "galleries", "", nil)

	_, err := p.Publish(context.Background(), run, "html_reports")
	assert.ErrorContains(t, err, "boom")
	assert.Empty(t, store.made)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "p/run/a/b.jpg", ObjectKey("p", "run", filepath.Join("a", "b.jpg")))
	assert.Equal(t, "run/x.txt", ObjectKey("", "run", "x.txt"))
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(Config{Endpoint: "localhost:9000"}, nil)
	assert.Error(t, err)
}
