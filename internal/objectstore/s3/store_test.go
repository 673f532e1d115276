package s3

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardorch/shardorch/internal/objectstore"
)

const testBucket = "archive"

type fakeObject struct {
	data        []byte
	contentType string
	meta        map[string]string
	modified    time.Time
}

// fakeS3 speaks just enough of the path-style S3 REST API for the store.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeS3(t *testing.T) (*fakeS3, *Store) {
	t.Helper()
	f := &fakeS3{objects: map[string]fakeObject{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	store, err := New(context.Background(), Config{
		Bucket:          testBucket,
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	return f, store
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
}

type listResult struct {
	XMLName     xml.Name       `xml:"ListBucketResult"`
	Name        string         `xml:"Name"`
	Prefix      string         `xml:"Prefix"`
	KeyCount    int            `xml:"KeyCount"`
	IsTruncated bool           `xml:"IsTruncated"`
	Contents    []listContents `xml:"Contents"`
}

type listContents struct {
	Key          string `xml:"Key"`
	Size         int64  `xml:"Size"`
	ETag         string `xml:"ETag"`
	LastModified string `xml:"LastModified"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != testBucket {
		writeError(w, http.StatusNotFound, "NoSuchBucket")
		return
	}

	obj, exists := f.objects[key]
	switch {
	case r.Method == http.MethodGet && key == "":
		prefix := r.URL.Query().Get("prefix")
		res := listResult{Name: bucket, Prefix: prefix}
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			o := f.objects[k]
			res.Contents = append(res.Contents, listContents{
				Key:          k,
				Size:         int64(len(o.data)),
				ETag:         `"etag"`,
				LastModified: o.modified.UTC().Format("2006-01-02T15:04:05.000Z"),
			})
		}
		res.KeyCount = len(res.Contents)
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(res)

	case r.Method == http.MethodPut:
		if r.Header.Get("If-None-Match") == "*" && exists {
			writeError(w, http.StatusPreconditionFailed, "PreconditionFailed")
			return
		}
		data, _ := io.ReadAll(r.Body)
		meta := map[string]string{}
		for h, v := range r.Header {
			if name, ok := strings.CutPrefix(strings.ToLower(h), "x-amz-meta-"); ok {
				meta[name] = v[0]
			}
		}
		f.objects[key] = fakeObject{data: data, contentType: r.Header.Get("Content-Type"), meta: meta, modified: time.Now()}
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		if !exists {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeError(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("Content-Length", fmt.Sprint(len(obj.data)))
		w.Header().Set("ETag", `"etag"`)
		w.Header().Set("Last-Modified", obj.modified.UTC().Format(http.TimeFormat))
		for k, v := range obj.meta {
			w.Header().Set("X-Amz-Meta-"+k, v)
		}
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.data)
		}

	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestPutGetHead(t *testing.T) {
	_, store := newFakeS3(t)
	ctx := context.Background()

	data := []byte("name: sharding_db\n")
	require.NoError(t, store.Put(ctx, "sharding_db/v1.yaml", bytes.NewReader(data), int64(len(data)), "application/yaml",
		objectstore.PutOptions{Metadata: map[string]string{"instance": "i-1"}}))

	rc, err := store.Get(ctx, "sharding_db/v1.yaml")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)

	meta, err := store.Head(ctx, "sharding_db/v1.yaml")
	require.NoError(t, err)
	assert.EqualValues(t, len(data), meta.Size)
	assert.Equal(t, "application/yaml", meta.ContentType)
	assert.Equal(t, "i-1", meta.Metadata["instance"])
	assert.NotZero(t, meta.LastModified)
}

func TestPutIfNoneMatch(t *testing.T) {
	_, store := newFakeS3(t)
	ctx := context.Background()

	put := func() error {
		return store.Put(ctx, "k", strings.NewReader("x"), 1, "text/plain", objectstore.PutOptions{IfNoneMatch: "*"})
	}
	require.NoError(t, put())
	err := put()
	assert.ErrorIs(t, err, objectstore.ErrPreconditionFailed)

	var objErr *objectstore.ObjectError
	require.ErrorAs(t, err, &objErr)
	assert.Equal(t, "Put", objErr.Op)
	assert.Equal(t, "k", objErr.Key)
}

func TestNotFound(t *testing.T) {
	_, store := newFakeS3(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	_, err = store.Head(ctx, "missing")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	assert.NoError(t, store.Delete(ctx, "missing"))
}

func TestListAndDelete(t *testing.T) {
	f, store := newFakeS3(t)
	ctx := context.Background()

	for _, k := range []string{"a/2.yaml", "a/1.yaml", "b/1.yaml"} {
		require.NoError(t, store.Put(ctx, k, strings.NewReader(k), int64(len(k)), "text/plain", objectstore.PutOptions{}))
	}

	list, err := store.List(ctx, "a/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a/1.yaml", list[0].Key)
	assert.Equal(t, "a/2.yaml", list[1].Key)
	assert.EqualValues(t, len("a/1.yaml"), list[0].Size)

	require.NoError(t, store.Delete(ctx, "a/1.yaml"))
	f.mu.Lock()
	_, exists := f.objects["a/1.yaml"]
	f.mu.Unlock()
	assert.False(t, exists)
}

func TestClosedStore(t *testing.T) {
	_, store := newFakeS3(t)
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.Put(ctx, "k", strings.NewReader("x"), 1, "", objectstore.PutOptions{}), objectstore.ErrClosed)
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, objectstore.ErrClosed)
	_, err = store.List(ctx, "")
	assert.ErrorIs(t, err, objectstore.ErrClosed)
}
