package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"github.com/nsxzhou1114/bloodlink-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// esRecorder 记录写入的文档
type esRecorder struct {
	mu          sync.Mutex
	docs        map[string]model.ESDonor
	created     bool
	clearedOnce bool
}

func newRecordingES(t *testing.T) (*elasticsearch.Client, *esRecorder) {
	t.Helper()
	rec := &esRecorder{docs: make(map[string]model.ESDonor)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		rec.mu.Lock()
		defer rec.mu.Unlock()

		path := r.URL.Path
		switch {
		case r.Method == http.MethodHead && path == "/donors":
			if !rec.created {
				w.WriteHeader(http.StatusNotFound)
			}
		case r.Method == http.MethodPut && path == "/donors":
			rec.created = true
			_, _ = io.WriteString(w, `{"acknowledged":true}`)
		case strings.HasSuffix(path, "/_delete_by_query"):
			rec.clearedOnce = true
			rec.docs = make(map[string]model.ESDonor)
			_, _ = io.WriteString(w, `{"deleted":0}`)
		case strings.HasPrefix(path, "/donors/_doc/"):
			var doc model.ESDonor
			_ = json.NewDecoder(r.Body).Decode(&doc)
			rec.docs[strings.TrimPrefix(path, "/donors/_doc/")] = doc
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"result":"created"}`)
		default:
			_, _ = io.WriteString(w, `{}`)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client, rec
}

func TestDonorIndexSyncAll(t *testing.T) {
	db := testutil.NewTestDB(t)
	a := testutil.CreateDonor(t, db, "a", "O+", "Pune", "Pune District", "Maharashtra")
	b := testutil.CreateDonor(t, db, "b", "A-", "Nashik", "Nashik District", "Maharashtra")
	testutil.CreateUser(t, db, "not-donor")

	client, rec := newRecordingES(t)
	svc := NewDonorIndexService(db, client, "", zaptest.NewLogger(t).Sugar())

	n, err := svc.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, rec.created)
	assert.True(t, rec.clearedOnce)
	require.Len(t, rec.docs, 2)
	assert.Equal(t, "Pune District", rec.docs[donorDocID(a.ID)].District)
	assert.Equal(t, "A-", rec.docs[donorDocID(b.ID)].BloodGroup)
}
