package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fstore-go/internal/fstore"
)

type stubGuard struct {
	snap fstore.QuotaSnapshot
	err  error
}

func (g stubGuard) CheckAdmission(context.Context, int64) error { return nil }

func (g stubGuard) Snapshot(context.Context) (fstore.QuotaSnapshot, error) {
	return g.snap, g.err
}

func TestMetrics_ObserveOperations(t *testing.T) {
	m := New()

	m.ObserveUpload("ok", 2048)
	m.ObserveUpload("ok", 4096)
	m.ObserveUpload("quota_exceeded", 0)
	m.ObserveDownload("ok")
	m.ObserveDownload("access_denied")
	m.ObserveDelete("not_found")
	m.ObserveRename("already_exists")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Uploads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Uploads.WithLabelValues("quota_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Downloads.WithLabelValues("access_denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deletes.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Renames.WithLabelValues("already_exists")))

	// Only successful uploads are sized.
	var h dto.Metric
	require.NoError(t, m.UploadBytes.Write(&h))
	assert.Equal(t, uint64(2), h.GetHistogram().GetSampleCount())
	assert.Equal(t, 6144.0, h.GetHistogram().GetSampleSum())
}

func TestMetrics_WatchQuota(t *testing.T) {
	m := New()
	m.WatchQuota(stubGuard{snap: fstore.NewQuotaSnapshot(true, 500, 0, 1000, 90)}, nil)

	expected := `
# HELP fstore_quota_max_bytes Configured storage ceiling in bytes
# TYPE fstore_quota_max_bytes gauge
fstore_quota_max_bytes 1000
# HELP fstore_quota_used_bytes Bytes currently stored
# TYPE fstore_quota_used_bytes gauge
fstore_quota_used_bytes 500
# HELP fstore_quota_used_percent Stored bytes as a percentage of the ceiling
# TYPE fstore_quota_used_percent gauge
fstore_quota_used_percent 50
`
	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"fstore_quota_used_bytes", "fstore_quota_max_bytes", "fstore_quota_used_percent")
	assert.NoError(t, err)
}

func TestMetrics_WatchQuotaSnapshotError(t *testing.T) {
	m := New()
	m.WatchQuota(stubGuard{err: errors.New("walk failed")}, nil)

	n, err := testutil.GatherAndCount(m.Registry(), "fstore_quota_used_bytes")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveDownload("ok")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `fstore_downloads_total{result="ok"} 1`)
}
