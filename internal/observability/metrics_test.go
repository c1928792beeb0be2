package observability

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	assert.Equal(t, "success", status(nil))
	assert.Equal(t, "error", status(errors.New("boom")))
}

func TestNewMetrics(t *testing.T) {
	t.Run("uses a private registry", func(t *testing.T) {
		// Two instances must not collide on registration
		m1 := NewMetrics()
		m2 := NewMetrics()

		require.NotNil(t, m1.Registry())
		assert.NotSame(t, m1.Registry(), m2.Registry())
	})
}

func TestMetrics_ObserveCompile(t *testing.T) {
	m := NewMetrics()

	m.ObserveCompile(100*time.Millisecond, nil)
	m.ObserveCompile(200*time.Millisecond, nil)
	m.ObserveCompile(50*time.Millisecond, errors.New("syntax error"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.compilesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compilesTotal.WithLabelValues("error")))
}

func TestMetrics_ObserveArchive(t *testing.T) {
	m := NewMetrics()

	m.ObserveArchive(time.Second, 4096, 12, nil)
	m.ObserveArchive(time.Second, 0, 0, errors.New("missing file"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.archivesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.archivesTotal.WithLabelValues("error")))
}

func TestMetrics_ObserveCopy(t *testing.T) {
	m := NewMetrics()

	m.ObserveCopy(nil)
	m.ObserveCopy(errors.New("not found"))
	m.ObserveCopy(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.copiesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.copiesTotal.WithLabelValues("error")))
}

func TestMetrics_RecordStorageOperation(t *testing.T) {
	m := NewMetrics()

	m.RecordStorageOperation("upload", "artifacts", 1024, time.Second, nil)
	m.RecordStorageOperation("upload", "artifacts", 2048, time.Second, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.storageOperationsTotal.WithLabelValues("upload", "artifacts", "success")))
	assert.Equal(t, 3072.0, testutil.ToFloat64(m.storageBytesTotal.WithLabelValues("upload", "artifacts")))
}

func TestMetrics_ObservePhase(t *testing.T) {
	m := NewMetrics()

	m.ObservePhase("compile", 1500*time.Millisecond)
	m.ObservePhase("compile", 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.phaseDuration.WithLabelValues("compile")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveCompile(time.Second, nil)
		m.ObserveArchive(time.Second, 1, 1, nil)
		m.ObserveCopy(nil)
		m.RecordStorageOperation("upload", "b", 1, time.Second, nil)
		m.ObservePhase("pack", time.Second)
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "metrics.prom")))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.ObserveCompile(time.Second, nil)

	path := filepath.Join(t.TempDir(), "fnpack.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fnpack_compiles_total{status="success"} 1`)
	assert.Contains(t, string(data), "fnpack_compile_duration_seconds_bucket")
}

func TestMetrics_WriteTextfile_EmptyPath(t *testing.T) {
	assert.NoError(t, NewMetrics().WriteTextfile(""))
}
