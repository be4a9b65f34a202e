package metrics

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storagehx/protocols/memory"
	"storagehx/storage"
	"storagehx/storage/storagetest"
)

func TestInstrumentedAdapterConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Adapter {
		return Instrument("conformance", memory.NewAdapter())
	})
}

func TestInstrumentCountsOperations(t *testing.T) {
	a := Instrument("counted", memory.NewAdapter())

	require.NoError(t, a.Write("a.txt", []byte("hello"), storage.NewConfig(nil)))
	_, err := a.Read("a.txt")
	require.NoError(t, err)
	_, err = a.Read("missing.txt")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(operationsTotal.WithLabelValues("counted", "write", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(operationsTotal.WithLabelValues("counted", "read", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(operationsTotal.WithLabelValues("counted", "read", "error")))
	assert.Equal(t, 5.0, testutil.ToFloat64(bytesWritten.WithLabelValues("counted")))
	assert.Equal(t, 5.0, testutil.ToFloat64(bytesRead.WithLabelValues("counted")))
}

func TestInstrumentCountsStreams(t *testing.T) {
	a := Instrument("streamed", memory.NewAdapter())

	payload := bytes.Repeat([]byte("x"), 4096)
	require.NoError(t, a.WriteStream("big.bin", bytes.NewReader(payload), storage.NewConfig(nil)))

	stream, err := a.ReadStream("big.bin")
	require.NoError(t, err)
	_, err = io.Copy(io.Discard, stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	assert.Equal(t, 4096.0, testutil.ToFloat64(bytesWritten.WithLabelValues("streamed")))
	assert.Equal(t, 4096.0, testutil.ToFloat64(bytesRead.WithLabelValues("streamed")))
}

func TestInstrumentObservesListingOnce(t *testing.T) {
	a := Instrument("listed", memory.NewAdapter())
	require.NoError(t, a.Write("a.txt", nil, storage.NewConfig(nil)))
	require.NoError(t, a.Write("b.txt", nil, storage.NewConfig(nil)))

	listing := a.ListContents("", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(operationsTotal.WithLabelValues("listed", "list_contents", "ok")))

	for range listing {
		break
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(operationsTotal.WithLabelValues("listed", "list_contents", "ok")))
}

type pingingAdapter struct {
	storage.Adapter
	err error
}

func (p pingingAdapter) Ping() error {
	return p.err
}

func TestInstrumentPing(t *testing.T) {
	assert.NoError(t, Instrument("no-session", memory.NewAdapter()).Ping())

	failing := Instrument("pinged", pingingAdapter{Adapter: memory.NewAdapter(), err: errors.New("down")})
	assert.Error(t, failing.Ping())
	assert.Equal(t, 1.0, testutil.ToFloat64(operationsTotal.WithLabelValues("pinged", "ping", "error")))
}

func TestRecordProbe(t *testing.T) {
	RecordProbe("probed", nil, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(probeUp.WithLabelValues("probed")))
	assert.Positive(t, testutil.ToFloat64(probeLastSuccess.WithLabelValues("probed")))

	RecordProbe("probed", errors.New("down"), time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(probeUp.WithLabelValues("probed")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordProbe("exposed", nil, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `storagehx_probe_up{disk="exposed"} 1`), body)
}
