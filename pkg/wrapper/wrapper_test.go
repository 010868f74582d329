package wrapper

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ajitpratap0/zerowire/pkg/batch"
	"github.com/ajitpratap0/zerowire/pkg/config"
	"github.com/ajitpratap0/zerowire/pkg/convert"
	"github.com/ajitpratap0/zerowire/pkg/debugsink"
	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/retry"
	"github.com/ajitpratap0/zerowire/pkg/schema"
	"github.com/ajitpratap0/zerowire/pkg/testutil"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const table = "main.default.events"

func eventSchema() schema.Schema {
	return schema.New(
		schema.NewField("id", schema.Int64(), false),
		schema.NewField("name", schema.String(), true),
	)
}

func eventBatch(n int) *batch.Batch {
	b := batch.New(eventSchema())
	for i := 0; i < n; i++ {
		b.Append(batch.Row{int64(i), fmt.Sprintf("event-%d", i)})
	}
	return b
}

func newWrapper(t *testing.T, fs *testutil.FakeSink, auth *testutil.FakeAuth, mutate func(*config.Config), opts ...Option) *Wrapper {
	t.Helper()
	cfg := config.DefaultConfig(table)
	cfg.Observability.EnableMetrics = false
	if mutate != nil {
		mutate(cfg)
	}
	opts = append([]Option{
		WithLogger(testutil.TestLogger(t)),
		WithPolicy(retry.NewPolicy(cfg.Reliability.MaxAttempts, 0, 0)),
	}, opts...)
	w, err := New(cfg, fs, auth, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return w
}

func rejectCalls(calls ...int) testutil.IngestFunc {
	set := make(map[int]bool, len(calls))
	for _, c := range calls {
		set[c] = true
	}
	return func(call int, _ []byte) error {
		if set[call] {
			return ingesterrors.New(ingesterrors.ErrorTypeTransmission, "rejected")
		}
		return nil
	}
}

func TestSendBatch_ConversionFailureIsolated(t *testing.T) {
	fs := testutil.NewFakeSink()
	w := newWrapper(t, fs, testutil.NewFakeAuth("tok"), nil)

	b := eventBatch(10)
	b.Rows[5][0] = "not-a-number"

	res, err := w.SendBatch(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NoError(t, res.Error)
	assert.Equal(t, 10, res.TotalRows)
	assert.Equal(t, 9, res.SuccessfulCount)
	assert.Equal(t, 1, res.FailedCount)
	require.Len(t, res.FailedRows, 1)
	assert.Equal(t, 5, res.FailedRows[0].Index)
	assert.Equal(t, ingesterrors.KindConversion, res.FailedRows[0].Err.Kind)
	assert.Equal(t, "id", res.FailedRows[0].Err.Field)
	assert.Len(t, fs.Accepted(), 9)
	assert.NoError(t, res.Validate())
}

func TestSendBatch_AllRowsAccepted(t *testing.T) {
	fs := testutil.NewFakeSink()
	w := newWrapper(t, fs, testutil.NewFakeAuth("tok"), nil)

	res, err := w.SendBatch(context.Background(), eventBatch(10))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.FailedRows)
	assert.Len(t, res.SuccessfulRows, 10)
	assert.Equal(t, 1, res.Attempts)
	assert.Positive(t, res.BatchSizeBytes)
	assert.Equal(t, 1, fs.Opens())
}

func TestSendBatch_UnrefreshableAuth(t *testing.T) {
	fs := testutil.NewFakeSink()
	auth := testutil.NewFakeAuth("tok").
		FailToken(ingesterrors.New(ingesterrors.ErrorTypeAuthentication, "token expired")).
		FailRefresh(ingesterrors.New(ingesterrors.ErrorTypeAuthentication, "refresh token revoked"))
	w := newWrapper(t, fs, auth, nil)

	res, err := w.SendBatch(context.Background(), eventBatch(10))
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Error(t, res.Error)
	assert.True(t, ingesterrors.IsType(res.Error, ingesterrors.ErrorTypeAuthentication))
	assert.Nil(t, res.FailedRows)
	assert.Equal(t, 10, res.FailedCount)
	assert.Len(t, res.FailedIndices(), 10)
	assert.Equal(t, 0, fs.Opens())
	assert.Equal(t, 1, auth.Refreshes())
}

func TestSendBatch_TooManyFieldsIsConfigError(t *testing.T) {
	fields := make([]schema.Field, 2001)
	for i := range fields {
		fields[i] = schema.NewField(fmt.Sprintf("f%d", i), schema.Int64(), true)
	}
	fs := testutil.NewFakeSink()
	w := newWrapper(t, fs, testutil.NewFakeAuth("tok"), nil)

	res, err := w.SendBatch(context.Background(), batch.New(schema.New(fields...), make(batch.Row, 2001)))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeConfig))
	assert.Equal(t, 0, fs.Opens())
}

func TestSendBatch_SubsetRetrySkipsConversionFailures(t *testing.T) {
	// Pass one sends rows 0,2,3,4; the third call (row 3) is rejected once.
	fs := testutil.NewFakeSink().OnIngest(rejectCalls(2))
	w := newWrapper(t, fs, testutil.NewFakeAuth("tok"), nil)

	b := eventBatch(5)
	b.Rows[1][0] = 3.5

	res, err := w.SendBatch(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []int{0, 2, 3, 4}, res.SuccessfulRows)
	require.Len(t, res.FailedRows, 1)
	assert.Equal(t, 1, res.FailedRows[0].Index)
	assert.Equal(t, ingesterrors.KindConversion, res.FailedRows[0].Err.Kind)
	assert.Len(t, fs.Accepted(), 4)
}

func TestSendBatch_WholeOperationRetry(t *testing.T) {
	fs := testutil.NewFakeSink().FailOpens(
		ingesterrors.New(ingesterrors.ErrorTypeConnection, "connection refused"))
	w := newWrapper(t, fs, testutil.NewFakeAuth("tok"), nil)

	res, err := w.SendBatch(context.Background(), eventBatch(4))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, fs.Opens())
	assert.Nil(t, res.FailedRows)
	assert.Equal(t, 4, res.SuccessfulCount)
}

func TestSendBatch_RefreshesTokenAfterAuthFailure(t *testing.T) {
	fs := testutil.NewFakeSink()
	auth := testutil.NewFakeAuth("tok").
		FailToken(ingesterrors.New(ingesterrors.ErrorTypeAuthentication, "token expired"))
	w := newWrapper(t, fs, auth, nil)

	res, err := w.SendBatch(context.Background(), eventBatch(3))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, auth.Refreshes())
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 3, res.SuccessfulCount)
}

func TestSendBatch_TerminalOpenFailureNotRetried(t *testing.T) {
	fs := testutil.NewFakeSink().FailOpens(
		ingesterrors.New(ingesterrors.ErrorTypeConfig, "table does not exist"))
	w := newWrapper(t, fs, testutil.NewFakeAuth("tok"), nil)

	res, err := w.SendBatch(context.Background(), eventBatch(3))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, ingesterrors.IsType(res.Error, ingesterrors.ErrorTypeConfig))
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, fs.Opens())
}

func TestSendBatch_RetryExhaustion(t *testing.T) {
	t.Run("some rows succeed", func(t *testing.T) {
		first := mustEncode(t, 0)
		fs := testutil.NewFakeSink().OnIngest(func(_ int, record []byte) error {
			if bytes.Equal(record, first) {
				return ingesterrors.New(ingesterrors.ErrorTypeTransmission, "rejected")
			}
			return nil
		})
		w := newWrapper(t, fs, testutil.NewFakeAuth("tok"), func(c *config.Config) {
			c.Reliability.MaxAttempts = 3
		})

		res, err := w.SendBatch(context.Background(), eventBatch(4))
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.NoError(t, res.Error)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, []int{1, 2, 3}, res.SuccessfulRows)
		require.Len(t, res.FailedRows, 1)
		assert.Equal(t, ingesterrors.KindTransmission, res.FailedRows[0].Err.Kind)
	})

	t.Run("every row fails", func(t *testing.T) {
		fs := testutil.NewFakeSink().OnIngest(func(int, []byte) error {
			return ingesterrors.New(ingesterrors.ErrorTypeTransmission, "rejected")
		})
		w := newWrapper(t, fs, testutil.NewFakeAuth("tok"), func(c *config.Config) {
			c.Reliability.MaxAttempts = 3
		})

		res, err := w.SendBatch(context.Background(), eventBatch(2))
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.True(t, ingesterrors.IsType(res.Error, ingesterrors.ErrorTypeRetryExhausted))
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, 2, res.FailedCount)
	})
}

func mustEncode(t *testing.T, id int64) []byte {
	t.Helper()
	ws, err := schema.Map(eventSchema())
	require.NoError(t, err)
	data, rowErr := convert.NewEncoder(ws, convert.DefaultMaxRecordBytes).
		Encode(int(id), eventBatch(int(id)+1).Rows[id])
	require.Nil(t, rowErr)
	return data
}

func TestSendBatch_CancelledMidPass(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := testutil.NewFakeSink().OnIngest(func(call int, _ []byte) error {
		if call == 1 {
			cancel()
			return ingesterrors.New(ingesterrors.ErrorTypeConnection, "stream reset")
		}
		return nil
	})
	w := newWrapper(t, fs, testutil.NewFakeAuth("tok"), nil)

	res, err := w.SendBatch(ctx, eventBatch(5))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []int{0}, res.SuccessfulRows)
	assert.Equal(t, 4, res.FailedCount)
	assert.NoError(t, res.Validate())
}

func TestSendBatch_Concurrent(t *testing.T) {
	fs := testutil.NewFakeSink()
	w := newWrapper(t, fs, testutil.NewFakeAuth("tok"), nil)

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			res, err := w.SendBatch(ctx, eventBatch(10))
			if err != nil {
				return err
			}
			if res.SuccessfulCount != 10 {
				return fmt.Errorf("expected 10 successful rows, got %d", res.SuccessfulCount)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, fs.Accepted(), 80)
	assert.Equal(t, 1, fs.Opens())
}

func TestSendBatch_WritesDebugMirrors(t *testing.T) {
	dir := t.TempDir()
	fs := testutil.NewFakeSink()
	w := newWrapper(t, fs, testutil.NewFakeAuth("tok"), func(c *config.Config) {
		c.Debug.RawEnabled = true
		c.Debug.EncodedEnabled = true
		c.Debug.OutputDir = dir
		c.Debug.FlushInterval = 0
	})

	b := eventBatch(6)
	b.Rows[2][0] = "bad"
	_, err := w.SendBatch(context.Background(), b)
	require.NoError(t, err)
	require.NoError(t, w.Flush(context.Background()))
	require.NoError(t, w.Close(context.Background()))

	encoded, err := filepath.Glob(filepath.Join(dir, debugsink.EncodedDir, "main_default_events_*"+debugsink.EncodedExt))
	require.NoError(t, err)
	require.Len(t, encoded, 1)
	records, err := debugsink.ReadEncoded(encoded[0])
	require.NoError(t, err)
	assert.Equal(t, fs.Accepted(), records)

	raw, err := filepath.Glob(filepath.Join(dir, debugsink.RawDir, "main_default_events_*"+debugsink.RawExt))
	require.NoError(t, err)
	require.Len(t, raw, 1)
	recs, err := debugsink.ReadRaw(raw[0], memory.NewGoAllocator())
	require.NoError(t, err)
	var rows int64
	for _, rec := range recs {
		rows += rec.NumRows()
		rec.Release()
	}
	assert.Equal(t, int64(6), rows)
	require.Len(t, recs, 1)
	assert.Equal(t, map[int]map[string]string{2: {"id": "bad"}}, recs[0].Mismatched)
}

func TestSchema_Cached(t *testing.T) {
	w := newWrapper(t, testutil.NewFakeSink(), testutil.NewFakeAuth("tok"), nil)

	a, err := w.Schema(eventSchema())
	require.NoError(t, err)
	b, err := w.Schema(eventSchema())
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := w.Schema(schema.New(schema.NewField("id", schema.Int32(), false)))
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestClose(t *testing.T) {
	w := newWrapper(t, testutil.NewFakeSink(), testutil.NewFakeAuth("tok"), nil)
	_, err := w.SendBatch(context.Background(), eventBatch(1))
	require.NoError(t, err)

	require.NoError(t, w.Close(context.Background()))
	require.NoError(t, w.Close(context.Background()))

	_, err = w.SendBatch(context.Background(), eventBatch(1))
	require.Error(t, err)
	assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeConfig))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, testutil.NewFakeSink(), nil)
	assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeConfig))

	_, err = New(config.DefaultConfig(""), testutil.NewFakeSink(), nil)
	assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeConfig))

	_, err = New(config.DefaultConfig(table), nil, nil)
	assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeConfig))
}
