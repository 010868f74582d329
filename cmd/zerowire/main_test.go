package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ajitpratap0/zerowire/pkg/batch"
	"github.com/ajitpratap0/zerowire/pkg/config"
	"github.com/ajitpratap0/zerowire/pkg/debugsink"
	"github.com/ajitpratap0/zerowire/pkg/schema"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeArrow(t *testing.T, b *batch.Batch) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.arrows")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := ipc.NewWriter(f, ipc.WithSchema(batch.ArrowSchema(b.Schema)))
	rec, _ := batch.ToRecord(b, memory.NewGoAllocator())
	defer rec.Release()
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())
	return path
}

func sampleBatch() *batch.Batch {
	return batch.New(schema.New(
		schema.NewField("id", schema.Int64(), false),
		schema.NewField("tags", schema.ListOf(schema.String()), true),
	),
		batch.Row{int64(1), []any{"a", "b"}},
		batch.Row{int64(2), nil},
	)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "zerowire v"+version)
}

func TestSchemaCommand(t *testing.T) {
	path := writeArrow(t, sampleBatch())

	out, err := execute(t, "schema", "--input", path)
	require.NoError(t, err)
	assert.Contains(t, out, "# 2 fields")
	assert.Contains(t, out, `name: "IngestRecord"`)
	assert.Contains(t, out, `name: "tags"`)
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zerowire.yaml")

	out, err := execute(t, "config", "init", "--table", "main.default.events", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	out, err = execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "main.default.events")
}

func TestDebugDump_UnknownFile(t *testing.T) {
	_, err := execute(t, "debug", "dump", filepath.Join(t.TempDir(), "notes.txt"))
	require.Error(t, err)
}

func TestDebugDump_RawReportsMismatchedValues(t *testing.T) {
	cfg := config.DefaultConfig("events").Debug
	cfg.OutputDir = t.TempDir()
	cfg.BaseName = "events"
	cfg.FlushInterval = 0
	cfg.RawEnabled = true
	ctx := context.Background()

	s, err := debugsink.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	b := sampleBatch()
	b.Rows[1][0] = "two"
	require.NoError(t, s.WriteRaw(ctx, b))
	path := s.RawState().CurrentPath
	require.NoError(t, s.Close(ctx))

	out, err := execute(t, "debug", "dump", path)
	require.NoError(t, err)
	assert.Contains(t, out, `[1,["a","b"]]`)
	assert.Contains(t, out, `row 1: mismatched values {"id":"two"}`)
}

func TestSplit(t *testing.T) {
	b := batch.New(schema.New(schema.NewField("id", schema.Int64(), false)))
	for i := 0; i < 7; i++ {
		b.Append(batch.Row{int64(i)})
	}

	chunks := split(b, 3)
	require.Len(t, chunks, 3)
	assert.Equal(t, 3, chunks[0].NumRows())
	assert.Equal(t, 1, chunks[2].NumRows())
	assert.Equal(t, int64(6), chunks[2].Rows[0][0])

	assert.Len(t, split(b, 0), 1)
	assert.Len(t, split(b, 10), 1)
}
