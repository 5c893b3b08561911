package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSource = "https://ci.example.com"

func decode(t *testing.T, line []byte) Record {
	t.Helper()
	var record Record
	require.NoError(t, json.Unmarshal(line, &record))
	return record
}

func TestJSONLWriter_WriteEntry(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", testSource)
	w.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.FixedZone("ICT", 7*3600)) }

	err := w.WriteEntry(context.Background(), &EntryRecord{
		Kind: KindJob,
		Name: "build-service",
		Path: "Team-A/build-service",
	})
	require.NoError(t, err)

	record := decode(t, buf.Bytes())
	assert.Equal(t, TypeEntry, record.Type)
	assert.Equal(t, "run-123", record.RunID)
	assert.Equal(t, testSource, record.Source)
	assert.True(t, record.TS.Equal(time.Date(2024, 1, 15, 5, 0, 0, 0, time.UTC)), "ts %s", record.TS)
	assert.Equal(t, time.UTC, record.TS.Location())

	var entry EntryRecord
	require.NoError(t, json.Unmarshal(record.Data, &entry))
	assert.Equal(t, EntryRecord{Kind: KindJob, Name: "build-service", Path: "Team-A/build-service"}, entry)
}

func TestJSONLWriter_WriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", testSource)

	err := w.WriteError(context.Background(), &ErrorRecord{
		Code:    ErrCodeUnreachable,
		Message: "2 folders could not be listed",
	})
	require.NoError(t, err)

	record := decode(t, buf.Bytes())
	assert.Equal(t, TypeError, record.Type)
	assert.NotContains(t, string(record.Data), `"path"`)

	var errData ErrorRecord
	require.NoError(t, json.Unmarshal(record.Data, &errData))
	assert.Equal(t, ErrCodeUnreachable, errData.Code)
}

func TestJSONLWriter_ProgressAndSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", testSource)
	ctx := context.Background()

	require.NoError(t, w.WriteProgress(ctx, &ProgressRecord{Processed: 3, Total: 7}))
	require.NoError(t, w.WriteSummary(ctx, &SummaryRecord{
		Query:         "api",
		Jobs:          2,
		Processed:     7,
		Total:         7,
		Duration:      1500 * time.Millisecond,
		DurationHuman: "1.5s",
		Roots:         []string{""},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	prog := decode(t, []byte(lines[0]))
	assert.Equal(t, TypeProgress, prog.Type)
	assert.JSONEq(t, `{"processed":3,"total":7}`, string(prog.Data))

	sum := decode(t, []byte(lines[1]))
	assert.Equal(t, TypeSummary, sum.Type)
	var sumData SummaryRecord
	require.NoError(t, json.Unmarshal(sum.Data, &sumData))
	assert.Equal(t, 2, sumData.Jobs)
	assert.Equal(t, 1500*time.Millisecond, sumData.Duration)
	assert.False(t, sumData.Partial)
}

func TestJSONLWriter_NewlineTerminated(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", testSource)

	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteEntry(context.Background(), &EntryRecord{Kind: KindFolder, Name: "f", Path: "f"}))
	}

	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", testSource)

	require.NoError(t, w.Close())
	err := w.WriteEntry(context.Background(), &EntryRecord{Kind: KindJob})
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Zero(t, buf.Len())
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", testSource)

	const numWriters = 10
	const writesPerWriter = 100

	var wg sync.WaitGroup
	wg.Add(numWriters)
	for i := 0; i < numWriters; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < writesPerWriter; j++ {
				_ = w.WriteProgress(context.Background(), &ProgressRecord{Processed: j, Total: writesPerWriter})
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, numWriters*writesPerWriter)
	for i, line := range lines {
		var record Record
		assert.NoError(t, json.Unmarshal([]byte(line), &record), "line %d should be valid JSON: %s", i, line)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", testSource)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteEntry(ctx, &EntryRecord{Kind: KindJob})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}

type failingWriter struct{ err error }

func (f failingWriter) Write([]byte) (int, error) { return 0, f.err }

func TestJSONLWriter_WriteFailure(t *testing.T) {
	boom := errors.New("disk full")
	w := NewJSONLWriter(failingWriter{err: boom}, "run-123", testSource)

	err := w.WriteEntry(context.Background(), &EntryRecord{Kind: KindJob})
	require.Error(t, err)

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "write", writeErr.Op)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "output: write: disk full", err.Error())
}

// shortWriteWriter accepts at most bytesPerWrite bytes per call.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (s *shortWriteWriter) Write(p []byte) (int, error) {
	if len(p) > s.bytesPerWrite {
		p = p[:s.bytesPerWrite]
	}
	return s.buf.Write(p)
}

type zeroWriter struct{}

func (zeroWriter) Write([]byte) (int, error) { return 0, nil }

func TestJSONLWriter_ShortWrite(t *testing.T) {
	sw := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(sw, "run-123", testSource)

	require.NoError(t, w.WriteEntry(context.Background(), &EntryRecord{
		Kind: KindJob,
		Name: "build-service",
		Path: "Team-A/build-service",
	}))

	lines := strings.Split(strings.TrimSpace(sw.buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Equal(t, TypeEntry, decode(t, []byte(lines[0])).Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	w := NewJSONLWriter(zeroWriter{}, "run-123", testSource)

	err := w.WriteEntry(context.Background(), &EntryRecord{Kind: KindJob})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "short write")
}
