package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/fetchsim/instance"
	"github.com/weiihann/fetchsim/measure"
	"github.com/weiihann/fetchsim/pipeline"
	"github.com/weiihann/fetchsim/verify"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "state", "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, path
}

func TestOpenCreatesSchema(t *testing.T) {
	s, path := openStore(t)

	var v int
	require.NoError(t, s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v))
	assert.Equal(t, schemaVersion, v)

	require.NoError(t, s.Close())

	// Reopening an existing ledger keeps its schema.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	var rows int
	require.NoError(t, s2.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestOpenRejectsUnknownVersion(t *testing.T) {
	s, path := openStore(t)
	_, err := s.db.Exec("UPDATE schema_version SET version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	assert.ErrorContains(t, err, "unknown schema version 99")
}

func TestRecordAndList(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := int64(42)

	entries := []Entry{
		{InvocationID: "a", Size: "toy", Run: 1, Status: "PASS", TotalLatencyMs: 100, RecordedAt: base},
		{InvocationID: "a", Size: "toy", Run: 2, Status: "FAIL", Detail: "Expected 2 payloads, got 1", TotalLatencyMs: 120, RecordedAt: base.Add(time.Second)},
		{
			InvocationID: "b", Size: "small", Run: 1, Status: "PASS", Seed: &seed, CountOnly: true,
			TotalLatencyMs: 900, RecordedAt: base.Add(2 * time.Second),
			PerStage:  map[string]string{pipeline.StageKeyGeneration: "0.1234s"},
			Bandwidth: map[string]string{pipeline.SizeKeys: "4.0K"},
		},
	}
	for _, e := range entries {
		require.NoError(t, s.Record(ctx, e))
	}

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	newest := all[0]
	assert.Equal(t, "b", newest.InvocationID)
	assert.True(t, newest.CountOnly)
	require.NotNil(t, newest.Seed)
	assert.Equal(t, int64(42), *newest.Seed)
	assert.Equal(t, "0.1234s", newest.PerStage[pipeline.StageKeyGeneration])
	assert.Equal(t, "4.0K", newest.Bandwidth[pipeline.SizeKeys])
	assert.True(t, newest.RecordedAt.Equal(base.Add(2*time.Second)))

	toy, err := s.List(ctx, Filter{Size: "toy", Limit: 1})
	require.NoError(t, err)
	require.Len(t, toy, 1)
	assert.Equal(t, 2, toy[0].Run)
	assert.Equal(t, "FAIL", toy[0].Status)
	assert.Nil(t, toy[0].Seed)
	assert.Empty(t, toy[0].PerStage)
}

func TestRecordDuplicateRun(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	e := Entry{InvocationID: "a", Size: "toy", Run: 1, Status: "PASS"}
	require.NoError(t, s.Record(ctx, e))
	assert.Error(t, s.Record(ctx, e))
}

func TestRecordSummary(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	s.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	sum := &pipeline.Summary{
		InvocationID: "inv-1",
		Size:         instance.Medium,
		Runs: []pipeline.RunResult{
			{
				Run:     1,
				Outcome: verify.Outcome{Status: verify.Pass, Detail: "All 3 payload vectors match"},
				Report:  measure.Report{TotalLatencyMs: 12.5},
			},
			{
				Run:     2,
				Outcome: verify.Outcome{Status: verify.SkippedTooLarge, Detail: "Too many matches: 40 > 32, skipping detailed comparison"},
				Report:  measure.Report{TotalLatencyMs: 13},
			},
		},
	}

	require.NoError(t, s.RecordSummary(ctx, sum, false, nil))

	got, err := s.List(ctx, Filter{Size: "medium"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Same timestamp, so id breaks the tie.
	assert.Equal(t, 2, got[0].Run)
	assert.Equal(t, "SKIPPED-TOO-LARGE", got[0].Status)
	assert.Equal(t, "inv-1", got[1].InvocationID)
	assert.InDelta(t, 12.5, got[1].TotalLatencyMs, 1e-9)
}

func TestRecordSummaryEmpty(t *testing.T) {
	s, _ := openStore(t)

	require.NoError(t, s.RecordSummary(context.Background(), &pipeline.Summary{InvocationID: "x"}, false, nil))

	got, err := s.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
