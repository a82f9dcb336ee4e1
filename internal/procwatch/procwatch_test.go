package procwatch

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracer-cloud/tracerd/internal/recorder"
	"github.com/tracer-cloud/tracerd/internal/target"
	"github.com/tracer-cloud/tracerd/internal/types"
)

func TestSubClampedNeverNegative(t *testing.T) {
	assert.Equal(t, uint64(0), subClamped(5, 10))
	assert.Equal(t, uint64(5), subClamped(15, 10))
}

func TestIngestShortLivedEmitsPair(t *testing.T) {
	rec := recorder.New()
	w := New(target.NewMatcher(nil), rec, time.Second, nil)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(6 * time.Second)

	w.IngestShortLived(ShortLivedProcessLog{
		PID:       123,
		Name:      "samtools",
		Cmd:       []string{"samtools", "sort"},
		StartTime: start,
		EndTime:   end,
	})

	events := rec.Snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, types.TagToolExecution, events[0].ProcessStatus)
	assert.Equal(t, types.TagFinishedToolExecution, events[1].ProcessStatus)

	completed, ok := events[1].Attributes.(types.CompletedProcessAttributes)
	require.True(t, ok)
	assert.InDelta(t, 6.0, completed.DurationSec, 0.001)
}

func TestJoinComma(t *testing.T) {
	assert.Equal(t, "", joinComma(nil))
	assert.Equal(t, "a", joinComma([]string{"a"}))
	assert.Equal(t, "a,b,c", joinComma([]string{"a", "b", "c"}))
}

func TestShouldMergeWithParentRequiresMatchingArgValue(t *testing.T) {
	parentCmd := []string{"nextflow", "run", "-work-dir", "/data/work/abc"}
	sameChildCmd := []string{"nf-task-wrapper", "-work-dir", "/data/work/abc"}
	otherChildCmd := []string{"nf-task-wrapper", "-work-dir", "/data/work/xyz"}

	assert.True(t, shouldMergeWithParent("-work-dir", parentCmd, sameChildCmd))
	assert.False(t, shouldMergeWithParent("-work-dir", parentCmd, otherChildCmd))
	assert.False(t, shouldMergeWithParent("", parentCmd, sameChildCmd))
}

func TestIngestOutputLineEmitsOnNewDatasetReference(t *testing.T) {
	rec := recorder.New()
	pattern := regexp.MustCompile(`\.fastq$`)
	w := New(target.NewMatcher(nil), rec, time.Second, []*regexp.Regexp{pattern})

	w.IngestOutputLine("reading input sample1.fastq")
	w.IngestOutputLine("reading input sample1.fastq") // duplicate, no new event
	w.IngestOutputLine("unrelated log line")
	w.IngestOutputLine("reading input sample2.fastq")

	events := rec.Snapshot()
	require.Len(t, events, 2)

	last, ok := events[1].Attributes.(types.ProcessDatasetStatsAttributes)
	require.True(t, ok)
	assert.Equal(t, 2, last.Total)
}

func TestIngestOutputLineNoopWithoutPatterns(t *testing.T) {
	rec := recorder.New()
	w := New(target.NewMatcher(nil), rec, time.Second, nil)

	w.IngestOutputLine("reading input sample1.fastq")
	assert.Empty(t, rec.Snapshot())
}
