package filewatch

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyNewRequiresStabilityAndUnchangedShape(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lastUpdate := now.Add(-90 * time.Second)

	old := &watchedFile{size: 100, lastUpdate: lastUpdate, action: ActionUpload}
	next := &watchedFile{size: 100, lastUpdate: lastUpdate, action: ActionUpload}

	assert.Equal(t, uploadNew, classify(old, next, now, 60*time.Second))
}

func TestClassifyNoneWhenNotYetStable(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lastUpdate := now.Add(-30 * time.Second)

	old := &watchedFile{size: 100, lastUpdate: lastUpdate, action: ActionUpload}
	next := &watchedFile{size: 100, lastUpdate: lastUpdate, action: ActionUpload}

	assert.Equal(t, uploadNone, classify(old, next, now, 60*time.Second))
}

func TestClassifyOldOnTruncation(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	old := &watchedFile{size: 200, lastUpdate: now.Add(-5 * time.Second), action: ActionUpload}
	next := &watchedFile{size: 50, lastUpdate: now, action: ActionUpload}

	assert.Equal(t, uploadOld, classify(old, next, now, 60*time.Second))
}

func TestClassifyOldOnDisappearance(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	old := &watchedFile{size: 200, lastUpdate: now.Add(-5 * time.Second), action: ActionUpload}

	assert.Equal(t, uploadOld, classify(old, nil, now, 60*time.Second))
}

func TestClassifyNoneWhenNoPriorUploadAction(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	old := &watchedFile{size: 200, lastUpdate: now.Add(-90 * time.Second), action: ActionNone}
	next := &watchedFile{size: 200, lastUpdate: now.Add(-90 * time.Second), action: ActionNone}

	assert.Equal(t, uploadNone, classify(old, next, now, 60*time.Second))
}

func TestClassifyNoRepeatUploadForSameLastUpdate(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lastUpdate := now.Add(-90 * time.Second)
	alreadyUploaded := lastUpdate.Add(time.Second)

	old := &watchedFile{size: 100, lastUpdate: lastUpdate, action: ActionUpload, lastUpload: &alreadyUploaded}
	next := &watchedFile{size: 100, lastUpdate: lastUpdate, action: ActionUpload}

	assert.Equal(t, uploadNone, classify(old, next, now, 60*time.Second))
}

func TestMatchActionFirstMatchWins(t *testing.T) {
	w := New([]Pattern{
		{Kind: PatternFilenameRegex, Regex: regexp.MustCompile(`\.log$`), Action: ActionNone},
		{Kind: PatternPathRegex, Regex: regexp.MustCompile(`\.vcf\.gz$`), Action: ActionUpload},
	}, t.TempDir(), 0, nil)

	action, matched := w.matchAction("/data/work/out/sample.vcf.gz")
	assert.True(t, matched)
	assert.Equal(t, ActionUpload, action)

	action, matched = w.matchAction("/data/work/out/debug.log")
	assert.True(t, matched)
	assert.Equal(t, ActionNone, action)

	_, matched = w.matchAction("/data/work/out/notes.txt")
	assert.False(t, matched)
}

func TestSetPatternsReplacesCompiledSet(t *testing.T) {
	w := New(nil, t.TempDir(), 0, nil)
	_, matched := w.matchAction("/data/work/out/sample.vcf.gz")
	assert.False(t, matched)

	w.SetPatterns([]Pattern{
		{Kind: PatternPathRegex, Regex: regexp.MustCompile(`\.vcf\.gz$`), Action: ActionUpload},
	})

	action, matched := w.matchAction("/data/work/out/sample.vcf.gz")
	assert.True(t, matched)
	assert.Equal(t, ActionUpload, action)
}

func TestRandomCacheNameShapeAndUniqueness(t *testing.T) {
	a, err := randomCacheName()
	assert.NoError(t, err)
	assert.Len(t, a, cachedNameLength)

	b, err := randomCacheName()
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}
