// Package filewatch implements the File Watcher: pattern-driven output
// artifact detection, a stability predicate that avoids uploading
// actively-growing files, and at-most-once upload semantics via an
// external presigned-PUT sink.
package filewatch

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// Action is what a matched pattern tells the watcher to do with a file.
type Action int

const (
	ActionNone Action = iota
	ActionUpload
)

// PatternKind selects which field of a matched file a Pattern compares.
type PatternKind int

const (
	PatternDirectoryPrefix PatternKind = iota
	PatternFilenameRegex
	PatternPathRegex
)

// Pattern is one first-match-wins rule in the compiled pattern set.
type Pattern struct {
	Kind            PatternKind
	DirectoryPrefix string
	Regex           *regexp.Regexp
	Action          Action
}

// Uploader delegates the actual artifact transfer to an external sink
// (presigned PUT), per the file watcher's contract with object storage.
type Uploader interface {
	Upload(ctx context.Context, localPath, remoteName string) error
}

type watchedFile struct {
	path       string
	size       int64
	lastUpdate time.Time
	lastUpload *time.Time
	cachedPath string
	action     Action
}

// cachedNameCharset and length match the fixed 16-char lowercase
// alphanumeric cache filename contract.
const (
	cachedNameCharset = "abcdefghijklmnopqrstuvwxyz0123456789"
	cachedNameLength  = 16
)

// DefaultStabilityWindow is the default "has this file stopped growing"
// age threshold.
const DefaultStabilityWindow = 60 * time.Second

// Watcher holds the compiled pattern set and per-path watched-file state.
type Watcher struct {
	patterns        []Pattern
	watched         map[string]*watchedFile
	cacheDir        string
	stabilityWindow time.Duration
	uploader        Uploader
	now             func() time.Time
}

// New constructs a Watcher. cacheDir is wiped and recreated by Prepare.
func New(patterns []Pattern, cacheDir string, stabilityWindow time.Duration, uploader Uploader) *Watcher {
	if stabilityWindow <= 0 {
		stabilityWindow = DefaultStabilityWindow
	}
	return &Watcher{
		patterns:        patterns,
		watched:         make(map[string]*watchedFile),
		cacheDir:        cacheDir,
		stabilityWindow: stabilityWindow,
		uploader:        uploader,
		now:             time.Now,
	}
}

// SetPatterns replaces the compiled pattern set, for configuration reload.
func (w *Watcher) SetPatterns(patterns []Pattern) {
	w.patterns = patterns
}

// Prepare wipes and recreates the cache directory. Must be called once at
// daemon startup before the first Poll.
func (w *Watcher) Prepare() error {
	if err := os.RemoveAll(w.cacheDir); err != nil {
		return fmt.Errorf("filewatch: remove cache dir: %w", err)
	}
	if err := os.MkdirAll(w.cacheDir, 0o755); err != nil {
		return fmt.Errorf("filewatch: create cache dir: %w", err)
	}
	return nil
}

type foundFile struct {
	size    int64
	modTime time.Time
}

// Poll runs one scan-classify-upload-cache cycle over workflowDir, per the
// per-poll algorithm: walk, compute candidate watch state, classify each
// path as New/Old/None, upload New and Old candidates, snapshot files whose
// last_update advanced, then adopt the candidate state.
func (w *Watcher) Poll(ctx context.Context, workflowDir string) error {
	found, err := w.walk(workflowDir)
	if err != nil {
		return fmt.Errorf("filewatch: walk %s: %w", workflowDir, err)
	}

	candidate := w.buildCandidate(found)

	now := w.now()
	paths := unionPaths(w.watched, candidate)
	for _, path := range paths {
		old := w.watched[path]
		next := candidate[path]

		switch classify(old, next, now, w.stabilityWindow) {
		case uploadNew:
			if err := w.uploadFile(ctx, next.path, next.path); err != nil {
				continue // transient sink failure; retried next poll since next stays classified New
			}
			t := now
			next.lastUpload = &t
		case uploadOld:
			src := old.path
			if old.cachedPath != "" {
				src = old.cachedPath
			}
			_ = w.uploadFile(ctx, src, old.path) // best-effort; file may already be gone
		}
	}

	if err := w.refreshCache(candidate); err != nil {
		return err
	}

	w.watched = candidate
	return nil
}

func (w *Watcher) uploadFile(ctx context.Context, localPath, remoteName string) error {
	if w.uploader == nil {
		return nil
	}
	return w.uploader.Upload(ctx, localPath, filepath.Base(remoteName))
}

// buildCandidate computes watched' = watched ∪ matches(found), applying
// first-match-within-this-poll pattern policy and preserving each path's
// prior last_upload and cached_copy_path.
func (w *Watcher) buildCandidate(found map[string]foundFile) map[string]*watchedFile {
	candidate := make(map[string]*watchedFile, len(w.watched))

	for path, ff := range found {
		action, matched := w.matchAction(path)
		if !matched {
			continue
		}

		wf := &watchedFile{path: path, size: ff.size, lastUpdate: ff.modTime, action: action}
		if old, ok := w.watched[path]; ok {
			wf.lastUpload = old.lastUpload
			wf.cachedPath = old.cachedPath
		}
		candidate[path] = wf
	}

	return candidate
}

func (w *Watcher) matchAction(path string) (Action, bool) {
	dir := filepath.Dir(path) + string(os.PathSeparator)
	name := filepath.Base(path)

	for _, p := range w.patterns {
		switch p.Kind {
		case PatternDirectoryPrefix:
			if p.DirectoryPrefix != "" && dir == p.DirectoryPrefix {
				return p.Action, true
			}
		case PatternFilenameRegex:
			if p.Regex != nil && p.Regex.MatchString(name) {
				return p.Action, true
			}
		case PatternPathRegex:
			if p.Regex != nil && p.Regex.MatchString(path) {
				return p.Action, true
			}
		}
	}
	return ActionNone, false
}

type uploadClass int

const (
	uploadNone uploadClass = iota
	uploadNew
	uploadOld
)

// classify implements the upload classification predicate from the
// per-poll algorithm.
func classify(old, next *watchedFile, now time.Time, stabilityWindow time.Duration) uploadClass {
	if old == nil {
		return uploadNone
	}
	if old.action != ActionUpload {
		return uploadNone
	}

	if next == nil {
		// Disappeared: re-upload the cached snapshot.
		return uploadOld
	}

	if next.action == ActionUpload &&
		next.size == old.size &&
		next.lastUpdate.Equal(old.lastUpdate) &&
		now.Sub(next.lastUpdate) > stabilityWindow &&
		(old.lastUpload == nil || old.lastUpload.Before(next.lastUpdate)) {
		return uploadNew
	}

	if next.size < old.size {
		return uploadOld
	}

	return uploadNone
}

// refreshCache snapshots the current bytes of every candidate file whose
// last_update advanced since the prior poll, so the Old branch has
// something to re-upload if the file later truncates.
func (w *Watcher) refreshCache(candidate map[string]*watchedFile) error {
	for path, wf := range candidate {
		old, existed := w.watched[path]
		advanced := !existed || wf.lastUpdate.After(old.lastUpdate)
		if !advanced {
			continue
		}

		name, err := randomCacheName()
		if err != nil {
			return fmt.Errorf("filewatch: generate cache name: %w", err)
		}
		dest := filepath.Join(w.cacheDir, name)
		if err := copyFile(path, dest); err != nil {
			// Filesystem anomaly: log and skip, per error handling policy.
			continue
		}
		wf.cachedPath = dest
	}
	return nil
}

func (w *Watcher) walk(root string) (map[string]foundFile, error) {
	found := make(map[string]foundFile)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // vanished or permission denied mid-walk; skip
		}
		if info.IsDir() {
			return nil
		}
		found[path] = foundFile{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	return found, err
}

func unionPaths(a map[string]*watchedFile, b map[string]*watchedFile) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for p := range a {
		seen[p] = struct{}{}
	}
	for p := range b {
		seen[p] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	return out
}

func randomCacheName() (string, error) {
	buf := make([]byte, cachedNameLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, cachedNameLength)
	for i, b := range buf {
		out[i] = cachedNameCharset[int(b)%len(cachedNameCharset)]
	}
	return string(out), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
