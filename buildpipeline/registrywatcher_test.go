package buildpipeline

import (
	"context"
	"testing"
)

type fakeRegistryMeta struct {
	enqueued []IndexEntry
	yanked   []IndexEntry
	failNext bool
}

func (f *fakeRegistryMeta) Enqueue(_ context.Context, name, version, registry string) (int64, error) {
	f.enqueued = append(f.enqueued, IndexEntry{Name: name, Version: version, Registry: registry})
	return int64(len(f.enqueued)), nil
}

func (f *fakeRegistryMeta) SetYanked(_ context.Context, name, version string, yanked bool) error {
	f.yanked = append(f.yanked, IndexEntry{Name: name, Version: version, Yanked: yanked})
	return nil
}

var _ RegistryMetadataStore = (*fakeRegistryMeta)(nil)

type fakeIndexSource struct {
	pages [][]IndexEntry // one slice of entries per Diff call
	call  int
}

func (f *fakeIndexSource) Diff(_ context.Context, cursor string) ([]IndexEntry, string, error) {
	if f.call >= len(f.pages) {
		return nil, cursor, nil
	}
	entries := f.pages[f.call]
	f.call++
	return entries, "cursor-" + string(rune('a'+f.call)), nil
}

func TestRegistryWatcherPollOnceEnqueuesNewAndMarksYanks(t *testing.T) {
	meta := &fakeRegistryMeta{}
	idx := &fakeIndexSource{pages: [][]IndexEntry{
		{
			{Name: "serde", Version: "1.0.0", Registry: "crates.io", New: true},
			{Name: "tokio", Version: "1.2.0", Registry: "crates.io", New: false, Yanked: true},
		},
	}}
	w := NewRegistryWatcher(meta, idx, nil)

	if err := w.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}

	if len(meta.enqueued) != 1 || meta.enqueued[0].Name != "serde" {
		t.Fatalf("enqueued = %+v, want exactly serde@1.0.0", meta.enqueued)
	}
	if len(meta.yanked) != 1 || meta.yanked[0].Name != "tokio" || !meta.yanked[0].Yanked {
		t.Fatalf("yanked = %+v, want exactly tokio yanked", meta.yanked)
	}
	if w.cursor != "cursor-b" {
		t.Fatalf("cursor = %q, want advancing past the first page", w.cursor)
	}
}

func TestRegistryWatcherNewAndYankedCombined(t *testing.T) {
	meta := &fakeRegistryMeta{}
	idx := &fakeIndexSource{pages: [][]IndexEntry{
		{{Name: "leftpad", Version: "0.1.0", Registry: "crates.io", New: true, Yanked: true}},
	}}
	w := NewRegistryWatcher(meta, idx, nil)

	if err := w.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if len(meta.enqueued) != 1 {
		t.Fatalf("a release that is both new and already yanked should still be enqueued, got %+v", meta.enqueued)
	}
	// There is no release row to flag yet; the build picks the yank status
	// up from the registry API.
	if len(meta.yanked) != 0 {
		t.Fatalf("a brand-new release has no row to mark yanked, got %+v", meta.yanked)
	}
}

func TestRegistryWatcherUnyank(t *testing.T) {
	meta := &fakeRegistryMeta{}
	idx := &fakeIndexSource{pages: [][]IndexEntry{
		{{Name: "tokio", Version: "1.2.0", Registry: "crates.io", New: false, Yanked: false}},
	}}
	w := NewRegistryWatcher(meta, idx, nil)

	if err := w.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if len(meta.yanked) != 1 || meta.yanked[0].Yanked {
		t.Fatalf("yanked = %+v, want exactly one un-yank call", meta.yanked)
	}
}

func TestRegistryWatcherNoEntries(t *testing.T) {
	meta := &fakeRegistryMeta{}
	idx := &fakeIndexSource{}
	w := NewRegistryWatcher(meta, idx, nil)

	if err := w.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if len(meta.enqueued) != 0 || len(meta.yanked) != 0 {
		t.Fatal("no entries should mean no mutation calls")
	}
}
