package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/hitrate/internal/history"
)

func makePool(t *testing.T, stores, buffers, updates int) *history.Pool {
	t.Helper()
	p, err := history.NewPool(stores, buffers)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	rng := rand.New(rand.NewSource(17))
	for k := 0; k < updates; k++ {
		if err := p.Update(rng.Intn(buffers), uint64(rng.Intn(2))); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	return p
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	pool := makePool(t, 5, 4, 3000)
	path := filepath.Join(t.TempDir(), "pool.snap")

	if err := Save(path, pool); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.StoreCount() != 5 || loaded.BufferCount() != 4 {
		t.Fatalf("loaded dimensions %dx%d", loaded.StoreCount(), loaded.BufferCount())
	}
	for i := 0; i < 4; i++ {
		want, _ := pool.History(i, 1<<20)
		got, _ := loaded.History(i, 1<<20)
		if history.FormatBits(want) != history.FormatBits(got) {
			t.Fatalf("buffer %d history diverges after reload", i)
		}
		wt, _ := pool.Totals(i)
		gt, _ := loaded.Totals(i)
		if wt != gt {
			t.Fatalf("buffer %d totals diverge: %+v vs %+v", i, wt, gt)
		}
	}
}

func TestWriteRead_Stream(t *testing.T) {
	pool := makePool(t, 3, 2, 500)

	var buf bytes.Buffer
	if err := Write(&buf, pool); err != nil {
		t.Fatalf("Write: %v", err)
	}
	loaded, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	want, _ := pool.History(0, 1000)
	got, _ := loaded.History(0, 1000)
	if history.FormatBits(want) != history.FormatBits(got) {
		t.Fatal("history diverges after stream round trip")
	}
}

func TestReadInfo(t *testing.T) {
	pool := makePool(t, 6, 7, 100)
	path := filepath.Join(t.TempDir(), "pool.snap")
	if err := Save(path, pool); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := ReadInfo(path)
	if err != nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if info.StoreCount != 6 || info.BufferCount != 7 {
		t.Errorf("info = %+v", info)
	}
	if info.Policy != history.PolicyFullAdder {
		t.Errorf("policy = %q", info.Policy)
	}
	if info.CreatedMs == 0 {
		t.Errorf("created timestamp missing")
	}
}

func TestLoad_RejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.snap")
	if err := os.WriteFile(path, []byte("definitely not a snapshot"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestLoad_RejectsCorruptRecord(t *testing.T) {
	pool := makePool(t, 4, 2, 400)
	path := filepath.Join(t.TempDir(), "pool.snap")
	if err := Save(path, pool); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Flip a payload byte past the file header and the first record
	// header so the length fields still parse.
	data[headerSize+recordHeaderSize+2] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
}

func TestLoad_RejectsTruncated(t *testing.T) {
	pool := makePool(t, 4, 3, 400)
	path := filepath.Join(t.TempDir(), "pool.snap")
	if err := Save(path, pool); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, cut := range []int{len(data) - 1, len(data) / 2, headerSize + 3, 5} {
		if err := os.WriteFile(path, data[:cut], 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := Load(path); !errors.Is(err, ErrTruncated) {
			t.Fatalf("cut at %d: expected ErrTruncated, got %v", cut, err)
		}
	}
}

func TestRead_RejectsAbsurdDimensions(t *testing.T) {
	cases := []struct {
		name string
		info Info
	}{
		{"zero stores", Info{StoreCount: 0, BufferCount: 4}},
		{"stores over limit", Info{StoreCount: history.MaxStoreCount + 1, BufferCount: 4}},
		{"zero buffers", Info{StoreCount: 4, BufferCount: 0}},
		{"negative buffers", Info{StoreCount: 4, BufferCount: -1}},
		{"huge buffer count", Info{StoreCount: 4, BufferCount: 1 << 60}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			var header [headerSize]byte
			binary.LittleEndian.PutUint64(header[0:8], snapMagic)
			binary.LittleEndian.PutUint32(header[8:12], snapVersion)
			buf.Write(header[:])
			tc.info.Policy = history.PolicyFullAdder
			if err := writeRecord(&buf, appendInfo(nil, tc.info)); err != nil {
				t.Fatalf("writeRecord: %v", err)
			}

			if _, err := Read(&buf); !errors.Is(err, ErrBadHeader) {
				t.Fatalf("expected ErrBadHeader, got %v", err)
			}
		})
	}
}

func TestSaveLoad_Labeled(t *testing.T) {
	pool := makePool(t, 3, 4, 600)
	labels := []string{"cache/users", "", "cache/tokens", ""}
	path := filepath.Join(t.TempDir(), "pool.snap")

	if err := SaveLabeled(path, pool, labels); err != nil {
		t.Fatalf("SaveLabeled: %v", err)
	}
	loaded, gotLabels, err := LoadLabeled(path)
	if err != nil {
		t.Fatalf("LoadLabeled: %v", err)
	}
	if loaded.BufferCount() != 4 {
		t.Fatalf("buffer count = %d", loaded.BufferCount())
	}
	if len(gotLabels) != 4 {
		t.Fatalf("label count = %d", len(gotLabels))
	}
	for i := range labels {
		if gotLabels[i] != labels[i] {
			t.Errorf("label %d = %q, want %q", i, gotLabels[i], labels[i])
		}
	}

	// Unlabeled snapshots read back with empty labels.
	if err := Save(path, pool); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, gotLabels, err = LoadLabeled(path)
	if err != nil {
		t.Fatalf("LoadLabeled: %v", err)
	}
	for i, l := range gotLabels {
		if l != "" {
			t.Errorf("label %d = %q, want empty", i, l)
		}
	}
}

func TestWriteLabeled_CountMismatch(t *testing.T) {
	pool := makePool(t, 2, 3, 10)
	var buf bytes.Buffer
	if err := WriteLabeled(&buf, pool, []string{"only-one"}); err == nil {
		t.Fatal("expected error for label count mismatch")
	}
}

func TestSave_Overwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.snap")

	first := makePool(t, 2, 1, 10)
	if err := Save(path, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second := makePool(t, 3, 2, 20)
	if err := Save(path, second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.StoreCount() != 3 || loaded.BufferCount() != 2 {
		t.Fatalf("loaded dimensions %dx%d, want 3x2", loaded.StoreCount(), loaded.BufferCount())
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("%d files left in snapshot dir, want 1", len(entries))
	}
}
