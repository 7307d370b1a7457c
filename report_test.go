package cytoqc

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func sampleResult() *Result {
	it := 5.0
	return &Result{
		RunID:             "run-1",
		GoodEvents:        []bool{true, false, true, true, false, true, true, true, false, true},
		PercentageRemoved: 30,
		ITPercentage:      &it,
		WindowCount:       3,
		EventsPerWindow:   4,
		Warnings:          []string{"channel X skipped"},
	}
}

func TestPackMask(t *testing.T) {
	mask := []bool{true, false, true, true, false, true, true, true, false, true}
	packed := packMask(mask)
	if len(packed) != 2 {
		t.Fatalf("expected 2 bytes, got %d", len(packed))
	}
	if packed[0] != 0xED || packed[1] != 0x02 {
		t.Errorf("packed = %#x", packed)
	}
	if got := unpackMask(packed, len(mask)); !slices.Equal(got, mask) {
		t.Errorf("unpack = %v", got)
	}
}

func TestNewReport(t *testing.T) {
	ds, err := NewDataset([]string{"A"}, [][]float64{{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}})
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig("A")
	rep := NewReport(ds, cfg, sampleResult())

	if rep.ID != "run-1" {
		t.Errorf("ID = %q", rep.ID)
	}
	if rep.Fingerprint != ds.Fingerprint() {
		t.Error("fingerprint not taken from the dataset")
	}
	if rep.Summary.KeptEvents != 7 || rep.EventCount != 10 {
		t.Errorf("summary = %+v, events = %d", rep.Summary, rep.EventCount)
	}
	if !slices.Equal(rep.GoodEvents(), sampleResult().GoodEvents) {
		t.Error("mask does not survive packing")
	}

	anon := sampleResult()
	anon.RunID = ""
	if NewReport(ds, cfg, anon).ID == "" {
		t.Error("expected a generated id")
	}
}

func TestReportStore(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := NewReportStore(backend, nil, nil)

	rep := NewReport(nil, DefaultConfig("A"), sampleResult())
	rep.Source = "tube-1.csv"
	if err := store.Save(ctx, rep); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if ok, _ := backend.Exists(ctx, "reports/run-1.json"); !ok {
		t.Fatal("report not stored under reports/<id>.json")
	}

	got, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Source != "tube-1.csv" || got.Summary.PercentageRemoved != 30 {
		t.Errorf("loaded %+v", got)
	}
	if got.Summary.ITPercentage == nil || *got.Summary.ITPercentage != 5 {
		t.Error("IT percentage lost")
	}
	if got.Summary.MADPercentage != nil {
		t.Error("MAD percentage should stay nil")
	}
	if !slices.Equal(got.GoodEvents(), rep.GoodEvents()) {
		t.Error("mask lost")
	}

	ids, err := store.List(ctx)
	if err != nil || !slices.Equal(ids, []string{"run-1"}) {
		t.Errorf("List = %v, %v", ids, err)
	}

	if err := store.Delete(ctx, "run-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(ctx, "run-1"); !IsBlobNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestReportStore_Encrypted(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	enc, err := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	store := NewReportStore(backend, enc, nil)

	rep := NewReport(nil, DefaultConfig("A"), sampleResult())
	if err := store.Save(ctx, rep); err != nil {
		t.Fatal(err)
	}
	raw, _ := backend.Read(ctx, "reports/run-1.json")
	if !IsSealed(raw) {
		t.Fatal("stored blob is not encrypted")
	}

	got, err := store.Load(ctx, "run-1")
	if err != nil || got.ID != "run-1" {
		t.Fatalf("Load = %v, %v", got, err)
	}

	plain := NewReportStore(backend, nil, nil)
	if _, err := plain.Load(ctx, "run-1"); err == nil {
		t.Error("expected an error loading an encrypted report without a key")
	}
}

func TestReportStore_InvalidID(t *testing.T) {
	store := NewReportStore(NewMemoryBackend(), nil, nil)
	for _, id := range []string{"", "../x", "a/b"} {
		if _, err := store.Load(context.Background(), id); !errors.Is(err, ErrConfig) {
			t.Errorf("Load(%q): expected ErrConfig, got %v", id, err)
		}
	}
}
