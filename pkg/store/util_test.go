package store

import (
	"errors"
	"reflect"
	"testing"

	"github.com/caselight/backend/pkg/common"
)

func TestFoldEdgeEvidence(t *testing.T) {
	into := common.EntityRelationship{
		Strength:    0.6,
		ChunkIDs:    []int64{1, 2},
		DocumentIDs: []int64{10},
	}
	from := common.EntityRelationship{
		Strength:    0.9,
		ChunkIDs:    []int64{2, 3},
		DocumentIDs: []int64{10, 11},
		Description: "met at the island estate",
	}

	got := FoldEdgeEvidence(into, from)

	if got.Strength != 0.9 {
		t.Errorf("strength = %v, want the maximum 0.9", got.Strength)
	}
	if !reflect.DeepEqual(got.ChunkIDs, []int64{1, 2, 3}) {
		t.Errorf("chunk ids = %v, want union {1 2 3}", got.ChunkIDs)
	}
	if !reflect.DeepEqual(got.DocumentIDs, []int64{10, 11}) {
		t.Errorf("document ids = %v, want union {10 11}", got.DocumentIDs)
	}
	if got.Description != "met at the island estate" {
		t.Errorf("description = %q, want backfill from the folded edge", got.Description)
	}

	// A weaker folded edge never lowers the surviving strength, and an
	// existing description wins.
	kept := FoldEdgeEvidence(
		common.EntityRelationship{Strength: 0.8, Description: "original"},
		common.EntityRelationship{Strength: 0.2, Description: "other"},
	)
	if kept.Strength != 0.8 || kept.Description != "original" {
		t.Errorf("got strength %v description %q, want 0.8 and original", kept.Strength, kept.Description)
	}
}

func TestChunkRange(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		chunkSize int
		want      [][2]int
	}{
		{"empty", 0, 10, nil},
		{"single window", 5, 10, [][2]int{{0, 5}}},
		{"exact windows", 10, 5, [][2]int{{0, 5}, {5, 10}}},
		{"ragged tail", 7, 3, [][2]int{{0, 3}, {3, 6}, {6, 7}}},
		{"zero chunk size covers all", 4, 0, [][2]int{{0, 4}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][2]int
			err := ChunkRange(tt.total, tt.chunkSize, func(start, end int) error {
				got = append(got, [2]int{start, end})
				return nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("windows = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("stops on error", func(t *testing.T) {
		wantErr := errors.New("boom")
		calls := 0
		err := ChunkRange(10, 2, func(start, end int) error {
			calls++
			if calls == 2 {
				return wantErr
			}
			return nil
		})
		if !errors.Is(err, wantErr) {
			t.Errorf("err = %v, want %v", err, wantErr)
		}
		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
	})
}

func TestDedupeStrings(t *testing.T) {
	got := DedupeStrings([]string{"a", "", "b", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DedupeStrings() = %v, want %v", got, want)
	}
	if DedupeStrings(nil) != nil {
		t.Error("expected nil for nil input")
	}
}

func TestDedupeInt64s(t *testing.T) {
	got := DedupeInt64s([]int64{3, 1, 3, 2, 1})
	want := []int64{3, 1, 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DedupeInt64s() = %v, want %v", got, want)
	}
}
