package relbuilder

import (
	"reflect"
	"testing"

	"github.com/caselight/backend/pkg/ai"
	"github.com/caselight/backend/pkg/common"
)

func TestBuildSortsAndFilters(t *testing.T) {
	entityIDs := map[string]int64{
		"jane roe":  7,
		"acme corp": 3,
	}

	extracted := []ai.ExtractedRelationship{
		{SourceEntity: "Jane Roe", TargetEntity: "Acme Corp", Type: "employment", Confidence: 0.8, Description: "worked there"},
		{SourceEntity: "Jane Roe", TargetEntity: "Nobody Known", Type: "associate", Confidence: 0.9},
		{SourceEntity: "Jane Roe", TargetEntity: "Acme Corp", Type: "teleportation", Confidence: 0.9},
		{SourceEntity: "Jane Roe", TargetEntity: "JANE ROE", Type: "associate", Confidence: 0.9},
	}

	edges := Build("ds", 11, 5, extracted, entityIDs)
	if len(edges) != 1 {
		t.Fatalf("got %d edges, want 1: %+v", len(edges), edges)
	}

	want := common.EntityRelationship{
		DatasetID:   "ds",
		EntityA:     3,
		EntityB:     7,
		Type:        common.RelationEmployment,
		Strength:    0.8,
		ChunkIDs:    []int64{11},
		DocumentIDs: []int64{5},
		Description: "worked there",
	}
	if !reflect.DeepEqual(edges[0], want) {
		t.Errorf("edge = %+v, want %+v", edges[0], want)
	}
}

func TestBuildMergesDuplicateEdges(t *testing.T) {
	entityIDs := map[string]int64{
		"jane roe":  7,
		"acme corp": 3,
	}

	extracted := []ai.ExtractedRelationship{
		{SourceEntity: "Jane Roe", TargetEntity: "Acme Corp", Type: "financial", Confidence: 0.6, Description: "paid"},
		{SourceEntity: "Acme Corp", TargetEntity: "Jane Roe", Type: "financial", Confidence: 0.9, Description: "paid a retainer monthly"},
	}

	edges := Build("ds", 11, 5, extracted, entityIDs)
	if len(edges) != 1 {
		t.Fatalf("got %d edges, want 1: %+v", len(edges), edges)
	}
	if edges[0].Strength != 0.9 {
		t.Errorf("strength = %v, want 0.9", edges[0].Strength)
	}
	if edges[0].Description != "paid a retainer monthly" {
		t.Errorf("description = %q, want the longer one", edges[0].Description)
	}
	if edges[0].EntityA != 3 || edges[0].EntityB != 7 {
		t.Errorf("pair = (%d, %d), want (3, 7)", edges[0].EntityA, edges[0].EntityB)
	}
}

func TestBuildEmpty(t *testing.T) {
	edges := Build("ds", 1, 1, nil, map[string]int64{})
	if len(edges) != 0 {
		t.Errorf("got %d edges, want 0", len(edges))
	}
}
