package gmailctl

import (
	"context"
	"slices"
	"testing"
)

const sampleExport = `{
  "filters": [
    {"name": "receipts", "criteria": {"from": "billing@shop.com"}, "action": {"addLabelIds": ["Label_1"]}},
    {"id": "f2", "criteria": {"subject": "weekly digest"}, "action": {"addLabelIds": ["Label_2", "IMPORTANT"]}},
    {"name": "junk", "criteria": {"from": "spam@junk.io"}, "action": {"addLabelIds": ["TRASH"]}},
    {"name": "list", "criteria": {"list": "dev@lists.example.com"}, "action": {"addLabelIds": ["Label_1"]}},
    {"criteria": {"from": "a@b.c"}, "action": {"addLabelIds": ["Newsletters"]}}
  ],
  "labels": [
    {"id": "Label_1", "name": "Receipts", "type": "user"},
    {"id": "Label_2", "name": "Digests", "type": "user"}
  ]
}`

func TestDecodeAndConvert(t *testing.T) {
	export, err := Decode([]byte(sampleExport))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := Convert(export)

	if len(got.LabelRules) != 3 {
		t.Fatalf("label rules = %+v", got.LabelRules)
	}
	first := got.LabelRules[0]
	if first.Name != "receipts" || first.Match.From != "billing@shop.com" || !slices.Equal(first.Labels, []string{"Receipts"}) {
		t.Fatalf("first rule = %+v", first)
	}
	second := got.LabelRules[1]
	if second.Name != "f2" || second.Match.Subject != "weekly digest" || !slices.Equal(second.Labels, []string{"Digests"}) {
		t.Fatalf("second rule = %+v", second)
	}
	if third := got.LabelRules[2]; third.Name != "gmailctl-4" || third.Labels[0] != "Newsletters" {
		t.Fatalf("third rule = %+v", third)
	}

	if len(got.TrashRules) != 1 || got.TrashRules[0].From != "spam@junk.io" {
		t.Fatalf("trash rules = %+v", got.TrashRules)
	}
	if !slices.Equal(got.Skipped, []string{"list"}) {
		t.Fatalf("skipped = %v", got.Skipped)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := Decode([]byte(`{"filters":[],"labels":[]}`)); err == nil {
		t.Fatal("expected error for empty export")
	}
}

func TestExportFiltersMissingBinary(t *testing.T) {
	r := Runner{Binary: "/nonexistent/gmailctl"}
	if _, err := r.ExportFilters(context.Background()); err == nil {
		t.Fatal("expected error for missing binary")
	}
}
