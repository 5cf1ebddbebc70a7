package fetch

import (
	"reflect"
	"testing"

	"github.com/fenilsonani/imapwatch/internal/session"
	"github.com/fenilsonani/imapwatch/internal/wire"
)

func TestLeafPaths_SingleOnepart(t *testing.T) {
	bs := wire.Onepart{MimeType: "text/plain"}
	got := LeafPaths(bs)
	want := [][]int{{1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LeafPaths(onepart) = %v, want %v", got, want)
	}
}

func TestLeafPaths_Multipart(t *testing.T) {
	bs := wire.Multipart{
		Subtype: "mixed",
		Children: []wire.BodyStructure{
			wire.Onepart{MimeType: "text/plain"},
			wire.Onepart{MimeType: "application/octet-stream"},
		},
	}
	got := LeafPaths(bs)
	want := [][]int{{1}, {2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LeafPaths(multipart) = %v, want %v", got, want)
	}
}

func TestLeafPaths_NestedMultipart(t *testing.T) {
	bs := wire.Multipart{
		Subtype: "mixed",
		Children: []wire.BodyStructure{
			wire.Multipart{
				Subtype: "alternative",
				Children: []wire.BodyStructure{
					wire.Onepart{MimeType: "text/plain"},
					wire.Onepart{MimeType: "text/html"},
				},
			},
			wire.Onepart{MimeType: "application/pdf"},
		},
	}
	got := LeafPaths(bs)
	want := [][]int{{1, 1}, {1, 2}, {2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LeafPaths(nested) = %v, want %v", got, want)
	}
}

func TestBuildTree_Onepart(t *testing.T) {
	bs := wire.Onepart{MimeType: "text/plain", Encoding: wire.Encoding{Kind: wire.EncodingSevenBit}}
	parts := []session.BodyContent{
		{Path: []int{1}, Content: []byte("hello")},
	}
	got := BuildTree(bs, parts)
	leaf, ok := got.(session.BodyLeaf)
	if !ok {
		t.Fatalf("BuildTree(onepart) = %T, want session.BodyLeaf", got)
	}
	if leaf.MimeType != "text/plain" || string(leaf.Content) != "hello" {
		t.Errorf("leaf = %+v, want MimeType=text/plain Content=hello", leaf)
	}
}

func TestBuildTree_Multipart(t *testing.T) {
	bs := wire.Multipart{
		Subtype: "mixed",
		Children: []wire.BodyStructure{
			wire.Onepart{MimeType: "text/plain", Encoding: wire.Encoding{Kind: wire.EncodingSevenBit}},
			wire.Onepart{MimeType: "image/png", Encoding: wire.Encoding{Kind: wire.EncodingBase64}},
		},
	}
	parts := []session.BodyContent{
		{Path: []int{1}, Content: []byte("plain body")},
		{Path: []int{2}, Content: []byte("aGVsbG8=")},
	}
	got := BuildTree(bs, parts)
	branch, ok := got.(session.BodyBranch)
	if !ok {
		t.Fatalf("BuildTree(multipart) = %T, want session.BodyBranch", got)
	}
	if branch.Subtype != "mixed" || len(branch.Children) != 2 {
		t.Fatalf("branch = %+v, want Subtype=mixed with 2 children", branch)
	}
	leaf0 := branch.Children[0].(session.BodyLeaf)
	if string(leaf0.Content) != "plain body" {
		t.Errorf("children[0].Content = %q, want %q", leaf0.Content, "plain body")
	}
	leaf1 := branch.Children[1].(session.BodyLeaf)
	if string(leaf1.Content) != "hello" {
		t.Errorf("children[1].Content = %q, want %q (base64-decoded)", leaf1.Content, "hello")
	}
}

func TestBuildTree_MissingPart(t *testing.T) {
	bs := wire.Onepart{MimeType: "text/plain"}
	got := BuildTree(bs, nil)
	leaf := got.(session.BodyLeaf)
	if len(leaf.Content) != 0 {
		t.Errorf("leaf.Content = %q, want empty for a part never fetched", leaf.Content)
	}
}
