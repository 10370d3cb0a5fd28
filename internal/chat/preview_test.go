package chat

import "testing"

func TestPreviewTextStripsMarkdown(t *testing.T) {
	m := &Message{Type: TypeText, Body: "**hello** _world_ again\nsecond line"}
	if got := PreviewText(m, 0); got != "hello world again second line" {
		t.Fatalf("PreviewText = %q", got)
	}
}

func TestPreviewTextTruncates(t *testing.T) {
	m := &Message{Type: TypeText, Body: "abcdefghij"}
	if got := PreviewText(m, 5); got != "abcd…" {
		t.Fatalf("PreviewText = %q", got)
	}
}

func TestPreviewTextAttachment(t *testing.T) {
	m := &Message{Type: TypeImage, Body: `{"name":"cat.png","url":"https://x/cat.png"}`}
	if got := PreviewText(m, 0); got != "Image: cat.png" {
		t.Fatalf("PreviewText = %q", got)
	}
	m = &Message{Type: TypeFile, Body: "garbage"}
	if got := PreviewText(m, 0); got != "File" {
		t.Fatalf("PreviewText = %q", got)
	}
}
