package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
)

// filePart describes one file to place in a multipart test body.
type filePart struct {
	field       string
	filename    string
	contentType string
	content     []byte
}

// multipartRequest builds a multipart/form-data POST with the given fields
// (written first, in order) and files.
func multipartRequest(t *testing.T, fields [][2]string, files []filePart) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.filename))
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		if _, err := w.Write(f.content); err != nil {
			t.Fatalf("failed to write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/mail", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func image(name string, size int) filePart {
	return filePart{field: "photos", filename: name, contentType: "image/jpeg", content: bytes.Repeat([]byte{'x'}, size)}
}

// dropRecorder collects OnDrop callbacks.
type dropRecorder struct {
	mu      sync.Mutex
	reasons []DropReason
}

func (d *dropRecorder) record(reason DropReason, _, _ string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
}

func parse(t *testing.T, req *http.Request, limits Limits) (*Submission, error) {
	t.Helper()
	return Parse(context.Background(), httptest.NewRecorder(), req, limits)
}

func TestParseMultipart_FieldsLastWriteWins(t *testing.T) {
	t.Parallel()

	req := multipartRequest(t, [][2]string{
		{"business", "Acme"},
		{"contact", "Jo"},
		{"business", "Acme Wheels"},
	}, nil)

	sub, err := parse(t, req, DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sub.Fields["business"]; got != "Acme Wheels" {
		t.Errorf("business: got %q, want %q", got, "Acme Wheels")
	}
	if got := sub.Fields["contact"]; got != "Jo" {
		t.Errorf("contact: got %q, want %q", got, "Jo")
	}
	if len(sub.Attachments) != 0 {
		t.Errorf("Attachments: got %d, want 0", len(sub.Attachments))
	}
}

func TestParseMultipart_MaxFilesKeepsFirstEight(t *testing.T) {
	t.Parallel()

	var files []filePart
	for i := 1; i <= 9; i++ {
		files = append(files, image(fmt.Sprintf("photo-%d.jpg", i), 32))
	}
	drops := &dropRecorder{}
	limits := DefaultLimits()
	limits.OnDrop = drops.record

	sub, err := parse(t, multipartRequest(t, nil, files), limits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sub.Attachments) != 8 {
		t.Fatalf("Attachments: got %d, want 8", len(sub.Attachments))
	}
	for i, att := range sub.Attachments {
		want := fmt.Sprintf("photo-%d.jpg", i+1)
		if att.Filename != want {
			t.Errorf("Attachments[%d].Filename: got %q, want %q", i, att.Filename, want)
		}
	}
	if len(drops.reasons) != 1 || drops.reasons[0] != DropTooMany {
		t.Errorf("drops: got %v, want [%s]", drops.reasons, DropTooMany)
	}
}

func TestParseMultipart_DisallowedTypeExcluded(t *testing.T) {
	t.Parallel()

	files := []filePart{
		image("a.jpg", 10),
		{field: "photos", filename: "brochure.pdf", contentType: "application/pdf", content: []byte("%PDF-1.7")},
		{field: "photos", filename: "b.png", contentType: "image/png", content: []byte("png")},
		{field: "photos", filename: "c.webp", contentType: "image/webp", content: []byte("webp")},
		{field: "photos", filename: "d.gif", contentType: "IMAGE/GIF", content: []byte("gif")},
	}

	sub, err := parse(t, multipartRequest(t, [][2]string{{"email", "a@b.com"}}, files), DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sub.Attachments) != 4 {
		t.Fatalf("Attachments: got %d, want 4", len(sub.Attachments))
	}
	for _, att := range sub.Attachments {
		if att.ContentType == "application/pdf" || att.Filename == "brochure.pdf" {
			t.Errorf("disallowed attachment kept: %+v", att.Filename)
		}
	}
	if sub.Attachments[3].ContentType != "image/gif" {
		t.Errorf("ContentType: got %q, want %q", sub.Attachments[3].ContentType, "image/gif")
	}
	if sub.Fields["email"] != "a@b.com" {
		t.Errorf("email field lost: got %q", sub.Fields["email"])
	}
}

func TestParseMultipart_OversizeFileDroppedOthersKept(t *testing.T) {
	t.Parallel()

	limits := DefaultLimits()
	limits.MaxFileBytes = 64
	drops := &dropRecorder{}
	limits.OnDrop = drops.record

	files := []filePart{
		image("exact.jpg", 64),
		image("big.jpg", 65),
		image("after.jpg", 8),
	}

	sub, err := parse(t, multipartRequest(t, nil, files), limits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sub.Attachments) != 2 {
		t.Fatalf("Attachments: got %d, want 2", len(sub.Attachments))
	}
	if sub.Attachments[0].Filename != "exact.jpg" || sub.Attachments[1].Filename != "after.jpg" {
		t.Errorf("Attachments: got [%s %s], want [exact.jpg after.jpg]", sub.Attachments[0].Filename, sub.Attachments[1].Filename)
	}
	if len(sub.Attachments[0].Content) != 64 {
		t.Errorf("exact.jpg size: got %d, want 64", len(sub.Attachments[0].Content))
	}
	if len(drops.reasons) != 1 || drops.reasons[0] != DropTooLarge {
		t.Errorf("drops: got %v, want [%s]", drops.reasons, DropTooLarge)
	}
}

func TestParseMultipart_OversizeDoesNotConsumeSlot(t *testing.T) {
	t.Parallel()

	limits := DefaultLimits()
	limits.MaxFiles = 2
	limits.MaxFileBytes = 16

	files := []filePart{
		image("big.jpg", 17),
		image("one.jpg", 4),
		image("two.jpg", 4),
		image("three.jpg", 4),
	}

	sub, err := parse(t, multipartRequest(t, nil, files), limits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.Attachments) != 2 {
		t.Fatalf("Attachments: got %d, want 2", len(sub.Attachments))
	}
	if sub.Attachments[0].Filename != "one.jpg" || sub.Attachments[1].Filename != "two.jpg" {
		t.Errorf("Attachments: got [%s %s], want [one.jpg two.jpg]", sub.Attachments[0].Filename, sub.Attachments[1].Filename)
	}
}

func TestParseMultipart_EmptyAndUntypedFilesDropped(t *testing.T) {
	t.Parallel()

	drops := &dropRecorder{}
	limits := DefaultLimits()
	limits.OnDrop = drops.record

	files := []filePart{
		{field: "photos", filename: "empty.jpg", contentType: "image/jpeg"},
		{field: "photos", filename: "mystery.bin", content: []byte("data")},
	}

	sub, err := parse(t, multipartRequest(t, nil, files), limits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.Attachments) != 0 {
		t.Errorf("Attachments: got %d, want 0", len(sub.Attachments))
	}
	want := []DropReason{DropEmpty, DropBadType}
	if len(drops.reasons) != len(want) {
		t.Fatalf("drops: got %v, want %v", drops.reasons, want)
	}
	for i := range want {
		if drops.reasons[i] != want[i] {
			t.Errorf("drops[%d]: got %s, want %s", i, drops.reasons[i], want[i])
		}
	}
}

func TestParseMultipart_FilenameFallback(t *testing.T) {
	t.Parallel()

	files := []filePart{{field: "photos", filename: "", contentType: "image/png", content: []byte("png")}}

	sub, err := parse(t, multipartRequest(t, nil, files), DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(sub.Attachments))
	}
	if sub.Attachments[0].Filename != fallbackFilename {
		t.Errorf("Filename: got %q, want %q", sub.Attachments[0].Filename, fallbackFilename)
	}
}

func TestParseMultipart_FieldTruncated(t *testing.T) {
	t.Parallel()

	limits := DefaultLimits()
	limits.MaxFieldBytes = 5

	sub, err := parse(t, multipartRequest(t, [][2]string{{"message", "hello world"}}, nil), limits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sub.Fields["message"]; got != "hello" {
		t.Errorf("message: got %q, want %q", got, "hello")
	}
}

func TestParseMultipart_Invariants(t *testing.T) {
	t.Parallel()

	types := []string{"image/jpeg", "application/pdf", "image/png", "text/plain", "image/gif", "image/webp", ""}
	limits := DefaultLimits()
	limits.MaxFiles = 3
	limits.MaxFileBytes = 20

	for n := 0; n < 12; n++ {
		var files []filePart
		for i := 0; i < n; i++ {
			files = append(files, filePart{
				field:       "photos",
				filename:    fmt.Sprintf("f%d", i),
				contentType: types[(i*5+n)%len(types)],
				content:     bytes.Repeat([]byte{'z'}, (i*7+n)%30),
			})
		}

		sub, err := parse(t, multipartRequest(t, nil, files), limits)
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		if len(sub.Attachments) > limits.MaxFiles {
			t.Errorf("n=%d: %d attachments exceed MaxFiles", n, len(sub.Attachments))
		}
		for _, att := range sub.Attachments {
			if int64(len(att.Content)) > limits.MaxFileBytes {
				t.Errorf("n=%d: %s has %d bytes", n, att.Filename, len(att.Content))
			}
			if !Accepted(att.ContentType) {
				t.Errorf("n=%d: %s has disallowed type %q", n, att.Filename, att.ContentType)
			}
			if len(att.Content) == 0 {
				t.Errorf("n=%d: %s is empty", n, att.Filename)
			}
		}
	}
}

func TestParseMultipart_Truncated(t *testing.T) {
	t.Parallel()

	body := "--XYZ\r\nContent-Disposition: form-data; name=\"business\"\r\n\r\nAcme"
	req := httptest.NewRequest(http.MethodPost, "/api/mail", strings.NewReader(body))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=XYZ")

	_, err := parse(t, req, DefaultLimits())
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestParseMultipart_MissingBoundary(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/mail", strings.NewReader("irrelevant"))
	req.Header.Set("Content-Type", "multipart/form-data")

	_, err := parse(t, req, DefaultLimits())
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestParseMultipart_BodyLimitExceeded(t *testing.T) {
	t.Parallel()

	limits := DefaultLimits()
	limits.MaxBodyBytes = 256

	req := multipartRequest(t, nil, []filePart{image("huge.jpg", 4096)})

	_, err := parse(t, req, limits)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	var maxErr *http.MaxBytesError
	if !errors.As(err, &maxErr) {
		t.Errorf("expected wrapped *http.MaxBytesError, got %v", err)
	}
}

func TestParse_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := multipartRequest(t, [][2]string{{"business", "Acme"}}, nil)
	_, err := Parse(ctx, httptest.NewRecorder(), req, DefaultLimits())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParse_URLEncoded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
	}{
		{name: "explicit", contentType: "application/x-www-form-urlencoded"},
		{name: "with charset", contentType: "application/x-www-form-urlencoded; charset=UTF-8"},
		{name: "missing header", contentType: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			body := "first_name=A&last_name=B&email=a%40b.com&email=last%40b.com"
			req := httptest.NewRequest(http.MethodPost, "/api/mail", strings.NewReader(body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}

			sub, err := parse(t, req, DefaultLimits())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sub.Fields["first_name"] != "A" || sub.Fields["last_name"] != "B" {
				t.Errorf("Fields: got %v", sub.Fields)
			}
			if got := sub.Fields["email"]; got != "last@b.com" {
				t.Errorf("email: got %q, want %q", got, "last@b.com")
			}
			if len(sub.Attachments) != 0 {
				t.Errorf("Attachments: got %d, want 0", len(sub.Attachments))
			}
		})
	}
}

func TestParse_URLEncodedTooLarge(t *testing.T) {
	t.Parallel()

	limits := DefaultLimits()
	limits.MaxFormBytes = 8

	req := httptest.NewRequest(http.MethodPost, "/api/mail", strings.NewReader("comments=this-is-too-long"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if _, err := parse(t, req, limits); err == nil {
		t.Fatal("expected error for oversized form body, got nil")
	}
}

func TestParse_JSON(t *testing.T) {
	t.Parallel()

	body := `{"business":"Acme","contact":"Jo","vehicle_year":2019,"subscribed":true,"phone":null,"tags":["a","b"],"meta":{"x":1}}`
	req := httptest.NewRequest(http.MethodPost, "/api/mail", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	sub, err := parse(t, req, DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{
		"business":     "Acme",
		"contact":      "Jo",
		"vehicle_year": "2019",
		"subscribed":   "true",
		"tags":         "b",
	}
	for key, value := range want {
		if got := sub.Fields[key]; got != value {
			t.Errorf("%s: got %q, want %q", key, got, value)
		}
	}
	if _, ok := sub.Fields["phone"]; ok {
		t.Error("null member should be absent")
	}
	if _, ok := sub.Fields["meta"]; ok {
		t.Error("object member should be ignored")
	}
}

func TestParse_JSONEmptyBody(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/mail", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/json")

	sub, err := parse(t, req, DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.Fields) != 0 {
		t.Errorf("Fields: got %v, want empty", sub.Fields)
	}
}

func TestParse_JSONInvalid(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/mail", strings.NewReader(`{"business":`))
	req.Header.Set("Content-Type", "application/json")

	_, err := parse(t, req, DefaultLimits())
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestAccepted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mediaType string
		want      bool
	}{
		{"image/jpeg", true},
		{"image/png", true},
		{"image/webp", true},
		{"image/gif", true},
		{"Image/PNG", true},
		{"image/svg+xml", false},
		{"application/pdf", false},
		{"application/octet-stream", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := Accepted(tt.mediaType); got != tt.want {
			t.Errorf("Accepted(%q): got %v, want %v", tt.mediaType, got, tt.want)
		}
	}
}
