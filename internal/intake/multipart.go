package intake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/machfivewheels/formrelay/internal/email"
)

// parseMultipart streams a multipart/form-data body. Caps are enforced as
// bytes arrive: a file is never buffered past MaxFileBytes+1, and parts that
// will be discarded are drained without buffering.
func parseMultipart(body io.Reader, boundary string, limits Limits) (*Submission, error) {
	if boundary == "" {
		return nil, errors.New("multipart body missing boundary")
	}

	sub := &Submission{Fields: make(map[string]string)}
	mr := multipart.NewReader(body, boundary)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return sub, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		if !isFilePart(part) {
			if err := readField(part, sub, limits.MaxFieldBytes); err != nil {
				part.Close()
				return nil, err
			}
			part.Close()
			continue
		}

		att, keep, err := readFile(part, len(sub.Attachments), limits)
		part.Close()
		if err != nil {
			return nil, err
		}
		if keep {
			sub.Attachments = append(sub.Attachments, att)
		}
	}
}

// isFilePart reports whether the part's Content-Disposition carries a
// filename parameter, even an empty one.
func isFilePart(part *multipart.Part) bool {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return false
	}
	_, ok := params["filename"]
	return ok
}

func readField(part *multipart.Part, sub *Submission, maxBytes int64) error {
	name := part.FormName()
	value, err := io.ReadAll(io.LimitReader(part, maxBytes))
	if err != nil {
		return fmt.Errorf("failed to read field %q: %w", name, err)
	}
	if name == "" {
		return nil
	}
	sub.Fields[name] = string(value)
	return nil
}

// readFile applies the attachment policy to one file part. keep is false for
// every policy drop; err is set only when the stream itself failed.
func readFile(part *multipart.Part, accepted int, limits Limits) (att email.Attachment, keep bool, err error) {
	filename := part.FileName()
	declared := partMediaType(part)

	if accepted >= limits.MaxFiles {
		limits.drop(DropTooMany, filename, declared)
		return att, false, drain(part)
	}
	if !Accepted(declared) {
		limits.drop(DropBadType, filename, declared)
		return att, false, drain(part)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(part, limits.MaxFileBytes+1))
	if err != nil {
		return att, false, fmt.Errorf("failed to read file %q: %w", filename, err)
	}
	if n > limits.MaxFileBytes {
		limits.drop(DropTooLarge, filename, declared)
		return att, false, drain(part)
	}
	if n == 0 {
		limits.drop(DropEmpty, filename, declared)
		return att, false, nil
	}

	if filename == "" {
		filename = fallbackFilename
	}
	return email.Attachment{
		Filename:    filename,
		ContentType: declared,
		Content:     buf.Bytes(),
	}, true, nil
}

// partMediaType returns the part's declared media type, lower-cased and
// without parameters. Parts without a Content-Type are octet streams.
func partMediaType(part *multipart.Part) string {
	header := part.Header.Get("Content-Type")
	if header == "" {
		return "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mediaType
}

func drain(r io.Reader) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return fmt.Errorf("failed to discard part: %w", err)
	}
	return nil
}
