package form

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Attachment limits for uploaded evidence and custom check photos.
const (
	MaxAttachments    = 5
	MaxAttachmentSize = 10 << 20 // 10MB
)

// AttachmentsField is the state key holding the encoded attachment list.
const AttachmentsField = "attachments"

// Attachment describes a client side file selected for upload.
// Only metadata travels through the wizard; bytes go straight to the
// multipart submission.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// SetAttachments stores files in st under AttachmentsField.
func SetAttachments(st State, files []Attachment) error {
	if len(files) == 0 {
		delete(st, AttachmentsField)
		return nil
	}
	b, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("form: encode attachments: %w", err)
	}
	st[AttachmentsField] = string(b)
	return nil
}

// Attachments decodes the attachment list. Malformed data decodes to nil
// and is reported by the Attachments rule.
func (s State) Attachments() ([]Attachment, bool) {
	raw := s.Get(AttachmentsField)
	if raw == "" {
		return nil, true
	}
	var files []Attachment
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		return nil, false
	}
	return files, true
}

// AttachmentsRule validates count, type (image or PDF) and size.
// required forces at least one file.
func AttachmentsRule(required bool, msg string) Rule {
	return func(st State, errs Errors) {
		files, ok := st.Attachments()
		if !ok {
			errs.Add(AttachmentsField, "Attachments could not be read")
			return
		}
		if len(files) == 0 {
			if required {
				errs.Add(AttachmentsField, msg)
			}
			return
		}
		if len(files) > MaxAttachments {
			errs.Add(AttachmentsField, fmt.Sprintf("You can attach at most %d files", MaxAttachments))
			return
		}
		for _, f := range files {
			if err := CheckAttachment(f); err != nil {
				errs.Add(AttachmentsField, err.Error())
				return
			}
		}
	}
}

// CheckAttachment validates one file's type and size.
func CheckAttachment(f Attachment) error {
	ct := strings.ToLower(strings.TrimSpace(f.ContentType))
	if !strings.HasPrefix(ct, "image/") && ct != "application/pdf" {
		return fmt.Errorf("%s: only images and PDF files are accepted", f.Name)
	}
	if f.Size <= 0 {
		return fmt.Errorf("%s: file is empty", f.Name)
	}
	if f.Size > MaxAttachmentSize {
		return fmt.Errorf("%s: file exceeds the 10MB limit", f.Name)
	}
	return nil
}
