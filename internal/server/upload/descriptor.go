// Package upload implements chunk admission and artifact reassembly for
// resumable.js style chunked uploads.
package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/asyncupload/internal/common"
)

// Wire parameter names sent by the resumable.js client.
const (
	ParamChunkNumber      = "resumableChunkNumber"
	ParamChunkSize        = "resumableChunkSize"
	ParamCurrentChunkSize = "resumableCurrentChunkSize"
	ParamTotalChunks      = "resumableTotalChunks"
	ParamTotalSize        = "resumableTotalSize"
	ParamIdentifier       = "resumableIdentifier"
	ParamFilename         = "resumableFilename"
	ParamRelativePath     = "resumableRelativePath"
	ParamType             = "resumableType"
)

// Descriptor describes one chunk of one upload. Identifier is already the
// server-side UploadIdentifier; Filename is already sanitized. Session is the
// browser session that owns the upload; chunk sets and artifact names of
// different sessions never meet.
type Descriptor struct {
	Session          string
	Identifier       string
	ChunkIndex       int
	ChunkSize        int64
	CurrentChunkSize int64 // -1 when the client did not send it
	TotalChunks      int
	TotalSize        int64
	Filename         string
	RelativePath     string
	ContentType      string
}

// DescriptorFromValues parses and validates the resumable.js parameters of a
// request (query string or multipart form values).
func DescriptorFromValues(v url.Values) (Descriptor, error) {
	d := Descriptor{
		CurrentChunkSize: -1,
		RelativePath:     v.Get(ParamRelativePath),
		ContentType:      v.Get(ParamType),
	}

	var err error
	if d.ChunkIndex, err = requiredInt(v, ParamChunkNumber); err != nil {
		return Descriptor{}, err
	}
	if d.TotalChunks, err = requiredInt(v, ParamTotalChunks); err != nil {
		return Descriptor{}, err
	}
	if d.ChunkSize, err = requiredInt64(v, ParamChunkSize); err != nil {
		return Descriptor{}, err
	}
	if d.TotalSize, err = requiredInt64(v, ParamTotalSize); err != nil {
		return Descriptor{}, err
	}
	if s := v.Get(ParamCurrentChunkSize); s != "" {
		if d.CurrentChunkSize, err = strconv.ParseInt(s, 10, 64); err != nil {
			return Descriptor{}, fmt.Errorf("%s: %w", ParamCurrentChunkSize, common.ErrInvalidDescriptor)
		}
	}

	d.Filename = SanitizeFilename(v.Get(ParamFilename))
	d.Identifier = UploadIdentifier(d.TotalSize, v.Get(ParamIdentifier))

	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

func requiredInt64(v url.Values, key string) (int64, error) {
	s := v.Get(key)
	if s == "" {
		return 0, fmt.Errorf("missing %s: %w", key, common.ErrInvalidDescriptor)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, common.ErrInvalidDescriptor)
	}
	return n, nil
}

func requiredInt(v url.Values, key string) (int, error) {
	n, err := requiredInt64(v, key)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Validate checks the descriptor invariants.
func (d Descriptor) Validate() error {
	switch {
	case d.Identifier == "":
		return fmt.Errorf("empty identifier: %w", common.ErrInvalidDescriptor)
	case d.TotalChunks < 1:
		return fmt.Errorf("total chunks %d: %w", d.TotalChunks, common.ErrInvalidDescriptor)
	case d.ChunkIndex < 1 || d.ChunkIndex > d.TotalChunks:
		return fmt.Errorf("chunk %d of %d: %w", d.ChunkIndex, d.TotalChunks, common.ErrInvalidDescriptor)
	case d.TotalSize <= 0:
		return fmt.Errorf("total size %d: %w", d.TotalSize, common.ErrInvalidDescriptor)
	case d.ChunkSize <= 0:
		return fmt.Errorf("chunk size %d: %w", d.ChunkSize, common.ErrInvalidDescriptor)
	case d.CurrentChunkSize < -1:
		return fmt.Errorf("current chunk size %d: %w", d.CurrentChunkSize, common.ErrInvalidDescriptor)
	case d.Filename == "":
		return fmt.Errorf("empty filename: %w", common.ErrInvalidDescriptor)
	}
	return nil
}

// UploadIdentifier derives the server-side identifier from the total size and
// the client token: "<size>-<token>" with the token reduced to [A-Za-z0-9._-].
// A token that already carries the "<size>-" prefix is not prefixed again.
// An empty token yields "".
func UploadIdentifier(totalSize int64, token string) string {
	clean := keepChars(token, func(r rune) bool {
		return isAlnum(r) || r == '.' || r == '_' || r == '-'
	})
	if clean == "" {
		return ""
	}

	prefix := strconv.FormatInt(totalSize, 10) + "-"
	if strings.HasPrefix(clean, prefix) {
		return clean
	}
	return prefix + clean
}

// fallbackFilename replaces a name that sanitizes to nothing.
const fallbackFilename = "upload"

// SanitizeFilename keeps the base name, turns spaces into underscores and
// drops every character that is not a letter, a digit, '.', '_' or '-'.
// Letters and digits of any script are kept. Names that reduce to nothing,
// "." or ".." give fallbackFilename, keeping the extension when there is one.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = path.Base(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = keepChars(name, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-'
	})

	if strings.Trim(name, "._-") == "" {
		return fallbackFilename
	}
	if strings.HasPrefix(name, ".") && strings.Trim(path.Ext(name), ".") == strings.Trim(name, ".") {
		// only the extension survived, as for "★.pdf"
		return fallbackFilename + name
	}
	return name
}

// ChunkSet is the chunk store identifier of d's chunks:
// "<identifier>_<fp8>", fp8 covering the session and the filename. Clients
// derive the identifier from size and name alone, so it is not unique on its own.
func (d Descriptor) ChunkSet() string {
	return d.Identifier + "_" + fingerprint(d.Session, d.Filename)
}

// ArtifactName is the storage name of the assembled file for the given
// generation: "<prefix>/<total_size>_<fp8>_<filename>", fp8 being the first
// 8 hex digits of a sha256 over the session, the identifier, the filename and
// the generation. Generations let a session upload the same file again after
// an earlier copy was committed.
func (d Descriptor) ArtifactName(prefix string, generation int) string {
	fp := fingerprint(d.Session, d.Identifier, d.Filename, strconv.Itoa(generation))
	base := fmt.Sprintf("%d_%s_%s", d.TotalSize, fp, d.Filename)

	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return base
	}
	return prefix + "/" + base
}

func fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:4])
}

func keepChars(s string, keep func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if keep(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isAlnum(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}
