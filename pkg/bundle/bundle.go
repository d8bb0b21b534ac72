// Package bundle serializes one version, manifest and blobs included,
// as a single zstd-compressed stream for transfer between catalogs.
//
// Layout: an 8-byte magic, a big-endian uint32 format version, the
// zstd-compressed payload, and a SHA-256 trailer over every byte that
// precedes it. The payload is a length-prefixed JSON header followed by
// the raw blob bytes in manifest order.
package bundle

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/odvcencio/patchgate/pkg/store"
)

var bundleMagic = [8]byte{'p', 'g', 'b', 'u', 'n', 'd', 'l', 'e'}

const bundleFormatVersion = 1

// ErrFormat reports a malformed or truncated bundle stream.
var ErrFormat = errors.New("malformed bundle")

type headerEntry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

type header struct {
	ArtifactID    string        `json:"artifact_id"`
	ArtifactName  string        `json:"artifact_name"`
	VersionID     string        `json:"version_id"`
	BaseVersionID string        `json:"base_version_id,omitempty"`
	CommitMessage string        `json:"commit_message"`
	Entries       []headerEntry `json:"entries"`
}

type countedHashWriter struct {
	w io.Writer
	h io.Writer
}

func (cw *countedHashWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		cw.h.Write(p[:n])
	}
	return n, err
}

// Write streams versionID as a bundle onto w. Each blob is verified
// against its manifest hash while being read.
func Write(ctx context.Context, st *store.Store, versionID string, w io.Writer) error {
	version, err := st.GetVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("bundle write: %w", err)
	}
	artifact, err := st.GetArtifact(ctx, version.ArtifactID)
	if err != nil {
		return fmt.Errorf("bundle write: %w", err)
	}

	hdr := header{
		ArtifactID:    artifact.ID,
		ArtifactName:  artifact.Name,
		VersionID:     version.ID,
		BaseVersionID: version.BaseVersionID,
		CommitMessage: version.CommitMessage,
	}
	for _, e := range version.Manifest {
		hdr.Entries = append(hdr.Entries, headerEntry{Path: e.Path, Hash: string(e.Hash), Size: e.Size})
	}
	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("bundle write: encode header: %w", err)
	}

	hasher := sha256.New()
	out := &countedHashWriter{w: w, h: hasher}

	if _, err := out.Write(bundleMagic[:]); err != nil {
		return fmt.Errorf("bundle write: %w", err)
	}
	var versionBuf [4]byte
	binary.BigEndian.PutUint32(versionBuf[:], bundleFormatVersion)
	if _, err := out.Write(versionBuf[:]); err != nil {
		return fmt.Errorf("bundle write: %w", err)
	}

	enc, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("bundle write: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(hdrJSON)))
	if _, err := enc.Write(lenBuf[:]); err != nil {
		enc.Close()
		return fmt.Errorf("bundle write: header: %w", err)
	}
	if _, err := enc.Write(hdrJSON); err != nil {
		enc.Close()
		return fmt.Errorf("bundle write: header: %w", err)
	}

	for _, e := range version.Manifest {
		if err := ctx.Err(); err != nil {
			enc.Close()
			return err
		}
		data, err := st.Blobs().VerifyGet(e.Hash)
		if err != nil {
			enc.Close()
			return fmt.Errorf("bundle write: blob %s: %w", e.Hash, err)
		}
		if _, err := enc.Write(data); err != nil {
			enc.Close()
			return fmt.Errorf("bundle write: blob %s: %w", e.Hash, err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("bundle write: %w", err)
	}

	if _, err := w.Write(hasher.Sum(nil)); err != nil {
		return fmt.Errorf("bundle write: trailer: %w", err)
	}
	return nil
}

// Read imports a bundle stream into the catalog and returns the
// imported version id. The artifact is recreated under its original id
// when absent, keeping the deterministic version id intact. A base
// version missing from this catalog degrades to an initial version.
func Read(ctx context.Context, st *store.Store, r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("bundle read: %w", err)
	}
	if len(raw) < len(bundleMagic)+4+sha256.Size {
		return "", fmt.Errorf("bundle read: truncated stream: %w", ErrFormat)
	}

	body, trailer := raw[:len(raw)-sha256.Size], raw[len(raw)-sha256.Size:]
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:], trailer) {
		return "", fmt.Errorf("bundle read: trailer checksum mismatch: %w", store.ErrIntegrity)
	}

	if !bytes.Equal(body[:len(bundleMagic)], bundleMagic[:]) {
		return "", fmt.Errorf("bundle read: bad magic: %w", ErrFormat)
	}
	formatVersion := binary.BigEndian.Uint32(body[len(bundleMagic) : len(bundleMagic)+4])
	if formatVersion != bundleFormatVersion {
		return "", fmt.Errorf("bundle read: unsupported format version %d: %w", formatVersion, ErrFormat)
	}

	dec, err := zstd.NewReader(bytes.NewReader(body[len(bundleMagic)+4:]))
	if err != nil {
		return "", fmt.Errorf("bundle read: %w", err)
	}
	defer dec.Close()
	payload, err := io.ReadAll(dec)
	if err != nil {
		return "", fmt.Errorf("bundle read: decompress: %w", err)
	}

	if len(payload) < 4 {
		return "", fmt.Errorf("bundle read: truncated payload: %w", ErrFormat)
	}
	hdrLen := binary.BigEndian.Uint32(payload[:4])
	if uint64(len(payload)) < 4+uint64(hdrLen) {
		return "", fmt.Errorf("bundle read: truncated header: %w", ErrFormat)
	}
	var hdr header
	if err := json.Unmarshal(payload[4:4+hdrLen], &hdr); err != nil {
		return "", fmt.Errorf("bundle read: decode header: %w", err)
	}

	manifest, err := importBlobs(ctx, st, &hdr, payload[4+hdrLen:])
	if err != nil {
		return "", err
	}

	if err := st.EnsureArtifact(ctx, hdr.ArtifactID, hdr.ArtifactName); err != nil {
		return "", fmt.Errorf("bundle read: %w", err)
	}

	base := hdr.BaseVersionID
	if base != "" {
		if _, err := st.GetVersion(ctx, base); errors.Is(err, store.ErrNotFound) {
			base = ""
		} else if err != nil {
			return "", fmt.Errorf("bundle read: %w", err)
		}
	}

	versionID, err := st.CommitVersion(ctx, hdr.ArtifactID, base, manifest, hdr.CommitMessage)
	if err != nil {
		return "", fmt.Errorf("bundle read: %w", err)
	}
	if versionID != hdr.VersionID {
		return "", fmt.Errorf("bundle read: version id mismatch: stream says %s, derived %s: %w",
			hdr.VersionID, versionID, store.ErrIntegrity)
	}
	return versionID, nil
}

// importBlobs slices the concatenated blob section by declared sizes,
// verifies each against its declared hash, and stores them.
func importBlobs(ctx context.Context, st *store.Store, hdr *header, blobs []byte) (store.Manifest, error) {
	var manifest store.Manifest
	offset := int64(0)
	for _, e := range hdr.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.Size < 0 || offset+e.Size > int64(len(blobs)) {
			return nil, fmt.Errorf("bundle read: blob section short for %s: %w", e.Path, ErrFormat)
		}
		data := blobs[offset : offset+e.Size]
		offset += e.Size

		hash, err := st.Blobs().Put(data)
		if err != nil {
			return nil, fmt.Errorf("bundle read: store blob for %s: %w", e.Path, err)
		}
		if string(hash) != e.Hash {
			return nil, fmt.Errorf("bundle read: blob hash mismatch for %s: %w", e.Path, store.ErrIntegrity)
		}
		manifest = append(manifest, store.ManifestEntry{Path: e.Path, Hash: hash, Size: e.Size})
	}
	if offset != int64(len(blobs)) {
		return nil, fmt.Errorf("bundle read: %d trailing bytes in blob section: %w", int64(len(blobs))-offset, ErrFormat)
	}
	manifest.Sort()
	return manifest, nil
}
