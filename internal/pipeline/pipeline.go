// Package pipeline implements the publish path for uploaded distribution
// files as an explicit state machine. A single Process call carries an upload
// through validation, metadata extraction, durable storage, and index
// registration; a failure at any stage produces a typed *Error naming the
// stage that rejected the upload and the classified cause, and removes
// whatever earlier stages had already stored.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/index"
	"github.com/pratikychavan/PyPI-clone/internal/metadata"
	"github.com/pratikychavan/PyPI-clone/internal/storage"
	"github.com/pratikychavan/PyPI-clone/internal/telemetry"
	"github.com/pratikychavan/PyPI-clone/internal/validation"
	"github.com/pratikychavan/PyPI-clone/pkg/checksum"
)

// Stage names one state of the upload pipeline. An upload advances
// Received → Validated → Extracted → Stored → Indexed → Acknowledged; the
// stage recorded in an Error is the transition that rejected it.
type Stage string

const (
	StageReceived     Stage = "received"
	StageValidated    Stage = "validated"
	StageExtracted    Stage = "extracted"
	StageStored       Stage = "stored"
	StageIndexed      Stage = "indexed"
	StageAcknowledged Stage = "acknowledged"
)

// Kind classifies why an upload was rejected. Validation, corrupt, metadata
// and duplicate failures are the client's fault and not worth retrying;
// storage failures are the operator's and safe to retry.
type Kind string

const (
	KindValidation Kind = "validation"
	KindCorrupt    Kind = "corrupt"
	KindMetadata   Kind = "metadata"
	KindDuplicate  Kind = "duplicate"
	KindStorage    Kind = "storage"
)

// Error is the typed rejection the pipeline returns. The HTTP layer maps
// Kind to a status code; Reason is the stable client-facing explanation.
type Error struct {
	Stage  Stage
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload rejected at %s stage: %s", e.Stage, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Upload is one inbound publish request, fully read by the HTTP layer. Data
// is consumed exactly once; Signature is an optional detached GPG signature
// stored alongside the artifact as its .asc sidecar.
type Upload struct {
	Filename  string
	Data      []byte
	Signature []byte
	Uploader  string
}

// Result describes an acknowledged publish.
type Result struct {
	Package  string `json:"package"`
	Version  string `json:"version"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
	MD5      string `json:"md5,omitempty"`
}

// Pipeline coordinates the components a publish touches: the validators, the
// metadata extractor, the storage backend, and the in-memory index.
type Pipeline struct {
	store            storage.Storage
	index            *index.Index
	maxUploadSize    int64
	requireSignature bool
	trustedKeys      []string
}

// New creates a publish pipeline. trustedKeys holds the ASCII-armored GPG
// public keys loaded from upload.trusted_keys_file; when empty, signatures
// are stored without verification.
func New(store storage.Storage, ix *index.Index, cfg *config.UploadConfig, trustedKeys []string) *Pipeline {
	return &Pipeline{
		store:            store,
		index:            ix,
		maxUploadSize:    cfg.MaxSizeBytes,
		requireSignature: cfg.RequireSignature,
		trustedKeys:      trustedKeys,
	}
}

// Process runs one upload through the full pipeline. On success the artifact
// and its sidecars are durably stored and the file is visible in the index.
// On failure nothing remains visible: no index entry is written until every
// storage write has succeeded, and stored objects are removed (best effort)
// when a later step fails. The storage and index writes are not atomic
// together; the crash window between them is healed by the rebuild-on-start
// walk, which re-derives the index from storage.
func (p *Pipeline) Process(ctx context.Context, up Upload) (*Result, error) {
	start := time.Now()
	defer func() {
		telemetry.UploadDuration.Observe(time.Since(start).Seconds())
	}()

	// Received → Validated: filename grammar, size limit, container
	// structure, signature policy.
	if _, err := validation.ValidateUpload(up.Filename, up.Data, p.maxUploadSize); err != nil {
		return nil, p.fail(StageValidated, KindValidation, err)
	}
	if err := p.checkSignature(up); err != nil {
		return nil, p.fail(StageValidated, KindValidation, err)
	}

	// Validated → Extracted: read the embedded metadata record and
	// cross-check it against the filename.
	dist, err := metadata.Extract(up.Data, up.Filename)
	if err != nil {
		return nil, p.fail(StageExtracted, classifyExtraction(err), err)
	}

	// Extracted → Stored: artifact first, then the sidecars that describe
	// it. The artifact write is the duplicate check — storage refuses to
	// overwrite an existing object, so a republished filename fails here
	// with the original bytes untouched.
	objectPath := storage.ObjectPath(dist.CanonicalName(), up.Filename)
	uploaded, err := p.store.Upload(ctx, objectPath, bytes.NewReader(up.Data), int64(len(up.Data)))
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, p.fail(StageStored, KindDuplicate,
				fmt.Errorf("%s was already uploaded; publish a new version instead: %w", up.Filename, err))
		}
		return nil, p.fail(StageStored, KindStorage, err)
	}

	if err := p.storeSidecar(ctx, storage.MetadataPath(dist.CanonicalName(), up.Filename), dist.RawMetadata); err != nil {
		p.removeStored(ctx, objectPath)
		return nil, p.fail(StageStored, KindStorage, fmt.Errorf("failed to store metadata sidecar: %w", err))
	}
	if len(up.Signature) > 0 {
		if err := p.storeSidecar(ctx, storage.SignaturePath(dist.CanonicalName(), up.Filename), up.Signature); err != nil {
			p.removeStored(ctx, objectPath, storage.MetadataPath(dist.CanonicalName(), up.Filename))
			return nil, p.fail(StageStored, KindStorage, fmt.Errorf("failed to store signature sidecar: %w", err))
		}
	}

	// Stored → Indexed: registration is last, so the index never names a
	// file storage cannot serve.
	p.index.Register(dist.Name, dist.Version, dist.Summary, index.File{
		Filename:       up.Filename,
		Path:           objectPath,
		Size:           uploaded.Size,
		SHA256:         uploaded.Checksum,
		MD5:            uploaded.MD5,
		MetadataSHA256: checksum.SHA256Bytes(dist.RawMetadata),
		RequiresPython: dist.RequiresPython,
		HasSignature:   len(up.Signature) > 0,
		UploadedBy:     up.Uploader,
		UploadedAt:     time.Now().UTC(),
	})

	// Indexed → Acknowledged.
	telemetry.PackageUploadsTotal.WithLabelValues(string(dist.Kind)).Inc()
	slog.Info("distribution published",
		"package", dist.CanonicalName(),
		"version", dist.Version,
		"filename", up.Filename,
		"size", uploaded.Size,
		"uploader", up.Uploader)

	return &Result{
		Package:  dist.CanonicalName(),
		Version:  dist.Version,
		Filename: up.Filename,
		Size:     uploaded.Size,
		SHA256:   uploaded.Checksum,
		MD5:      uploaded.MD5,
	}, nil
}

// checkSignature enforces the deployment's signature policy. A provided
// signature is verified only when trusted keys are configured; without keys
// it is stored as-is for clients that check signatures themselves.
func (p *Pipeline) checkSignature(up Upload) error {
	if len(up.Signature) == 0 {
		if p.requireSignature {
			return errors.New("this registry requires a GPG signature for uploads")
		}
		return nil
	}
	if len(p.trustedKeys) == 0 {
		slog.Debug("storing signature without verification, no trusted keys configured",
			"filename", up.Filename)
		return nil
	}
	verification := validation.VerifyWithAny(p.trustedKeys, up.Data, up.Signature)
	if !verification.Verified {
		return fmt.Errorf("signature verification failed: %v", verification.Error)
	}
	slog.Debug("signature verified", "filename", up.Filename, "key_id", verification.KeyID)
	return nil
}

// storeSidecar writes a small derived object next to its artifact. A sidecar
// left behind by an earlier failed cleanup is replaced rather than treated as
// a conflict — only the artifact write carries duplicate semantics.
func (p *Pipeline) storeSidecar(ctx context.Context, path string, content []byte) error {
	_, err := p.store.Upload(ctx, path, bytes.NewReader(content), int64(len(content)))
	if errors.Is(err, storage.ErrAlreadyExists) {
		if err := p.store.Delete(ctx, path); err != nil {
			return err
		}
		_, err = p.store.Upload(ctx, path, bytes.NewReader(content), int64(len(content)))
	}
	return err
}

// removeStored deletes objects written before a later stage failed. Best
// effort: cleanup runs even when the request context is already cancelled,
// and failures are logged loudly because a leftover artifact resurfaces on
// the next index rebuild.
func (p *Pipeline) removeStored(ctx context.Context, paths ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, path := range paths {
		if err := p.store.Delete(ctx, path); err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.Error("failed to remove partially published object", "path", path, "error", err)
		}
	}
}

// fail records the rejection in the pipeline failure counter and wraps the
// cause in a typed Error.
func (p *Pipeline) fail(stage Stage, kind Kind, err error) error {
	telemetry.UploadPipelineFailuresTotal.WithLabelValues(string(stage), string(kind)).Inc()
	return &Error{Stage: stage, Kind: kind, Reason: err.Error(), Err: err}
}

// classifyExtraction maps extractor errors onto the rejection taxonomy:
// unreadable containers are corrupt, everything else (missing record,
// filename mismatch, invalid version) is a metadata problem.
func classifyExtraction(err error) Kind {
	if errors.Is(err, metadata.ErrCorruptArchive) {
		return KindCorrupt
	}
	return KindMetadata
}
