package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"propintel/internal/domain"
)

// MaxUploadBytes is the dropzone policy carried over from the UI: one PDF,
// at most 10 MiB.
const MaxUploadBytes = 10 << 20

type UploadState string

const (
	StateIdle         UploadState = "idle"
	StateFileSelected UploadState = "file_selected"
	StateUploading    UploadState = "uploading"
	StateSuccess      UploadState = "success"
	StateError        UploadState = "error"
)

var (
	ErrUploadBusy  = errors.New("upload in progress")
	ErrNoFile      = errors.New("no file selected")
	ErrInvalidFile = errors.New("file must be a PDF of at most 10 MiB")
)

// UploadController owns the brochure upload flow:
// Idle → FileSelected → Uploading → {Success, Error}. Success and Error return
// to FileSelected on the next SelectFile; RemoveFile returns to Idle and
// clears the snapshot key. One controller per upload session.
type UploadController struct {
	client   domain.ExtractorClient
	repo     domain.SnapshotRepository
	cache    domain.Cache
	storeKey string

	mu         sync.Mutex
	session    string
	state      UploadState
	fileName   string
	fileSize   int64
	content    []byte
	progress   int
	transcript []string
	errMsg     string
	result     []domain.Property
	stop       chan struct{}
}

func NewUploadController(c domain.ExtractorClient, r domain.SnapshotRepository, cache domain.Cache, storeKey string) *UploadController {
	return &UploadController{
		client:   c,
		repo:     r,
		cache:    cache,
		storeKey: storeKey,
		session:  uuid.NewString(),
		state:    StateIdle,
	}
}

func (u *UploadController) SessionID() string { return u.session }

func (u *UploadController) State() UploadState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Progress is a cosmetic simulation, not byte-level truth. It creeps toward
// 95 while uploading and jumps to 100 on success; no other component may
// treat it as a truth signal.
func (u *UploadController) Progress() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.progress
}

func (u *UploadController) Transcript() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, len(u.transcript))
	copy(out, u.transcript)
	return out
}

func (u *UploadController) ErrMessage() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.errMsg
}

func (u *UploadController) Result() []domain.Property {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.result
}

func (u *UploadController) addLog(msg string) {
	u.transcript = append(u.transcript, msg)
}

// SelectFile accepts exactly one PDF of at most MaxUploadBytes. A rejected
// file leaves the state untouched. Accepting a file clears the previous
// extraction result and transcript.
func (u *UploadController) SelectFile(ctx context.Context, name, contentType string, size int64, r io.Reader) error {
	u.mu.Lock()
	if u.state == StateUploading {
		u.mu.Unlock()
		return ErrUploadBusy
	}
	u.mu.Unlock()

	if size > MaxUploadBytes {
		return fmt.Errorf("%w: %d bytes", ErrInvalidFile, size)
	}
	if !looksLikePDF(name, contentType) {
		return fmt.Errorf("%w: %s", ErrInvalidFile, contentType)
	}
	buf, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	if len(buf) > MaxUploadBytes {
		return fmt.Errorf("%w: over 10 MiB", ErrInvalidFile)
	}
	if !bytes.HasPrefix(buf, []byte("%PDF-")) {
		return fmt.Errorf("%w: missing PDF signature", ErrInvalidFile)
	}

	u.mu.Lock()
	u.state = StateFileSelected
	u.fileName = name
	u.fileSize = int64(len(buf))
	u.content = buf
	u.errMsg = ""
	u.result = nil
	u.progress = 0
	u.transcript = nil
	u.mu.Unlock()

	// A fresh selection invalidates whatever extraction came before it.
	if err := u.cache.Del(ctx, u.storeKey); err != nil {
		log.Warn().Err(err).Msg("cache invalidation on select failed")
	}
	return nil
}

// RemoveFile clears the selection and the persisted snapshot. Invalid while
// an upload is in flight.
func (u *UploadController) RemoveFile(ctx context.Context) error {
	u.mu.Lock()
	if u.state == StateUploading {
		u.mu.Unlock()
		return ErrUploadBusy
	}
	u.state = StateIdle
	u.fileName = ""
	u.fileSize = 0
	u.content = nil
	u.errMsg = ""
	u.result = nil
	u.progress = 0
	u.transcript = nil
	u.mu.Unlock()

	if err := u.repo.Clear(ctx, u.storeKey); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	if err := u.cache.Del(ctx, u.storeKey); err != nil {
		log.Warn().Err(err).Msg("cache invalidation on remove failed")
	}
	return nil
}

// Upload issues the extraction request. Valid only from FileSelected. There is
// no automatic retry: a failed upload lands in Error and waits for the caller.
func (u *UploadController) Upload(ctx context.Context) ([]domain.Property, error) {
	u.mu.Lock()
	if u.state != StateFileSelected {
		u.mu.Unlock()
		if u.state == StateUploading {
			return nil, ErrUploadBusy
		}
		return nil, ErrNoFile
	}
	u.state = StateUploading
	u.errMsg = ""
	u.result = nil
	u.progress = 0
	u.transcript = nil
	u.addLog("Starting upload...")
	name, content := u.fileName, u.content
	u.stop = make(chan struct{})
	u.mu.Unlock()

	go u.simulateProgress(u.stop)

	raw, err := u.client.Extract(ctx, name, bytes.NewReader(content))
	if err != nil {
		return nil, u.fail(ctx, name, err)
	}

	u.mu.Lock()
	u.addLog("File uploaded successfully. Processing...")
	u.mu.Unlock()

	batch := CoerceBatch(raw)
	if len(batch) == 0 {
		return nil, u.fail(ctx, name, domain.ErrNoData)
	}

	// Full snapshot replacement: the new batch supersedes the prior one
	// wholesale, never merged.
	if err := u.repo.Save(ctx, u.storeKey, batch); err != nil {
		return nil, u.fail(ctx, name, fmt.Errorf("persist snapshot: %w", err))
	}
	if err := u.cache.Del(ctx, u.storeKey); err != nil {
		log.Warn().Err(err).Msg("cache invalidation after upload failed")
	}

	u.mu.Lock()
	close(u.stop)
	u.state = StateSuccess
	u.progress = 100
	u.result = batch
	u.addLog("Processing complete! Data ready for analysis.")
	u.mu.Unlock()

	log.Info().
		Str("session", u.session).
		Str("file", name).
		Int("properties", len(batch)).
		Msg("extraction stored")
	return batch, nil
}

func (u *UploadController) fail(ctx context.Context, name string, err error) error {
	msg := errMessage(err)

	u.mu.Lock()
	close(u.stop)
	u.state = StateError
	u.errMsg = msg
	if errors.Is(err, domain.ErrNoData) {
		u.addLog("Processing failed or returned no data.")
	} else {
		u.addLog("Error: " + msg)
	}
	u.mu.Unlock()

	if lerr := u.repo.LogMiss(ctx, name, statusOf(err), msg); lerr != nil {
		log.Warn().Err(lerr).Msg("recording extraction miss failed")
	}
	log.Warn().Str("session", u.session).Str("file", name).Err(err).Msg("upload failed")
	return err
}

// errMessage prefers the server-reported detail; ErrNoData keeps the UI's
// historical wording.
func errMessage(err error) string {
	if errors.Is(err, domain.ErrNoData) {
		return "No data extracted"
	}
	var be *domain.BackendError
	if errors.As(err, &be) && be.Detail != "" {
		return be.Detail
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return "Upload failed"
}

func statusOf(err error) int {
	var be *domain.BackendError
	if errors.As(err, &be) {
		return be.Status
	}
	return 0
}

func (u *UploadController) simulateProgress(stop <-chan struct{}) {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			u.mu.Lock()
			if u.state == StateUploading && u.progress < 95 {
				u.progress += 5
			}
			u.mu.Unlock()
		}
	}
}

func looksLikePDF(name, contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "application/pdf" || ct == "application/x-pdf" {
		return true
	}
	// Some browsers omit the type for drag-and-drop; fall back to extension.
	return ct == "" && strings.HasSuffix(strings.ToLower(name), ".pdf")
}
