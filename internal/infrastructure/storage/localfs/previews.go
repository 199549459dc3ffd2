package localfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kirillkom/neurascan/internal/core/domain"
	"github.com/kirillkom/neurascan/internal/core/ports"
	"github.com/kirillkom/neurascan/internal/infrastructure/imaging"
)

// PreviewStore issues preview handles backed by files in Storage. A handle
// stays valid until Release.
type PreviewStore struct {
	storage *Storage

	mu   sync.Mutex
	live map[string]string
}

var _ ports.PreviewStore = (*PreviewStore)(nil)

func NewPreviewStore(storage *Storage) *PreviewStore {
	return &PreviewStore{
		storage: storage,
		live:    make(map[string]string),
	}
}

// Acquire stores a copy of image for display. Only raster formats recognised
// from the bytes themselves are accepted, and the handle carries the sniffed
// type rather than the one the client declared.
func (p *PreviewStore) Acquire(ctx context.Context, image domain.ScanImage) (domain.PreviewHandle, error) {
	mimeType, err := imaging.Sniff(image.Data)
	if err != nil {
		return domain.PreviewHandle{}, domain.WrapError(domain.ErrInvalidInput, "acquire preview", err)
	}
	id := uuid.NewString()
	key := id + extensionFor(mimeType)
	if err := p.storage.Save(ctx, key, bytes.NewReader(image.Data)); err != nil {
		return domain.PreviewHandle{}, fmt.Errorf("store preview: %w", err)
	}

	p.mu.Lock()
	p.live[id] = key
	p.mu.Unlock()

	return domain.PreviewHandle{
		ID:       id,
		MimeType: mimeType,
		Size:     image.Size(),
	}, nil
}

func (p *PreviewStore) Open(ctx context.Context, handle domain.PreviewHandle) (io.ReadCloser, error) {
	key, ok := p.key(handle.ID)
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open preview", fmt.Errorf("handle %s released", handle.ID))
	}
	return p.storage.Open(ctx, key)
}

// Release deletes the preview file; releasing twice is a no-op.
func (p *PreviewStore) Release(ctx context.Context, handle domain.PreviewHandle) error {
	p.mu.Lock()
	key, ok := p.live[handle.ID]
	delete(p.live, handle.ID)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return p.storage.Delete(ctx, key)
}

// Active returns the number of unreleased handles.
func (p *PreviewStore) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

func (p *PreviewStore) key(id string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.live[id]
	return key, ok
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".img"
}
