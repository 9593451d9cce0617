package browser

import (
	"context"
	"os"
)

// Binding is a Service bound to one endpoint and secret, the shape the
// interactive shell works with.
type Binding struct {
	svc    *Service
	ep     Endpoint
	secret string
}

// Bind returns a Binding for ep.
func (s *Service) Bind(ep Endpoint, secret string) *Binding {
	return &Binding{svc: s, ep: ep, secret: secret}
}

// Endpoint returns the bound endpoint.
func (b *Binding) Endpoint() Endpoint { return b.ep }

func (b *Binding) ListLocal(dir string, offset, limit int) ([]string, error) {
	return b.svc.ListLocal(dir, offset, limit)
}

func (b *Binding) ListRemote(ctx context.Context, remotePath string, offset, limit int) ([]string, error) {
	return b.svc.ListRemote(ctx, b.ep, b.secret, remotePath, offset, limit)
}

func (b *Binding) Download(ctx context.Context, remotePath, localPath string) error {
	return b.svc.Download(ctx, b.ep, b.secret, remotePath, localPath)
}

func (b *Binding) Upload(ctx context.Context, localPath, remotePath string) (string, error) {
	return b.svc.Upload(ctx, b.ep, b.secret, localPath, remotePath)
}

func (b *Binding) RealPath(ctx context.Context, remotePath string) (string, error) {
	return b.svc.RealPath(ctx, b.ep, b.secret, remotePath)
}

func (b *Binding) Stat(ctx context.Context, remotePath string) (os.FileInfo, error) {
	return b.svc.Stat(ctx, b.ep, b.secret, remotePath)
}

func (b *Binding) PreviewLocal(path string, maxBytes int) ([]byte, bool, error) {
	return b.svc.PreviewLocal(path, maxBytes)
}
