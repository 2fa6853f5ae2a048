package sink

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pulscan/catalog-crawler/internal/model"
	"github.com/pulscan/catalog-crawler/internal/telemetry"
)

// Sink couples the document-store upsert with the output-file append as a
// single unit: a product reaches the file only after its store write
// succeeded. Safe for concurrent callers.
type Sink struct {
	store  *DocumentStore
	out    *LineWriter
	logger *zap.Logger
}

// New builds a Sink.
func New(store *DocumentStore, out *LineWriter, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: store, out: out, logger: logger}
}

// Store upserts the product and, on success, appends it to the output file.
func (s *Sink) Store(ctx context.Context, p model.Product) error {
	if err := s.store.Upsert(ctx, p); err != nil {
		return err
	}
	if err := s.out.Write(p); err != nil {
		return fmt.Errorf("append %s to output: %w", p.URL, err)
	}
	telemetry.ProductsStored.Inc()
	s.logger.Debug("product stored", zap.String("url", p.URL), zap.String("title", p.Title))
	return nil
}

// Finalize publishes the output file atomically.
func (s *Sink) Finalize() error {
	return s.out.Finalize()
}

// Discard drops the partial output file, leaving the destination untouched.
func (s *Sink) Discard() {
	s.out.Discard()
}

// Close releases the document-store pool.
func (s *Sink) Close() {
	s.store.Close()
}
