package catalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alanyoungcy/taper/internal/domain"
)

// Source loads a catalog snapshot.
type Source interface {
	Name() string
	Load(ctx context.Context) (Snapshot, error)
}

// StaticSource serves a dataset held in memory.
type StaticSource struct {
	data []byte
}

// NewStaticSource creates a source over raw dataset bytes. A nil slice
// selects the embedded dataset.
func NewStaticSource(data []byte) *StaticSource {
	if data == nil {
		data = defaultDataset
	}
	return &StaticSource{data: data}
}

func (s *StaticSource) Name() string { return "static" }

// Load parses and validates the in-memory dataset.
func (s *StaticSource) Load(_ context.Context) (Snapshot, error) {
	ds, err := Parse(s.data)
	if err != nil {
		return Snapshot{}, err
	}
	return ds.Snapshot()
}

// FileSource reads the dataset from a local file on every Load, so edits
// are picked up by the next refresh.
type FileSource struct {
	path string
}

// NewFileSource creates a source over the dataset file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string { return "file" }

// Load reads, parses and validates the dataset file.
func (s *FileSource) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("catalog: read dataset %s: %w", s.path, err)
	}
	ds, err := Parse(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("catalog: %s: %w", s.path, err)
	}
	return ds.Snapshot()
}

// BlobSource reads the dataset from object storage.
type BlobSource struct {
	reader domain.BlobReader
	key    string
}

// NewBlobSource creates a source reading key through reader.
func NewBlobSource(reader domain.BlobReader, key string) *BlobSource {
	return &BlobSource{reader: reader, key: key}
}

func (s *BlobSource) Name() string { return "s3" }

// Load downloads, parses and validates the dataset object.
func (s *BlobSource) Load(ctx context.Context) (Snapshot, error) {
	rc, err := s.reader.Get(ctx, s.key)
	if err != nil {
		return Snapshot{}, fmt.Errorf("catalog: get dataset %s: %w", s.key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Snapshot{}, fmt.Errorf("catalog: read dataset %s: %w", s.key, err)
	}
	ds, err := Parse(data)
	if err != nil {
		return Snapshot{}, err
	}
	return ds.Snapshot()
}

// StoreSource reads meets and markets from the relational store.
type StoreSource struct {
	meets   domain.MeetStore
	markets domain.MarketStore
}

// NewStoreSource creates a source over the meet and market stores.
func NewStoreSource(meets domain.MeetStore, markets domain.MarketStore) *StoreSource {
	return &StoreSource{meets: meets, markets: markets}
}

func (s *StoreSource) Name() string { return "postgres" }

// Load lists every meet and market and validates the combination.
func (s *StoreSource) Load(ctx context.Context) (Snapshot, error) {
	meets, err := s.meets.List(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("catalog: list meets: %w", err)
	}
	markets, err := s.markets.List(ctx, domain.MarketFilter{})
	if err != nil {
		return Snapshot{}, fmt.Errorf("catalog: list markets: %w", err)
	}
	snap := Snapshot{Meets: meets, Markets: markets}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", domain.ErrInvalidCatalog, err)
	}
	return snap, nil
}
