package application

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/input"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// mockRepository implements output.SourceRepository for testing.
type mockRepository struct {
	source    *domain.Source
	features  map[string][]domain.Feature // layer name -> features
	openErr   error
	cursorErr map[string]error // layer name -> OpenCursor error
	failAfter map[string]int   // layer name -> chunks before Next fails
	skipped   map[string]int64 // layer name -> skipped count to report

	closed bool
}

func (m *mockRepository) Open(_ context.Context, path string) (*domain.Source, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	if m.source != nil {
		return m.source, nil
	}
	return &domain.Source{Path: path, Name: path}, nil
}

func (m *mockRepository) Close(_ context.Context, _ string) error {
	m.closed = true
	return nil
}

func (m *mockRepository) OpenCursor(_ context.Context, _, layerName string, chunkSize int) (output.FeatureCursor, error) {
	if err := m.cursorErr[layerName]; err != nil {
		return nil, err
	}
	cursor := &mockCursor{
		layer:     layerName,
		features:  m.features[layerName],
		chunkSize: chunkSize,
		failAfter: -1,
	}
	if n, ok := m.failAfter[layerName]; ok {
		cursor.failAfter = n
	}
	if n, ok := m.skipped[layerName]; ok {
		cursor.skipped = n
	}
	return cursor, nil
}

func (m *mockRepository) ComputeExtent(_ context.Context, _, layerName string) (*domain.Extent, error) {
	if err := m.cursorErr[layerName]; err != nil {
		return nil, err
	}
	if len(m.features[layerName]) == 0 {
		return nil, nil
	}
	return &domain.Extent{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}, nil
}

// mockCursor implements output.FeatureCursor over an in-memory slice.
type mockCursor struct {
	layer     string
	features  []domain.Feature
	chunkSize int
	offset    int
	index     int
	failAfter int // chunks served before Next fails, -1 never
	skipped   int64
	closed    bool
}

func (c *mockCursor) Next(ctx context.Context) (*domain.FeatureChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.failAfter >= 0 && c.index >= c.failAfter {
		return nil, domain.NewConversionError(c.layer, fmt.Errorf("cursor blew up"))
	}
	if c.offset >= len(c.features) {
		return nil, domain.ErrCursorDone
	}

	end := c.offset + c.chunkSize
	if end > len(c.features) {
		end = len(c.features)
	}
	chunk := &domain.FeatureChunk{
		LayerName: c.layer,
		Index:     c.index,
		Offset:    int64(c.offset),
		Features:  c.features[c.offset:end],
	}
	c.offset = end
	c.index++
	return chunk, nil
}

func (c *mockCursor) Skipped() int64 { return c.skipped }

func (c *mockCursor) Close() error {
	c.closed = true
	return nil
}

// mockWriterFactory implements output.WriterFactory for testing.
type mockWriterFactory struct {
	mu          sync.Mutex
	writers     map[string]*mockWriter
	factoryErr  map[string]error  // layer name -> NewLayerWriter error
	writeFailAt map[string]int    // layer name -> chunk index that fails
	closeHook   map[string]func() // layer name -> called from Close
}

func newMockWriterFactory() *mockWriterFactory {
	return &mockWriterFactory{writers: make(map[string]*mockWriter)}
}

func (f *mockWriterFactory) NewLayerWriter(schema *domain.TargetSchema, outputDir string) (output.LayerWriter, error) {
	if err := f.factoryErr[schema.LayerName]; err != nil {
		return nil, err
	}
	w := &mockWriter{
		layer:  schema.LayerName,
		path:   outputDir + "/" + schema.LayerName + ".parquet",
		failAt: -1,
	}
	if n, ok := f.writeFailAt[schema.LayerName]; ok {
		w.failAt = n
	}
	w.onClose = f.closeHook[schema.LayerName]
	f.mu.Lock()
	f.writers[schema.LayerName] = w
	f.mu.Unlock()
	return w, nil
}

func (f *mockWriterFactory) writer(layer string) *mockWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writers[layer]
}

// mockWriter implements output.LayerWriter for testing.
type mockWriter struct {
	layer   string
	path    string
	chunks  []int // chunk lengths in write order
	rows    int64
	failAt  int // chunk index that fails, -1 never
	onClose func()
	closed  bool
	aborted bool
}

func (w *mockWriter) Write(_ context.Context, chunk *domain.FeatureChunk) error {
	if w.failAt >= 0 && len(w.chunks) == w.failAt {
		return domain.NewConversionError(w.layer, fmt.Errorf("write failed"))
	}
	w.chunks = append(w.chunks, chunk.Len())
	w.rows += int64(chunk.Len())
	return nil
}

func (w *mockWriter) Close() error {
	w.closed = true
	if w.onClose != nil {
		w.onClose()
	}
	return nil
}

func (w *mockWriter) Abort() error {
	w.aborted = true
	return nil
}

func (w *mockWriter) Path() string { return w.path }

// mockMetrics implements output.MetricsCollector for testing.
type mockMetrics struct {
	mu              sync.Mutex
	layersOK        int
	layersFailed    int
	recordsWritten  int64
	chunksObserved  int
	jobsObserved    int
	activeJobs      int
	storageOps      map[string]int
	storageFailures int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{storageOps: make(map[string]int)}
}

func (m *mockMetrics) IncLayersConverted(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.layersOK++
	} else {
		m.layersFailed++
	}
}

func (m *mockMetrics) AddRecordsWritten(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordsWritten += n
}

func (m *mockMetrics) ObserveConversionDuration(_ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsObserved++
}

func (m *mockMetrics) ObserveChunkDuration(_ string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunksObserved++
}

func (m *mockMetrics) SetActiveJobs(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeJobs = count
}

func (m *mockMetrics) IncStorageOperations(operation string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storageOps[operation]++
	if !success {
		m.storageFailures++
	}
}

func (m *mockMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}

// mockStorage implements output.ObjectStorage for testing.
type mockStorage struct {
	mu          sync.Mutex
	objects     []output.StorageObject
	listErr     error
	downloadErr error
	uploadErr   error
	downloads   []string
	uploads     map[string]string // key -> src
}

func newMockStorage(objects ...output.StorageObject) *mockStorage {
	return &mockStorage{objects: objects, uploads: make(map[string]string)}
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.objects, nil
}

func (m *mockStorage) Download(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.downloadErr != nil {
		return m.downloadErr
	}
	m.downloads = append(m.downloads, key)
	return nil
}

func (m *mockStorage) Upload(_ context.Context, src, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return m.uploadErr
	}
	m.uploads[key] = src
	return nil
}

func (m *mockStorage) GetReader(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, nil
}

func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error) {
	return true, nil
}

// mockConversionService implements input.ConversionService for testing.
type mockConversionService struct {
	mu       sync.Mutex
	requests []input.ConvertRequest
	result   *domain.ConversionResult
	err      error
	block    chan struct{} // when set, Convert blocks until closed
}

func (m *mockConversionService) Convert(_ context.Context, req input.ConvertRequest) (*domain.ConversionResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		copied := *m.result
		copied.JobID = req.JobID
		return &copied, nil
	}
	return &domain.ConversionResult{JobID: req.JobID, Success: true, SourcePath: req.SourcePath}, nil
}

func (m *mockConversionService) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// collectSink records progress events.
type collectSink struct {
	mu     sync.Mutex
	events []output.ProgressEvent
}

func (s *collectSink) Progress(ev output.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *collectSink) all() []output.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]output.ProgressEvent(nil), s.events...)
}
