package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/filingindex/internal/chclient"
	"github.com/bigkaa/filingindex/internal/domain/model"
	"github.com/bigkaa/filingindex/internal/fcaclient"
	"github.com/bigkaa/filingindex/internal/repository"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- In-memory реализация FilingRepository ---

// fakeFilingRepo повторяет семантику SQL-реализации: уникальность
// натурального ключа, монотонные переходы статусов, курсорные запросы.
type fakeFilingRepo struct {
	mu      sync.Mutex
	filings map[uuid.UUID]*model.Filing
}

func newFakeFilingRepo() *fakeFilingRepo {
	return &fakeFilingRepo{filings: make(map[uuid.UUID]*model.Filing)}
}

func (r *fakeFilingRepo) Exists(_ context.Context, f *model.NewFiling) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.filings {
		if existing.RegistryCode == f.RegistryCode &&
			existing.ExternalFilingID == f.ExternalFilingID &&
			existing.DownloadURL == f.DownloadURL {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeFilingRepo) Create(_ context.Context, f *model.NewFiling) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.filings {
		if existing.RegistryCode == f.RegistryCode &&
			existing.ExternalFilingID == f.ExternalFilingID &&
			existing.DownloadURL == f.DownloadURL {
			return uuid.Nil, repository.ErrConflict
		}
	}

	filing := &model.Filing{
		FilingID:         uuid.New(),
		RegistryCode:     f.RegistryCode,
		ExternalFilingID: f.ExternalFilingID,
		CompanyNumber:    f.CompanyNumber,
		CompanyName:      f.CompanyName,
		DownloadURL:      f.DownloadURL,
		ExternalViewURL:  f.ExternalViewURL,
		FilingDate:       f.FilingDate,
		StreamTimepoint:  f.StreamTimepoint,
		Status:           model.StatusPending,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	r.filings[filing.FilingID] = filing
	return filing.FilingID, nil
}

func (r *fakeFilingRepo) GetByID(_ context.Context, filingID uuid.UUID) (*model.Filing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	filing, ok := r.filings[filingID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *filing
	return &copied, nil
}

func (r *fakeFilingRepo) ListByStatus(_ context.Context, status model.FilingStatus) ([]*model.Filing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.Filing
	for _, filing := range r.filings {
		if filing.Status == status {
			copied := *filing
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (r *fakeFilingRepo) UpdateStatus(_ context.Context, filingID uuid.UUID, status model.FilingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	filing, ok := r.filings[filingID]
	if !ok {
		return repository.ErrNotFound
	}
	if status.Rank() <= filing.Status.Rank() {
		return repository.ErrSuperseded
	}
	filing.Status = status
	filing.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeFilingRepo) ApplyResult(_ context.Context, result *model.FilingResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	filing, ok := r.filings[result.FilingID]
	if !ok {
		return repository.ErrNotFound
	}
	if filing.Status.IsTerminal() {
		return repository.ErrSuperseded
	}

	filing.Status = result.TerminalStatus()
	if result.Error != "" {
		e := result.Error
		filing.Error = &e
	}
	if result.ViewerEntrypoint != "" {
		v := result.ViewerEntrypoint
		filing.ViewerEntrypoint = &v
	}
	if result.Logs != "" {
		l := result.Logs
		filing.WorkerLogs = &l
	}
	if result.CompanyName != "" {
		n := result.CompanyName
		filing.CompanyName = &n
	}
	filing.DocumentDate = result.DocumentDate
	filing.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeFilingRepo) LatestStreamTimepoint(_ context.Context, registry model.RegistryCode) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max int64
	found := false
	for _, filing := range r.filings {
		if filing.RegistryCode != registry || filing.StreamTimepoint == nil {
			continue
		}
		if !found || *filing.StreamTimepoint > max {
			max = *filing.StreamTimepoint
			found = true
		}
	}
	return max, found, nil
}

func (r *fakeFilingRepo) LatestFilingDate(_ context.Context, registry model.RegistryCode, floor time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := floor
	for _, filing := range r.filings {
		if filing.RegistryCode != registry || filing.FilingDate == nil {
			continue
		}
		if filing.FilingDate.After(latest) {
			latest = *filing.FilingDate
		}
	}
	return latest, nil
}

func (r *fakeFilingRepo) CountByRegistry(_ context.Context, registry model.RegistryCode) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, filing := range r.filings {
		if filing.RegistryCode == registry {
			count++
		}
	}
	return count, nil
}

// countByStatus — вспомогательный подсчёт для проверок в тестах.
func (r *fakeFilingRepo) countByStatus(status model.FilingStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, filing := range r.filings {
		if filing.Status == status {
			count++
		}
	}
	return count
}

// --- In-memory реализация CompanyRepository ---

type fakeCompanyRepo struct {
	mu        sync.Mutex
	companies map[string]bool
}

func newFakeCompanyRepo() *fakeCompanyRepo {
	return &fakeCompanyRepo{companies: make(map[string]bool)}
}

func (r *fakeCompanyRepo) Exists(_ context.Context, companyNumber string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.companies[companyNumber], nil
}

func (r *fakeCompanyRepo) Create(_ context.Context, c *model.Company) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.companies[c.CompanyNumber] = true
	return nil
}

func (r *fakeCompanyRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.companies), nil
}

// --- In-memory реализация ArchiveRepository ---

type fakeArchiveRepo struct {
	mu       sync.Mutex
	archives map[string]*model.Archive
}

func newFakeArchiveRepo() *fakeArchiveRepo {
	return &fakeArchiveRepo{archives: make(map[string]*model.Archive)}
}

func (r *fakeArchiveRepo) Exists(_ context.Context, filename string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.archives[filename]
	return ok, nil
}

func (r *fakeArchiveRepo) Create(_ context.Context, a *model.Archive) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Повтор — no-op, как ON CONFLICT DO NOTHING в SQL-реализации
	if _, ok := r.archives[a.Filename]; !ok {
		r.archives[a.Filename] = a
	}
	return nil
}

func (r *fakeArchiveRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.archives), nil
}

// --- Фейковые клиенты ---

// fakeStream воспроизводит заранее заданные строки потока.
type fakeStream struct {
	lines []string
	// gotTimepoint — курсор, с которым был открыт поток.
	gotTimepoint *int64
	opened       int
	err          error
}

func (s *fakeStream) StreamFilings(_ context.Context, timepoint *int64, handler chclient.StreamHandler) error {
	s.opened++
	s.gotTimepoint = timepoint
	if s.err != nil {
		return s.err
	}
	for _, line := range s.lines {
		if !handler(line) {
			return nil
		}
	}
	return nil
}

// fakeDocs возвращает заранее заданные URL документов по ключу
// "номер компании/resource_id".
type fakeDocs struct {
	urls map[string][]string
	err  error
}

func (d *fakeDocs) GetCompanyFilingURLs(_ context.Context, companyNumber, resourceID string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.urls[companyNumber+"/"+resourceID], nil
}

// fakeHistory раздаёт локальные файлы вместо скачивания по сети.
type fakeHistory struct {
	daily   []string
	monthly []string
	full    []string
	// files — соответствие URI → путь к файлу-фикстуре.
	files     map[string]string
	downloads int
}

func (h *fakeHistory) DailyDownloadLinks(_ context.Context) ([]string, error)   { return h.daily, nil }
func (h *fakeHistory) MonthlyDownloadLinks(_ context.Context) ([]string, error) { return h.monthly, nil }
func (h *fakeHistory) FullDownloadLinks(_ context.Context) ([]string, error)    { return h.full, nil }

// DownloadArchive копирует фикстуру во временный файл: вызывающий код
// удаляет скачанный файл после обработки.
func (h *fakeHistory) DownloadArchive(_ context.Context, uri string) (string, error) {
	h.downloads++
	src, err := os.Open(h.files[uri])
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "fake-archive-*.zip")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return dst.Name(), nil
}

// fakeFCA возвращает заранее заданную выдачу.
type fakeFCA struct {
	filings  []fcaclient.Filing
	gotSince time.Time
	err      error
}

func (f *fakeFCA) FetchAllSince(_ context.Context, since time.Time) ([]fcaclient.Filing, error) {
	f.gotSince = since
	if f.err != nil {
		return nil, f.err
	}
	return f.filings, nil
}

// fakeQueue имитирует очередь заданий и результатов.
type fakeQueue struct {
	mu        sync.Mutex
	submitted []model.Filing
	// failAfter — вернуть ошибку после указанного числа публикаций (0 — без ошибок).
	failAfter int
	results   []*model.FilingResult
	acked     int
	naked     int
}

func (q *fakeQueue) SubmitJobs(_ context.Context, filings []model.Filing, onSubmitted func(model.Filing) error) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	submitted := 0
	for _, filing := range filings {
		if q.failAfter > 0 && submitted >= q.failAfter {
			return submitted, errSubmitFailed
		}
		q.submitted = append(q.submitted, filing)
		submitted++
		_ = onSubmitted(filing)
	}
	return submitted, nil
}

func (q *fakeQueue) ConsumeResults(_ context.Context, apply func(*model.FilingResult) bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var remaining []*model.FilingResult
	for _, result := range q.results {
		if apply(result) {
			q.acked++
		} else {
			q.naked++
			remaining = append(remaining, result)
		}
	}
	q.results = remaining
	return nil
}

var errSubmitFailed = &submitError{}

type submitError struct{}

func (e *submitError) Error() string { return "публикация задания отклонена" }

// newTestIndexer собирает Indexer на фейках с указанной конфигурацией.
func newTestIndexer(
	cfg Config,
	stream *fakeStream,
	docs *fakeDocs,
	history *fakeHistory,
	fca *fakeFCA,
	queue *fakeQueue,
	filingRepo *fakeFilingRepo,
	companyRepo *fakeCompanyRepo,
	archiveRepo *fakeArchiveRepo,
) *Indexer {
	if stream == nil {
		stream = &fakeStream{}
	}
	if docs == nil {
		docs = &fakeDocs{urls: map[string][]string{}}
	}
	if history == nil {
		history = &fakeHistory{files: map[string]string{}}
	}
	if fca == nil {
		fca = &fakeFCA{}
	}
	if queue == nil {
		queue = &fakeQueue{}
	}
	if filingRepo == nil {
		filingRepo = newFakeFilingRepo()
	}
	if companyRepo == nil {
		companyRepo = newFakeCompanyRepo()
	}
	if archiveRepo == nil {
		archiveRepo = newFakeArchiveRepo()
	}
	return NewIndexer(cfg, stream, docs, history, fca, queue, filingRepo, companyRepo, archiveRepo, testLogger())
}
