package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/leadmail/internal/config"
	"github.com/digkill/leadmail/internal/limiter"
	"github.com/digkill/leadmail/internal/llm"
	"github.com/digkill/leadmail/internal/metrics"
	"github.com/digkill/leadmail/internal/models"
	"github.com/digkill/leadmail/internal/output"
)

const validEmail = `{"subject":"Quick idea for Acme","body":"Hi Ana, we help teams write better emails."}`

type fakeLedger struct {
	mu    sync.Mutex
	users map[string]*models.User
	runs  []models.PromptRun
}

func newFakeLedger(credits map[string]int) *fakeLedger {
	l := &fakeLedger{users: map[string]*models.User{}}
	for id, c := range credits {
		l.users[id] = &models.User{ID: id, Credits: c}
	}
	return l
}

func (l *fakeLedger) FindByID(_ context.Context, id string) (*models.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (l *fakeLedger) DebitAndRecordRun(_ context.Context, run *models.PromptRun) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[run.UserID]
	if !ok || u.Credits <= 0 {
		return 0, ErrNoCredits
	}
	u.Credits--
	run.ID = "run-" + string(rune('a'+len(l.runs)))
	l.runs = append(l.runs, *run)
	return u.Credits, nil
}

func (l *fakeLedger) credits(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.users[id].Credits
}

func (l *fakeLedger) runCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.runs)
}

type fakeTemplates struct {
	templates []models.PromptTemplate
}

func (f *fakeTemplates) Select(_ context.Context, key string, version int) (*models.PromptTemplate, error) {
	var best *models.PromptTemplate
	for i := range f.templates {
		t := f.templates[i]
		if t.Key != key {
			continue
		}
		if version > 0 {
			if t.Version == version {
				return &t, nil
			}
			continue
		}
		if t.IsActive && (best == nil || t.Version > best.Version) {
			best = &t
		}
	}
	if best == nil {
		return nil, ErrTemplateNotFound
	}
	return best, nil
}

type fakeModerator struct {
	flag  func(text string) bool
	err   error
	calls atomic.Int32
}

func (f *fakeModerator) Moderate(_ context.Context, text string) (bool, error) {
	f.calls.Add(1)
	if f.err != nil {
		return false, f.err
	}
	if f.flag != nil {
		return f.flag(text), nil
	}
	return false, nil
}

type fakeCompleter struct {
	fn    func(ctx context.Context, req llm.Request) (string, error)
	calls atomic.Int32
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return validEmail, nil
}

type fakeCounter struct{ n int }

func (f fakeCounter) Count(text string) int {
	if f.n > 0 {
		return f.n
	}
	return len(strings.Fields(text))
}

type fakeArchiver struct {
	mu   sync.Mutex
	runs []string
}

func (f *fakeArchiver) Archive(_ context.Context, run *models.PromptRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run.ID)
	return nil
}

type harness struct {
	svc       *GenerationService
	ledger    *fakeLedger
	limiter   *limiter.Memory
	moderator *fakeModerator
	completer *fakeCompleter
	archiver  *fakeArchiver
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultTemplates() *fakeTemplates {
	return &fakeTemplates{templates: []models.PromptTemplate{
		{ID: 1, Key: "cold_email", Version: 1, Label: "V1", IsActive: true, Body: "Write to {{lead_name}} at {{lead_company}} in {{language}}: {{user_prompt}}"},
		{ID: 2, Key: "cold_email", Version: 2, Label: "V2", Body: "Second version for {{lead_name}}: {{user_prompt}}"},
	}}
}

func newHarness(t *testing.T, credits int, settings limiter.Settings) *harness {
	t.Helper()
	h := &harness{
		ledger:    newFakeLedger(map[string]int{"u1": credits}),
		limiter:   limiter.NewMemory(settings),
		moderator: &fakeModerator{},
		completer: &fakeCompleter{},
		archiver:  &fakeArchiver{},
	}
	cfg := config.Config{
		OpenAIModel:         "gpt-4o-mini",
		MaxTokensPerRequest: 1000,
		Temperature:         0.7,
		ProductPitch:        "We help teams write emails.",
	}
	h.svc = NewGenerationService(cfg, testLogger(), GenerationDeps{
		Limiter:   h.limiter,
		Users:     h.ledger,
		Templates: defaultTemplates(),
		Moderator: h.moderator,
		Completer: h.completer,
		Counter:   fakeCounter{},
		Metrics:   metrics.New(),
		Archiver:  h.archiver,
	})
	return h
}

func request() GenerateRequest {
	return GenerateRequest{
		Prompt:    "Mention our free trial",
		Lead:      LeadInput{Name: "Ana", Email: "ana@acme.io"},
		Language:  "English",
		Formality: "formal",
		UserID:    "u1",
	}
}

func TestGenerateSuccess(t *testing.T) {
	h := newHarness(t, 5, limiter.DefaultSettings())

	var sent llm.Request
	h.completer.fn = func(_ context.Context, req llm.Request) (string, error) {
		sent = req
		return "```json\n" + validEmail + "\n```", nil
	}

	res, err := h.svc.Generate(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, "Quick idea for Acme", res.Subject)
	assert.Equal(t, 4, res.CreditsLeft)
	assert.Equal(t, TemplateInfo{Key: "cold_email", Version: 1, Label: "V1"}, res.Template)
	assert.Equal(t, "Write to Ana at N/A in English: Mention our free trial", sent.Prompt)
	assert.Equal(t, "gpt-4o-mini", sent.Model)
	assert.Equal(t, 1000, sent.MaxTokens)
	assert.Equal(t, len(strings.Fields(sent.Prompt)), res.TokenCount)

	require.Equal(t, 1, h.ledger.runCount())
	run := h.ledger.runs[0]
	assert.Equal(t, "N/A", run.Variables["lead_company"])
	assert.Equal(t, "We help teams write emails.", run.Variables["product_pitch"])
	assert.Equal(t, sent.Prompt, run.FinalPrompt)
	assert.Nil(t, run.LeadID)
	assert.Equal(t, res.RunID, run.ID)
	h.svc.Wait()
	assert.Equal(t, []string{run.ID}, h.archiver.runs)
	assert.EqualValues(t, 2, h.moderator.calls.Load())
	assert.Equal(t, 0, h.limiter.Active("u1"))
}

func TestGenerateExplicitInactiveVersion(t *testing.T) {
	h := newHarness(t, 5, limiter.DefaultSettings())
	req := request()
	req.TemplateVersion = 2
	req.Lead.ID = "6f1c2a9e-3b4d-4e5f-8a7b-9c0d1e2f3a4b"

	res, err := h.svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Template.Version)
	require.NotNil(t, h.ledger.runs[0].LeadID)
	assert.Equal(t, "6f1c2a9e-3b4d-4e5f-8a7b-9c0d1e2f3a4b", *h.ledger.runs[0].LeadID)
}

func TestGenerateDebitsOnePerSuccess(t *testing.T) {
	h := newHarness(t, 3, limiter.Settings{Window: time.Minute, MaxRequests: 100, MaxConcurrent: 2})

	for i := 0; i < 3; i++ {
		_, err := h.svc.Generate(context.Background(), request())
		require.NoError(t, err)
	}
	assert.Equal(t, 0, h.ledger.credits("u1"))
	assert.Equal(t, 3, h.ledger.runCount())

	_, err := h.svc.Generate(context.Background(), request())
	assert.ErrorIs(t, err, ErrNoCredits)
	assert.Equal(t, 0, h.ledger.credits("u1"))
}

func TestGenerateRateLimit(t *testing.T) {
	h := newHarness(t, 10, limiter.DefaultSettings())

	for i := 0; i < 5; i++ {
		_, err := h.svc.Generate(context.Background(), request())
		require.NoError(t, err, "request %d", i+1)
	}
	_, err := h.svc.Generate(context.Background(), request())
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, CodeRateLimit, ErrorCode(err))
	assert.Equal(t, 5, h.ledger.credits("u1"))
	assert.EqualValues(t, 5, h.completer.calls.Load())
}

func TestGenerateConcurrencyCap(t *testing.T) {
	h := newHarness(t, 10, limiter.Settings{Window: time.Minute, MaxRequests: 100, MaxConcurrent: 2})

	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	h.completer.fn = func(context.Context, llm.Request) (string, error) {
		entered <- struct{}{}
		<-release
		return validEmail, nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Generate(context.Background(), request())
			errs <- err
		}()
	}
	<-entered
	<-entered

	_, err := h.svc.Generate(context.Background(), request())
	assert.ErrorIs(t, err, ErrConcurrencyLimited)
	assert.Equal(t, CodeConcurrencyLimit, ErrorCode(err))

	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	h.completer.fn = nil
	_, err = h.svc.Generate(context.Background(), request())
	assert.NoError(t, err)
	assert.Equal(t, 7, h.ledger.credits("u1"))
}

func TestGenerateModerationFlaggedInput(t *testing.T) {
	h := newHarness(t, 5, limiter.DefaultSettings())
	h.moderator.flag = func(text string) bool { return text == "Mention our free trial" }

	_, err := h.svc.Generate(context.Background(), request())
	assert.ErrorIs(t, err, ErrFlaggedInput)
	assert.Equal(t, CodeFlaggedInput, ErrorCode(err))
	assert.EqualValues(t, 1, h.moderator.calls.Load())
	assert.EqualValues(t, 0, h.completer.calls.Load())
	assert.Equal(t, 5, h.ledger.credits("u1"))
	assert.Equal(t, 0, h.ledger.runCount())
	assert.Equal(t, 0, h.limiter.Active("u1"))
}

func TestGenerateModerationFlaggedRendered(t *testing.T) {
	h := newHarness(t, 5, limiter.DefaultSettings())
	h.moderator.flag = func(text string) bool { return strings.Contains(text, "EvilCorp") }
	req := request()
	req.Lead.Company = "EvilCorp"

	_, err := h.svc.Generate(context.Background(), req)
	assert.ErrorIs(t, err, ErrFlaggedRendered)
	assert.EqualValues(t, 2, h.moderator.calls.Load())
	assert.EqualValues(t, 0, h.completer.calls.Load())
	assert.Equal(t, 5, h.ledger.credits("u1"))
}

func TestGenerateModerationUnavailable(t *testing.T) {
	h := newHarness(t, 5, limiter.DefaultSettings())
	h.moderator.err = errors.New("connection refused")

	_, err := h.svc.Generate(context.Background(), request())
	assert.ErrorIs(t, err, ErrModerationUnavailable)
	assert.Equal(t, CodeModerationUnavailable, ErrorCode(err))
	assert.EqualValues(t, 0, h.completer.calls.Load())
}

func TestGenerateTokenLimit(t *testing.T) {
	h := newHarness(t, 5, limiter.DefaultSettings())
	h.svc.counter = fakeCounter{n: 1500}

	_, err := h.svc.Generate(context.Background(), request())
	var tokenErr *TokenLimitError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, "Prompt exceeds token limit (1500/1000)", err.Error())
	assert.EqualValues(t, 0, h.completer.calls.Load())
	assert.Equal(t, 5, h.ledger.credits("u1"))
}

func TestGenerateTimeoutDoesNotDebit(t *testing.T) {
	h := newHarness(t, 5, limiter.DefaultSettings())
	h.completer.fn = func(context.Context, llm.Request) (string, error) {
		return "", llm.ErrTimeout
	}

	_, err := h.svc.Generate(context.Background(), request())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, CodeTimeout, ErrorCode(err))
	assert.Equal(t, 5, h.ledger.credits("u1"))
	assert.Equal(t, 0, h.ledger.runCount())
	assert.Equal(t, 0, h.limiter.Active("u1"))
}

func TestGenerateBadModelOutputDoesNotDebit(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		code string
	}{
		{"not json", "Dear Ana, here is your email.", CodeBadJSON},
		{"missing body", `{"subject":"Hello"}`, CodeBadSchema},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, 5, limiter.DefaultSettings())
			h.completer.fn = func(context.Context, llm.Request) (string, error) { return tc.raw, nil }

			_, err := h.svc.Generate(context.Background(), request())
			require.Error(t, err)
			assert.Equal(t, tc.code, ErrorCode(err))
			assert.Equal(t, 5, h.ledger.credits("u1"))
			assert.Equal(t, 0, h.ledger.runCount())
		})
	}

	var schemaErr *output.SchemaError
	h := newHarness(t, 5, limiter.DefaultSettings())
	h.completer.fn = func(context.Context, llm.Request) (string, error) { return `{"subject":"Hello"}`, nil }
	_, err := h.svc.Generate(context.Background(), request())
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{"body: is required"}, schemaErr.Violations)
}

func TestGeneratePrechecks(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		h := newHarness(t, 5, limiter.DefaultSettings())
		req := request()
		req.Prompt = ""
		req.Lead.Email = ""
		_, err := h.svc.Generate(context.Background(), req)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.ElementsMatch(t, []string{"prompt is required", "lead.email is required"}, verr.Violations)
	})

	t.Run("unknown user", func(t *testing.T) {
		h := newHarness(t, 5, limiter.DefaultSettings())
		req := request()
		req.UserID = "ghost"
		_, err := h.svc.Generate(context.Background(), req)
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.Equal(t, 0, h.limiter.Active("ghost"))
	})

	t.Run("no credits", func(t *testing.T) {
		h := newHarness(t, 0, limiter.DefaultSettings())
		_, err := h.svc.Generate(context.Background(), request())
		assert.ErrorIs(t, err, ErrNoCredits)
		assert.EqualValues(t, 0, h.moderator.calls.Load())
	})

	t.Run("unknown template", func(t *testing.T) {
		h := newHarness(t, 5, limiter.DefaultSettings())
		req := request()
		req.TemplateVersion = 9
		_, err := h.svc.Generate(context.Background(), req)
		assert.ErrorIs(t, err, ErrTemplateNotFound)
		assert.Contains(t, err.Error(), `"cold_email" v9`)
	})
}

func TestGenerateRejectsOversizedFields(t *testing.T) {
	h := newHarness(t, 5, limiter.DefaultSettings())
	req := request()
	req.Language = strings.Repeat("x", 65)
	req.Formality = strings.Repeat("y", 65)
	req.Lead.ID = strings.Repeat("1", 40)

	_, err := h.svc.Generate(context.Background(), req)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{
		"language must be at most 64 characters",
		"formality must be at most 64 characters",
		"lead.id must be a UUID",
	}, verr.Violations)
	assert.Equal(t, CodeInvalidRequest, ErrorCode(err))
	assert.EqualValues(t, 0, h.moderator.calls.Load())
	assert.EqualValues(t, 0, h.completer.calls.Load())
	assert.Equal(t, 5, h.ledger.credits("u1"))
}

type blockingArchiver struct {
	release chan struct{}
	done    chan string
}

func (b *blockingArchiver) Archive(ctx context.Context, run *models.PromptRun) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.done <- run.ID
	return nil
}

func TestGenerateDoesNotWaitForArchive(t *testing.T) {
	h := newHarness(t, 5, limiter.DefaultSettings())
	archiver := &blockingArchiver{release: make(chan struct{}), done: make(chan string, 1)}
	h.svc.archiver = archiver

	ctx, cancel := context.WithCancel(context.Background())
	res, err := h.svc.Generate(ctx, request())
	require.NoError(t, err)
	cancel()

	close(archiver.release)
	select {
	case id := <-archiver.done:
		assert.Equal(t, res.RunID, id)
	case <-time.After(time.Second):
		t.Fatal("archive did not complete after request context was canceled")
	}
	h.svc.Wait()
}

func TestGenerateLostDebitRace(t *testing.T) {
	h := newHarness(t, 1, limiter.DefaultSettings())
	h.completer.fn = func(context.Context, llm.Request) (string, error) {
		// balance spent elsewhere while the completion ran
		h.ledger.mu.Lock()
		h.ledger.users["u1"].Credits = 0
		h.ledger.mu.Unlock()
		return validEmail, nil
	}

	_, err := h.svc.Generate(context.Background(), request())
	assert.ErrorIs(t, err, ErrNoCredits)
	assert.Equal(t, 0, h.ledger.credits("u1"))
	assert.Equal(t, 0, h.ledger.runCount())
}
