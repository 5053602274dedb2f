package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"warrn-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory report store whose claim/resolve operations
// are atomic compare-and-swaps under a mutex.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	reports map[int64]*models.Report
	failAll bool

	// When set, reads fail once a claim or resolve swap has applied,
	// simulating a store that stops answering right after the commit.
	failReadsAfterSwap bool
	swapped            bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{reports: make(map[int64]*models.Report)}
}

func (s *fakeStore) CreateReport(ctx context.Context, r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("store down")
	}
	s.nextID++
	r.ID = s.nextID
	r.Status = models.StatusNew
	r.CreatedAt = time.Now()
	stored := *r
	s.reports[r.ID] = &stored
	return nil
}

func (s *fakeStore) GetReport(ctx context.Context, id int64) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errors.New("store down")
	}
	if s.failReadsAfterSwap && s.swapped {
		return nil, errors.New("store unavailable")
	}
	r, ok := s.reports[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (s *fakeStore) ListReports(ctx context.Context, filter models.ReportFilter) ([]models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Report
	for _, r := range s.reports {
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *fakeStore) ClaimReport(ctx context.Context, reportID, responderID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportID]
	if !ok || r.Status != models.StatusNew {
		return false, nil
	}
	r.Status = models.StatusAcknowledged
	r.ResponderID = &responderID
	s.swapped = true
	return true, nil
}

func (s *fakeStore) ResolveReport(ctx context.Context, reportID, responderID int64, notes, imageRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportID]
	if !ok || r.Status != models.StatusAcknowledged || r.ResponderID == nil || *r.ResponderID != responderID {
		return false, nil
	}
	r.Status = models.StatusResolved
	r.ResolutionNotes = notes
	r.ResolutionImageRef = imageRef
	s.swapped = true
	return true, nil
}

type fakeDirectory struct{ emails []string }

func (d *fakeDirectory) ListResponderEmails(ctx context.Context) ([]string, error) {
	return d.emails, nil
}

type fakeMedia struct {
	mu    sync.Mutex
	files map[string][]byte
	fail  bool
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{files: make(map[string][]byte)}
}

func (m *fakeMedia) Put(data []byte, ext string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", errors.New("disk full")
	}
	ref := fmt.Sprintf("file%d.%s", len(m.files)+1, ext)
	m.files[ref] = data
	return ref, nil
}

func (m *fakeMedia) Get(ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[ref]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

type fakeSuggester struct {
	label string
	err   error
}

func (s *fakeSuggester) SuggestSpecies(ctx context.Context, image []byte) (string, error) {
	return s.label, s.err
}

// fakeNotifier records sends on a channel so tests can wait for the
// asynchronous dispatch.
type fakeNotifier struct {
	sent chan string
	err  error

	mu             sync.Mutex
	attachmentName string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(chan string, 16)}
}

func (n *fakeNotifier) SendReportReceived(ctx context.Context, report *models.Report) error {
	n.sent <- "received"
	return n.err
}

func (n *fakeNotifier) SendNewReportAlert(ctx context.Context, report *models.Report, recipients []string) error {
	n.sent <- "alert"
	return n.err
}

func (n *fakeNotifier) SendReportClaimed(ctx context.Context, report *models.Report, responderName string) error {
	n.sent <- "claimed"
	return n.err
}

func (n *fakeNotifier) SendReportResolved(ctx context.Context, report *models.Report, responderName string, attachment []byte, attachmentName string) error {
	n.mu.Lock()
	n.attachmentName = attachmentName
	n.mu.Unlock()
	n.sent <- "resolved"
	return n.err
}

func (n *fakeNotifier) AttachmentName() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attachmentName
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []models.LifecycleEvent
}

func (b *fakeBroadcaster) BroadcastEvent(event models.LifecycleEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *fakeBroadcaster) Events() []models.LifecycleEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.LifecycleEvent(nil), b.events...)
}

func validSubmit() SubmitRequest {
	return SubmitRequest{
		Latitude:      1.0,
		Longitude:     2.0,
		AnimalType:    "Dog",
		Condition:     "Injured",
		ReporterEmail: "a@x.com",
	}
}

func newTestCoordinator(store *fakeStore, media *fakeMedia, suggester SpeciesSuggester, notifier Notifier, broadcaster *fakeBroadcaster) *Coordinator {
	return New(store, &fakeDirectory{emails: []string{"r1@x.com"}}, media,
		suggester, notifier, time.Second, time.Second, broadcaster)
}

func waitForSend(t *testing.T, n *fakeNotifier, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-n.sent:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q notification", want)
		}
	}
}

func TestSubmitPersistsReport(t *testing.T) {
	store := newFakeStore()
	broadcaster := &fakeBroadcaster{}
	notifier := newFakeNotifier()
	c := newTestCoordinator(store, newFakeMedia(), nil, notifier, broadcaster)

	report, warnings, err := c.Submit(context.Background(), validSubmit())
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, int64(1), report.ID)
	assert.Equal(t, models.StatusNew, report.Status)
	assert.Nil(t, report.ResponderID)

	events := broadcaster.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventReportCreated, events[0].Type)
	assert.Equal(t, report.ID, events[0].Report.ID)

	waitForSend(t, notifier, "received")
	waitForSend(t, notifier, "alert")
}

func TestSubmitValidation(t *testing.T) {
	c := newTestCoordinator(newFakeStore(), newFakeMedia(), nil, nil, &fakeBroadcaster{})

	testCases := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"latitude out of range", func(r *SubmitRequest) { r.Latitude = 91 }},
		{"longitude out of range", func(r *SubmitRequest) { r.Longitude = -181 }},
		{"missing animal type", func(r *SubmitRequest) { r.AnimalType = "  " }},
		{"missing condition", func(r *SubmitRequest) { r.Condition = "" }},
		{"bad reporter email", func(r *SubmitRequest) { r.ReporterEmail = "not-an-email" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := validSubmit()
			tc.mutate(&req)
			_, _, err := c.Submit(context.Background(), req)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
}

func TestSubmitSuggestionFailureStillPersists(t *testing.T) {
	store := newFakeStore()
	suggester := &fakeSuggester{err: errors.New("vision timeout")}
	c := newTestCoordinator(store, newFakeMedia(), suggester, nil, &fakeBroadcaster{})

	req := validSubmit()
	req.Image = []byte("fake-image")
	req.ImageExt = "jpg"

	report, warnings, err := c.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, report.Status)
	assert.Empty(t, report.AISuggestion)
	assert.Contains(t, warnings, "species suggestion unavailable")
	assert.NotEmpty(t, report.ImageRef)
}

func TestSubmitImageStorageFailureStillPersists(t *testing.T) {
	store := newFakeStore()
	media := newFakeMedia()
	media.fail = true
	c := newTestCoordinator(store, media, &fakeSuggester{label: "Dog"}, nil, &fakeBroadcaster{})

	req := validSubmit()
	req.Image = []byte("fake-image")
	req.ImageExt = "jpg"

	report, warnings, err := c.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, report.ImageRef)
	assert.Contains(t, warnings, "image storage failed")
	// Suggestion works off the raw bytes, independent of storage
	assert.Equal(t, "Dog", report.AISuggestion)
}

func TestSubmitPersistenceFailure(t *testing.T) {
	store := newFakeStore()
	store.failAll = true
	c := newTestCoordinator(store, newFakeMedia(), nil, nil, &fakeBroadcaster{})

	_, _, err := c.Submit(context.Background(), validSubmit())
	assert.ErrorIs(t, err, models.ErrPersistence)
}

func TestClaimRaceHasExactlyOneWinner(t *testing.T) {
	store := newFakeStore()
	broadcaster := &fakeBroadcaster{}
	c := newTestCoordinator(store, newFakeMedia(), nil, nil, broadcaster)

	report, _, err := c.Submit(context.Background(), validSubmit())
	require.NoError(t, err)

	const claimants = 8
	var wg sync.WaitGroup
	results := make([]error, claimants)
	winners := make([]*models.Report, claimants)

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity := Identity{ID: int64(i + 1), Username: fmt.Sprintf("responder%d", i+1), Role: models.RoleResponder}
			winners[i], results[i] = c.Claim(context.Background(), report.ID, identity)
		}(i)
	}
	wg.Wait()

	successes := 0
	var winnerID int64
	for i, err := range results {
		if err == nil {
			successes++
			require.NotNil(t, winners[i])
			assert.Equal(t, models.StatusAcknowledged, winners[i].Status)
			require.NotNil(t, winners[i].ResponderID)
			winnerID = *winners[i].ResponderID
		} else {
			assert.ErrorIs(t, err, models.ErrAlreadyClaimed)
		}
	}
	assert.Equal(t, 1, successes, "exactly one claimant must win")

	stored, err := store.GetReport(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, stored.Status)
	require.NotNil(t, stored.ResponderID)
	assert.Equal(t, winnerID, *stored.ResponderID)
}

func TestClaimMissingReport(t *testing.T) {
	c := newTestCoordinator(newFakeStore(), newFakeMedia(), nil, nil, &fakeBroadcaster{})

	_, err := c.Claim(context.Background(), 99, Identity{ID: 1})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestResolveByNonClaimantRejected(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store, newFakeMedia(), nil, nil, &fakeBroadcaster{})

	report, _, err := c.Submit(context.Background(), validSubmit())
	require.NoError(t, err)

	claimant := Identity{ID: 1, Username: "u1"}
	_, err = c.Claim(context.Background(), report.ID, claimant)
	require.NoError(t, err)

	intruder := Identity{ID: 3, Username: "u3"}
	_, _, err = c.Resolve(context.Background(), report.ID, intruder, "not mine", nil, "")
	assert.ErrorIs(t, err, models.ErrNotClaimant)

	// No observable state change
	stored, err := store.GetReport(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, stored.Status)
	assert.Empty(t, stored.ResolutionNotes)
}

func TestResolveTwiceFails(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store, newFakeMedia(), nil, nil, &fakeBroadcaster{})

	report, _, err := c.Submit(context.Background(), validSubmit())
	require.NoError(t, err)

	claimant := Identity{ID: 1, Username: "u1"}
	_, err = c.Claim(context.Background(), report.ID, claimant)
	require.NoError(t, err)

	_, _, err = c.Resolve(context.Background(), report.ID, claimant, "done", nil, "")
	require.NoError(t, err)

	// Resolved is terminal, even for the rightful claimant
	_, _, err = c.Resolve(context.Background(), report.ID, claimant, "again", nil, "")
	assert.ErrorIs(t, err, models.ErrNotClaimant)
}

func TestResolutionImageFailureDoesNotBlockResolve(t *testing.T) {
	store := newFakeStore()
	media := newFakeMedia()
	c := newTestCoordinator(store, media, nil, nil, &fakeBroadcaster{})

	report, _, err := c.Submit(context.Background(), validSubmit())
	require.NoError(t, err)
	claimant := Identity{ID: 1, Username: "u1"}
	_, err = c.Claim(context.Background(), report.ID, claimant)
	require.NoError(t, err)

	media.fail = true
	resolved, warnings, err := c.Resolve(context.Background(), report.ID, claimant, "treated", []byte("img"), "jpg")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)
	assert.Empty(t, resolved.ResolutionImageRef)
	assert.Contains(t, warnings, "resolution image storage failed")
}

func TestFullLifecycle(t *testing.T) {
	store := newFakeStore()
	broadcaster := &fakeBroadcaster{}
	notifier := newFakeNotifier()
	c := newTestCoordinator(store, newFakeMedia(), nil, notifier, broadcaster)

	// Submit report A
	report, _, err := c.Submit(context.Background(), validSubmit())
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.ID)
	assert.Equal(t, models.StatusNew, report.Status)
	assert.Nil(t, report.ResponderID)

	// Two identities race for the claim
	u1 := Identity{ID: 1, Username: "u1"}
	u2 := Identity{ID: 2, Username: "u2"}
	var wg sync.WaitGroup
	var r1, r2 *models.Report
	var e1, e2 error
	wg.Add(2)
	go func() { defer wg.Done(); r1, e1 = c.Claim(context.Background(), report.ID, u1) }()
	go func() { defer wg.Done(); r2, e2 = c.Claim(context.Background(), report.ID, u2) }()
	wg.Wait()

	var winner Identity
	switch {
	case e1 == nil && errors.Is(e2, models.ErrAlreadyClaimed):
		winner = u1
		assert.Equal(t, models.StatusAcknowledged, r1.Status)
	case e2 == nil && errors.Is(e1, models.ErrAlreadyClaimed):
		winner = u2
		assert.Equal(t, models.StatusAcknowledged, r2.Status)
	default:
		t.Fatalf("expected exactly one winner, got e1=%v e2=%v", e1, e2)
	}

	// The winner resolves
	resolved, _, err := c.Resolve(context.Background(), report.ID, winner, "treated and released", nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)
	assert.Equal(t, "treated and released", resolved.ResolutionNotes)

	// A third identity cannot resolve
	u3 := Identity{ID: 3, Username: "u3"}
	_, _, err = c.Resolve(context.Background(), report.ID, u3, "...", nil, "")
	assert.ErrorIs(t, err, models.ErrNotClaimant)

	// Event sequence for the report is monotonic
	var types []string
	for _, ev := range broadcaster.Events() {
		if ev.Report.ID == report.ID {
			types = append(types, ev.Type)
		}
	}
	assert.Equal(t, []string{
		models.EventReportCreated,
		models.EventReportClaimed,
		models.EventReportResolved,
	}, types)
}

func TestClaimSucceedsWhenReadsFailAfterSwap(t *testing.T) {
	store := newFakeStore()
	store.failReadsAfterSwap = true
	broadcaster := &fakeBroadcaster{}
	c := newTestCoordinator(store, newFakeMedia(), nil, nil, broadcaster)

	report, _, err := c.Submit(context.Background(), validSubmit())
	require.NoError(t, err)

	claimed, err := c.Claim(context.Background(), report.ID, Identity{ID: 7, Username: "u7"})
	require.NoError(t, err, "a committed claim must not surface a read error")
	assert.Equal(t, models.StatusAcknowledged, claimed.Status)
	require.NotNil(t, claimed.ResponderID)
	assert.Equal(t, int64(7), *claimed.ResponderID)
	assert.Equal(t, report.AnimalType, claimed.AnimalType)

	events := broadcaster.Events()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventReportClaimed, events[1].Type)
}

func TestResolveSucceedsWhenReadsFailAfterSwap(t *testing.T) {
	store := newFakeStore()
	broadcaster := &fakeBroadcaster{}
	c := newTestCoordinator(store, newFakeMedia(), nil, nil, broadcaster)

	report, _, err := c.Submit(context.Background(), validSubmit())
	require.NoError(t, err)
	claimant := Identity{ID: 1, Username: "u1"}
	_, err = c.Claim(context.Background(), report.ID, claimant)
	require.NoError(t, err)

	// Arm the failure for the resolve swap only; the claim above already
	// swapped once.
	store.mu.Lock()
	store.failReadsAfterSwap = true
	store.swapped = false
	store.mu.Unlock()
	resolved, _, err := c.Resolve(context.Background(), report.ID, claimant, "released", nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)
	assert.Equal(t, "released", resolved.ResolutionNotes)

	events := broadcaster.Events()
	require.Len(t, events, 3)
	assert.Equal(t, models.EventReportResolved, events[2].Type)
}

func TestResolveAttachmentNameFollowsUploadExtension(t *testing.T) {
	store := newFakeStore()
	media := newFakeMedia()
	notifier := newFakeNotifier()
	c := newTestCoordinator(store, media, nil, notifier, &fakeBroadcaster{})

	report, _, err := c.Submit(context.Background(), validSubmit())
	require.NoError(t, err)
	claimant := Identity{ID: 1, Username: "u1"}
	_, err = c.Claim(context.Background(), report.ID, claimant)
	require.NoError(t, err)
	waitForSend(t, notifier, "claimed")

	// Storage failure forces the fallback name, which must still carry
	// the uploaded extension.
	media.fail = true
	_, _, err = c.Resolve(context.Background(), report.ID, claimant, "treated", []byte("img"), "png")
	require.NoError(t, err)

	waitForSend(t, notifier, "resolved")
	assert.Equal(t, "resolution.png", notifier.AttachmentName())
}

func TestListRejectsUnknownStatus(t *testing.T) {
	c := newTestCoordinator(newFakeStore(), newFakeMedia(), nil, nil, &fakeBroadcaster{})
	bogus := models.ReportStatus("Pending")
	_, err := c.List(context.Background(), models.ReportFilter{Status: &bogus})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
