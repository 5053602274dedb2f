package coordinator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"warrn-service/models"

	"github.com/apex/log"
)

// ReportStore is the durable report storage contract. ClaimReport and
// ResolveReport are atomic compare-and-swap transitions: they apply the
// mutation only if the stored record is in the expected state and report
// whether the swap succeeded.
type ReportStore interface {
	CreateReport(ctx context.Context, r *models.Report) error
	GetReport(ctx context.Context, id int64) (*models.Report, error)
	ListReports(ctx context.Context, filter models.ReportFilter) ([]models.Report, error)
	ClaimReport(ctx context.Context, reportID, responderID int64) (bool, error)
	ResolveReport(ctx context.Context, reportID, responderID int64, notes, imageRef string) (bool, error)
}

// ResponderDirectory lists responder contacts for the new-report blast.
type ResponderDirectory interface {
	ListResponderEmails(ctx context.Context) ([]string, error)
}

// MediaStore stores uploaded images under stable references.
type MediaStore interface {
	Put(data []byte, ext string) (string, error)
	Get(ref string) ([]byte, error)
}

// SpeciesSuggester returns an optional species label for an image.
type SpeciesSuggester interface {
	SuggestSpecies(ctx context.Context, image []byte) (string, error)
}

// Notifier delivers lifecycle emails.
type Notifier interface {
	SendReportReceived(ctx context.Context, report *models.Report) error
	SendNewReportAlert(ctx context.Context, report *models.Report, recipients []string) error
	SendReportClaimed(ctx context.Context, report *models.Report, responderName string) error
	SendReportResolved(ctx context.Context, report *models.Report, responderName string, attachment []byte, attachmentName string) error
}

// Broadcaster pushes lifecycle events to live subscribers.
type Broadcaster interface {
	BroadcastEvent(event models.LifecycleEvent)
}

// Identity is the authenticated principal acting on a report.
type Identity struct {
	ID       int64
	Username string
	Role     string
}

// SubmitRequest carries a validated-on-entry report submission.
type SubmitRequest struct {
	Latitude      float64
	Longitude     float64
	AnimalType    string
	Condition     string
	Description   string
	ReporterEmail string
	Image         []byte
	ImageExt      string
}

// Coordinator owns all report state transitions. It is the only component
// that mutates report state; every side effect (media storage, species
// suggestion, broadcast, email) runs outside the state-changing step and
// can fail without corrupting it.
type Coordinator struct {
	store      ReportStore
	responders ResponderDirectory
	media      MediaStore
	suggester  SpeciesSuggester
	notifier   Notifier

	broadcasters []Broadcaster

	suggestionTimeout   time.Duration
	notificationTimeout time.Duration
}

// New creates a report lifecycle coordinator. suggester and notifier may
// be nil when the corresponding integration is not configured.
func New(store ReportStore, responders ResponderDirectory, media MediaStore,
	suggester SpeciesSuggester, notifier Notifier,
	suggestionTimeout, notificationTimeout time.Duration,
	broadcasters ...Broadcaster) *Coordinator {
	return &Coordinator{
		store:               store,
		responders:          responders,
		media:               media,
		suggester:           suggester,
		notifier:            notifier,
		broadcasters:        broadcasters,
		suggestionTimeout:   suggestionTimeout,
		notificationTimeout: notificationTimeout,
	}
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]*[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]*[a-zA-Z0-9])?)*\.[a-zA-Z]{2,}$`)

// Submit validates and persists a new report, then triggers the
// side-effect pipeline. Side-effect failures come back as warnings; only
// validation and persistence failures are errors.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*models.Report, []string, error) {
	if err := validateSubmit(req); err != nil {
		return nil, nil, err
	}

	var warnings []string

	report := &models.Report{
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		AnimalType:    strings.TrimSpace(req.AnimalType),
		Condition:     strings.TrimSpace(req.Condition),
		Description:   strings.TrimSpace(req.Description),
		ReporterEmail: strings.TrimSpace(req.ReporterEmail),
		Status:        models.StatusNew,
	}

	if len(req.Image) > 0 {
		ref, err := c.media.Put(req.Image, req.ImageExt)
		if err != nil {
			log.Warnf("Image storage failed for new report: %v", err)
			warnings = append(warnings, "image storage failed")
		} else {
			report.ImageRef = ref
		}

		if c.suggester != nil {
			suggestion, err := c.suggestSpecies(ctx, req.Image)
			if err != nil {
				log.Warnf("Species suggestion failed: %v", err)
				warnings = append(warnings, "species suggestion unavailable")
			} else {
				report.AISuggestion = suggestion
			}
		}
	}

	if err := c.store.CreateReport(ctx, report); err != nil {
		return nil, warnings, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	c.publish(models.EventReportCreated, report)
	c.notifyAsync(func(ctx context.Context) {
		if err := c.notifier.SendReportReceived(ctx, report); err != nil {
			log.Warnf("Reporter confirmation email failed for report %d: %v", report.ID, err)
		}
		recipients, err := c.responders.ListResponderEmails(ctx)
		if err != nil {
			log.Warnf("Failed to list responders for report %d: %v", report.ID, err)
			return
		}
		if len(recipients) == 0 {
			return
		}
		if err := c.notifier.SendNewReportAlert(ctx, report, recipients); err != nil {
			log.Warnf("Responder alert email failed for report %d: %v", report.ID, err)
		}
	})

	return report, warnings, nil
}

// Claim transitions a report from New to Acknowledged on behalf of the
// identity. At most one concurrent caller succeeds; the rest receive
// ErrAlreadyClaimed.
func (c *Coordinator) Claim(ctx context.Context, reportID int64, identity Identity) (*models.Report, error) {
	report, err := c.store.GetReport(ctx, reportID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	applied, err := c.store.ClaimReport(ctx, reportID, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	if !applied {
		return nil, models.ErrAlreadyClaimed
	}

	// The swap committed. Apply the same mutation to the copy we already
	// hold instead of re-reading, so a read failure here cannot misreport
	// a claim that went through.
	responderID := identity.ID
	report.Status = models.StatusAcknowledged
	report.ResponderID = &responderID

	c.publish(models.EventReportClaimed, report)
	c.notifyAsync(func(ctx context.Context) {
		if err := c.notifier.SendReportClaimed(ctx, report, identity.Username); err != nil {
			log.Warnf("Claim notification email failed for report %d: %v", report.ID, err)
		}
	})

	return report, nil
}

// Resolve transitions a report from Acknowledged to Resolved. Only the
// responder holding the claim may resolve; anyone else gets
// ErrNotClaimant. Resolution image storage is best-effort and never
// blocks the transition.
func (c *Coordinator) Resolve(ctx context.Context, reportID int64, identity Identity, notes string, image []byte, imageExt string) (*models.Report, []string, error) {
	report, err := c.store.GetReport(ctx, reportID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	var warnings []string

	imageRef := ""
	if len(image) > 0 {
		ref, err := c.media.Put(image, imageExt)
		if err != nil {
			log.Warnf("Resolution image storage failed for report %d: %v", reportID, err)
			warnings = append(warnings, "resolution image storage failed")
		} else {
			imageRef = ref
		}
	}

	applied, err := c.store.ResolveReport(ctx, reportID, identity.ID, notes, imageRef)
	if err != nil {
		return nil, warnings, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	if !applied {
		return nil, warnings, models.ErrNotClaimant
	}

	// The swap committed; mirror it on the held copy, same as Claim.
	report.Status = models.StatusResolved
	report.ResolutionNotes = notes
	report.ResolutionImageRef = imageRef

	c.publish(models.EventReportResolved, report)
	attachment := image
	attachmentName := report.ResolutionImageRef
	if attachmentName == "" && len(attachment) > 0 {
		ext := strings.ToLower(strings.TrimPrefix(imageExt, "."))
		if ext == "" {
			ext = "jpg"
		}
		attachmentName = "resolution." + ext
	}
	c.notifyAsync(func(ctx context.Context) {
		if err := c.notifier.SendReportResolved(ctx, report, identity.Username, attachment, attachmentName); err != nil {
			log.Warnf("Resolution notification email failed for report %d: %v", report.ID, err)
		}
	})

	return report, warnings, nil
}

// List returns reports matching the filter, newest first. Read-only.
func (c *Coordinator) List(ctx context.Context, filter models.ReportFilter) ([]models.Report, error) {
	if filter.Status != nil && !models.IsValidStatus(*filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, *filter.Status)
	}
	reports, err := c.store.ListReports(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return reports, nil
}

func (c *Coordinator) suggestSpecies(ctx context.Context, image []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.suggestionTimeout)
	defer cancel()
	return c.suggester.SuggestSpecies(ctx, image)
}

// publish fans the event out to every broadcaster. Broadcasters are
// non-blocking by contract.
func (c *Coordinator) publish(eventType string, report *models.Report) {
	event := models.LifecycleEvent{
		Type:      eventType,
		Report:    report.Projection(),
		Timestamp: time.Now(),
	}
	for _, b := range c.broadcasters {
		b.BroadcastEvent(event)
	}
}

// notifyAsync runs a notification task out of band from the request,
// detached from the caller's context but bounded by the notification
// timeout.
func (c *Coordinator) notifyAsync(task func(ctx context.Context)) {
	if c.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.notificationTimeout)
		defer cancel()
		task(ctx)
	}()
}

func validateSubmit(req SubmitRequest) error {
	if req.Latitude < -90 || req.Latitude > 90 {
		return fmt.Errorf("%w: latitude out of range", models.ErrInvalidInput)
	}
	if req.Longitude < -180 || req.Longitude > 180 {
		return fmt.Errorf("%w: longitude out of range", models.ErrInvalidInput)
	}
	if strings.TrimSpace(req.AnimalType) == "" {
		return fmt.Errorf("%w: animal_type is required", models.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Condition) == "" {
		return fmt.Errorf("%w: condition is required", models.ErrInvalidInput)
	}
	if !emailRegex.MatchString(strings.TrimSpace(req.ReporterEmail)) {
		return fmt.Errorf("%w: reporter_email is not a valid email address", models.ErrInvalidInput)
	}
	return nil
}
