package campaign

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/disparo-io/disparo/internal/db"
	"github.com/disparo-io/disparo/internal/events"
	"github.com/disparo-io/disparo/internal/jobs"
	"github.com/disparo-io/disparo/internal/transport"
)

const (
	// maxFanOutAttempts bounds retries of the fan-out and of each
	// preparation job.
	maxFanOutAttempts = 3
	retryBackoff      = time.Second

	// minDispatchDelay clamps non-positive dispatch delays, which occur
	// when a prepare job fires later than the pacing computation assumed.
	minDispatchDelay = time.Second
)

// CampaignStore loads and mutates campaigns and their related records.
type CampaignStore interface {
	Get(ctx context.Context, id int64) (*db.Campaign, error)
	FindDue(ctx context.Context, lookahead time.Duration) ([]db.DueCampaign, error)
	SetStatus(ctx context.Context, id int64, status string) error
	MarkFinished(ctx context.Context, id int64, completedAt time.Time) error
	GetWhatsapp(ctx context.Context, id int64) (*db.Whatsapp, error)
	GetFileList(ctx context.Context, id int64) (*db.FileList, error)
}

// ContactStore reads contact-list entries.
type ContactStore interface {
	Get(ctx context.Context, id int64) (*db.ContactListItem, error)
	ListValidForCampaign(ctx context.Context, campaignID int64, limit, offset int) ([]*db.ContactListItem, error)
	CountValidForCampaign(ctx context.Context, campaignID int64) (int, error)
}

// ShippingStore tracks per-contact delivery state.
type ShippingStore interface {
	Get(ctx context.Context, id int64) (*db.CampaignShipping, error)
	Find(ctx context.Context, campaignID, contactID int64) (*db.CampaignShipping, error)
	FindOrCreate(ctx context.Context, defaults *db.CampaignShipping) (*db.CampaignShipping, bool, error)
	UpdateContent(ctx context.Context, id int64, number, message string) error
	MarkScheduled(ctx context.Context, id int64, jobID string) error
	MarkDelivered(ctx context.Context, id int64, jobID string, at time.Time) (bool, error)
	CountDelivered(ctx context.Context, campaignID int64) (int, error)
}

// Enqueuer is the job-queue surface the pipeline produces into.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts jobs.Options) (string, error)

	// EnqueueUnique dedupes by job id: it reports false when a job with
	// that id is already pending.
	EnqueueUnique(ctx context.Context, id, name string, payload any, opts jobs.Options) (string, bool, error)
}

// Sender is one authenticated WhatsApp session.
type Sender interface {
	Connected() bool
	SendText(ctx context.Context, chatID, body string) error
	SendMedia(ctx context.Context, chatID string, opts transport.MediaOptions) error
}

// SessionResolver resolves a sending connection into a live session.
type SessionResolver interface {
	Session(ctx context.Context, conn *db.Whatsapp) (Sender, error)
}

// EventSink publishes tenant-scoped live-update events.
type EventSink interface {
	Publish(ctx context.Context, tenantID int64, name string, event events.Event)
}

// Config tunes the pipeline's scan and fan-out behavior.
type Config struct {
	// BatchSize is how many contacts each fan-out iteration loads.
	BatchSize int
	// BatchPause throttles the producer between batches.
	BatchPause time.Duration
	// Lookahead bounds how far ahead the promotion scan looks.
	Lookahead time.Duration
	// ScanInterval is the promotion scan period.
	ScanInterval time.Duration
	// PublicDir is the root of tenant-uploaded media on disk.
	PublicDir string
}

// Pipeline wires the campaign dispatch handlers to their stores, the job
// queue, the transport and the event publisher.
type Pipeline struct {
	campaigns CampaignStore
	contacts  ContactStore
	shippings ShippingStore
	settings  SettingsSource
	queue     Enqueuer
	sessions  SessionResolver
	events    EventSink
	logger    *zap.Logger
	cfg       Config

	// now and randInt are swappable for tests.
	now     func() time.Time
	randInt func(n int) int
}

// NewPipeline creates a Pipeline with real clock and randomness.
func NewPipeline(
	campaigns CampaignStore,
	contacts ContactStore,
	shippings ShippingStore,
	settings SettingsSource,
	queue Enqueuer,
	sessions SessionResolver,
	sink EventSink,
	logger *zap.Logger,
	cfg Config,
) *Pipeline {
	return &Pipeline{
		campaigns: campaigns,
		contacts:  contacts,
		shippings: shippings,
		settings:  settings,
		queue:     queue,
		sessions:  sessions,
		events:    sink,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		randInt:   rand.Intn,
	}
}

// Register binds the pipeline's handlers to the queue. Each job name gets a
// single worker, so fan-out, preparation and dispatch each serialize with
// themselves but run independently of each other.
func (p *Pipeline) Register(q *jobs.Queue) {
	q.Handle(JobVerifyCampaigns, p.HandleVerifyCampaigns)
	q.Handle(JobProcessCampaign, p.HandleProcessCampaign)
	q.Handle(JobPrepareContact, p.HandlePrepareContact)
	q.Handle(JobDispatchCampaign, p.HandleDispatchCampaign)
}
