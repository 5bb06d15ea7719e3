package sync

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/gmail-mirror/internal/notify"
)

// ClientFactory creates a MailboxClient for a mailbox owner
type ClientFactory func(ctx context.Context, userID string) (MailboxClient, error)

// Stores bundles the shared store handles every run writes through
type Stores struct {
	Messages MessageRepository
	Content  ContentStore
	Watches  WatchRegistry
	Blobs    BlobWriter
}

type run struct {
	cancel  context.CancelFunc
	pending bool
}

// Manager turns push notifications into background incremental syncs.
// At most one run per owner is active; notifications arriving during a run
// schedule exactly one follow-up run.
type Manager struct {
	stores          Stores
	providerFactory ClientFactory
	log             logrus.FieldLogger
	runners         map[string]*run
	runnersMutex    sync.Mutex
	wg              sync.WaitGroup

	// OnResult, when set, receives the result of every finished run
	OnResult func(userID string, res *Result, err error)
}

// NewManager creates sync manager
func NewManager(stores Stores, providerFactory ClientFactory, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		stores:          stores,
		providerFactory: providerFactory,
		log:             log,
		runners:         make(map[string]*run),
	}
}

// OnUpdate has the notify.UpdateFunc signature and starts an incremental
// sync for the notified owner
func (m *Manager) OnUpdate(ctx context.Context, ev notify.Event) error {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	if r, exists := m.runners[ev.UserID]; exists {
		r.pending = true
		m.log.WithField("user_id", ev.UserID).Debug("sync already running, queued follow-up")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel}
	m.runners[ev.UserID] = r

	m.wg.Add(1)
	go m.loop(runCtx, r, ev)
	return nil
}

func (m *Manager) loop(ctx context.Context, r *run, ev notify.Event) {
	defer m.wg.Done()
	log := m.log.WithField("user_id", ev.UserID)

	for {
		log.Info("sync start")
		res, err := m.syncOnce(ctx, ev)
		if err != nil {
			log.WithError(err).Error("sync error")
		}
		if m.OnResult != nil {
			m.OnResult(ev.UserID, res, err)
		}

		m.runnersMutex.Lock()
		if r.pending && ctx.Err() == nil {
			r.pending = false
			m.runnersMutex.Unlock()
			continue
		}
		if m.runners[ev.UserID] == r {
			delete(m.runners, ev.UserID)
		}
		m.runnersMutex.Unlock()
		r.cancel()
		log.Info("sync stop")
		return
	}
}

func (m *Manager) syncOnce(ctx context.Context, ev notify.Event) (*Result, error) {
	client, err := m.providerFactory(ctx, ev.UserID)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		Client:   client,
		Messages: m.stores.Messages,
		Content:  m.stores.Content,
		Watches:  m.stores.Watches,
		Blobs:    m.stores.Blobs,
		Log:      m.log,
	}
	// The notified history id is the mailbox state after the change, so the
	// cursor comes from the latest stored message instead.
	return o.Sync(ctx, ev.UserID, ev.Email, Options{Mode: ModeIncremental})
}

// IsRunning checks if sync is running for an owner
func (m *Manager) IsRunning(userID string) bool {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	_, exists := m.runners[userID]
	return exists
}

// GetRunningSyncs returns the owners with a sync in progress
func (m *Manager) GetRunningSyncs() []string {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	syncs := make([]string, 0, len(m.runners))
	for key := range m.runners {
		syncs = append(syncs, key)
	}
	sort.Strings(syncs)
	return syncs
}

// StopAll cancels all running syncs
func (m *Manager) StopAll() {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	for key, r := range m.runners {
		m.log.WithField("user_id", key).Info("stopping sync")
		r.pending = false
		r.cancel()
	}
}

// Wait blocks until every started run has finished
func (m *Manager) Wait() {
	m.wg.Wait()
}
