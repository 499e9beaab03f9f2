// Package controller implements the client-side save/load state machine: it
// decides whether an in-memory document needs a create, an update, or no
// write at all, debounces rapid edits, reconciles change notifications from
// other collaborators, and falls back to a client-local store when the
// remote one is unreachable.
//
// Conflict resolution is deliberately last-writer-wins at whole-document
// granularity; two concurrent editors can overwrite each other and the
// gateway only tells the loser that a reload is worth offering.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/drawbridge-dev/drawbridge/internal/common"
	"github.com/drawbridge-dev/drawbridge/internal/logging"
	"github.com/drawbridge-dev/drawbridge/internal/storage"
)

// State is the controller's save/load state.
type State int

const (
	StateIdle State = iota
	StateDirty
	StateSaving
	StateSaved
	StateError
	StateFailedToLoad
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDirty:
		return "dirty"
	case StateSaving:
		return "saving"
	case StateSaved:
		return "saved"
	case StateError:
		return "error"
	case StateFailedToLoad:
		return "failed_to_load"
	}
	return "unknown"
}

// DocumentAPI is the remote store surface the controller drives. Satisfied
// by *api.Client.
type DocumentAPI interface {
	Create(ctx context.Context, id, title, engineTag, content string) (*storage.Document, error)
	Get(ctx context.Context, id string) (*storage.Document, error)
	Update(ctx context.Context, id, title, engineTag, content string) (*storage.Document, error)
	ListRecent(ctx context.Context, limit int) ([]storage.DocumentSummary, error)
	Health(ctx context.Context) error
}

// Broadcaster is the slice of the sync client the controller needs.
// Satisfied by *sync.Client.
type Broadcaster interface {
	ConnID() string
	Join(documentID string) error
	SendChange(documentID string, payload json.RawMessage) error
}

// Settings tune the controller's behavior.
type Settings struct {
	// AutoReload applies a collaborator's change automatically instead of
	// prompting.
	AutoReload bool
	// Debounce is the quiet period before an edit burst is saved.
	Debounce time.Duration
	// SaveTimeout bounds a single write so an unreachable store cannot hang
	// a save indefinitely.
	SaveTimeout time.Duration

	healthBackoff time.Duration
	healthRetries uint64
}

// LoadHints are the identity sources resolved in priority order on startup.
type LoadHints struct {
	// ShareID is an explicit shared-link identifier.
	ShareID string
	// LegacyShareID is an identifier from the older external-share scheme.
	LegacyShareID string
	// DocumentID is an explicit "open this document" request.
	DocumentID string
	// TemplateID seeds the editor from a template; the first save creates a
	// fresh document rather than updating the template.
	TemplateID string
}

// Options wires a controller together.
type Options struct {
	API      DocumentAPI
	Local    storage.DocumentStore
	Gateway  Broadcaster
	Logger   logging.Logger
	Settings Settings

	// OnRemoteChange is invoked, outside any lock, when another client
	// changed the open document and AutoReload is off. The presentation
	// layer prompts the user to reload.
	OnRemoteChange func(documentID string)
}

// Controller is client-local; one instance per open editor.
type Controller struct {
	api      DocumentAPI
	local    storage.DocumentStore
	gw       Broadcaster
	logger   logging.Logger
	settings Settings
	prompt   func(string)
	debounce *Debouncer

	mu           sync.Mutex
	state        State
	identity     Identity
	lastSavedSig string
	title        string
	engineTag    string
	content      string
	loading      bool
	saving       bool
	pending      bool
	localOnly    bool
}

// New creates a controller. API is required; Local and Gateway are optional
// (no fallback / no collaboration respectively).
func New(opts Options) (*Controller, error) {
	if opts.API == nil {
		return nil, errors.New("controller: API is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoopLogger()
	}
	if opts.Settings.Debounce == 0 {
		opts.Settings.Debounce = time.Second
	}
	if opts.Settings.SaveTimeout == 0 {
		opts.Settings.SaveTimeout = 10 * time.Second
	}
	if opts.Settings.healthBackoff == 0 {
		opts.Settings.healthBackoff = 500 * time.Millisecond
	}
	if opts.Settings.healthRetries == 0 {
		opts.Settings.healthRetries = 2
	}

	c := &Controller{
		api:      opts.API,
		local:    opts.Local,
		gw:       opts.Gateway,
		logger:   opts.Logger,
		settings: opts.Settings,
		prompt:   opts.OnRemoteChange,
		state:    StateIdle,
		identity: NoneIdentity(),
	}
	c.debounce = NewDebouncer(opts.Settings.Debounce, func() {
		if err := c.Save(context.Background()); err != nil {
			c.logger.Warn(context.Background(), "autosave failed", "err", err)
		}
	})
	return c, nil
}

// AttachGateway installs the sync connection after construction. The dial
// handler needs the controller, so the two cannot be built in one step.
func (c *Controller) AttachGateway(gw Broadcaster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gw = gw
}

func (c *Controller) gateway() Broadcaster {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gw
}

// NewDocument resets the controller to an unpersisted document.
func (c *Controller) NewDocument(title, engineTag, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = NewIdentity()
	c.title, c.engineTag, c.content = title, engineTag, content
	c.lastSavedSig = ""
	c.state = StateIdle
}

// SetContent records an edit. Edits made while a load/reload is in progress
// are the load itself echoing through the editor and are ignored; edits
// whose signature matches the last successful save schedule nothing.
func (c *Controller) SetContent(title, engineTag, content string) {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return
	}

	c.title, c.engineTag, c.content = title, engineTag, content

	sig := Signature(title, engineTag, content)
	if sig == c.lastSavedSig {
		c.mu.Unlock()
		return
	}

	switch c.state {
	case StateIdle, StateSaved, StateError:
		c.state = StateDirty
	}
	c.mu.Unlock()

	c.debounce.Trigger()
}

// Save performs the DIRTY→SAVING→SAVED/ERROR transition. A save already in
// flight is never interrupted; the new request is deferred until the current
// one completes. Identity transitions from new to existing exactly once,
// atomically with the first successful create.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	if c.saving {
		c.pending = true
		c.mu.Unlock()
		return nil
	}
	if c.state != StateDirty || c.identity.Kind == IdentityNone {
		c.mu.Unlock()
		return nil
	}
	c.state = StateSaving
	c.saving = true
	snap := struct {
		identity  Identity
		title     string
		engineTag string
		content   string
		sig       string
		localOnly bool
	}{c.identity, c.title, c.engineTag, c.content, Signature(c.title, c.engineTag, c.content), c.localOnly}
	c.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(ctx, c.settings.SaveTimeout)
	doc, err := c.write(saveCtx, snap.identity, snap.title, snap.engineTag, snap.content, snap.localOnly)
	cancel()

	var broadcastID string
	c.mu.Lock()
	c.saving = false
	switch {
	case err == nil:
		c.state = StateSaved
		c.lastSavedSig = snap.sig
		if c.identity == snap.identity && doc != nil {
			c.identity = ExistingIdentity(doc.ID)
		}
		if !snap.localOnly {
			broadcastID = c.identity.ID
		}
	case errors.Is(err, common.ErrUnreachable):
		// Stop hammering the unreachable store; subsequent saves in this
		// session go to the local fallback.
		c.state = StateError
		c.localOnly = true
	default:
		c.state = StateError
	}

	// An edit arrived while the save was in flight: pick it up now. A save
	// deferred behind a failed one must still flush, through the local
	// fallback if the store just became unreachable.
	switch {
	case c.state == StateSaved && Signature(c.title, c.engineTag, c.content) != c.lastSavedSig:
		c.state = StateDirty
	case c.state == StateError && c.pending:
		c.state = StateDirty
	}
	rerun := c.pending
	c.pending = false
	c.mu.Unlock()

	if gw := c.gateway(); broadcastID != "" && gw != nil {
		payload, _ := json.Marshal(map[string]string{"id": broadcastID, "title": snap.title})
		if sendErr := gw.SendChange(broadcastID, payload); sendErr != nil {
			c.logger.Warn(ctx, "change broadcast failed", "err", sendErr)
		}
	}

	if rerun {
		return c.Save(ctx)
	}
	return err
}

// write routes one save to the remote API or the local fallback store. An
// update that reports the id unknown is transparently retried exactly once
// as a create.
func (c *Controller) write(ctx context.Context, id Identity, title, engineTag, content string, localOnly bool) (*storage.Document, error) {
	if localOnly {
		if c.local == nil {
			return nil, fmt.Errorf("no local fallback: %w", common.ErrUnreachable)
		}
		return c.writeLocal(ctx, id, title, engineTag, content)
	}

	switch id.Kind {
	case IdentityExisting:
		doc, err := c.api.Update(ctx, id.ID, title, engineTag, content)
		if errors.Is(err, common.ErrNotFound) {
			c.logger.Warn(ctx, "document missing on update, creating instead", "id", id.ID)
			return c.api.Create(ctx, id.ID, title, engineTag, content)
		}
		return doc, err
	default: // IdentityNew, IdentityTemplate: first persistence of this document
		return c.api.Create(ctx, "", title, engineTag, content)
	}
}

func (c *Controller) writeLocal(ctx context.Context, id Identity, title, engineTag, content string) (*storage.Document, error) {
	switch id.Kind {
	case IdentityExisting:
		doc, err := c.local.Update(ctx, id.ID, title, engineTag, content)
		if errors.Is(err, common.ErrNotFound) {
			return c.local.Create(ctx, id.ID, title, engineTag, content)
		}
		return doc, err
	default:
		return c.local.Create(ctx, "", title, engineTag, content)
	}
}

// Load resolves the document identity from hints in priority order:
// share link, legacy share link, explicit document id, template, then the
// most recently modified document in the store. Each failing source falls
// through to the next; when the remote store is unreachable the same
// sequence runs against the local fallback. When nothing resolves the
// controller enters the no-document-selected state and returns (nil, nil)
// so the presentation layer can offer a fresh start.
func (c *Controller) Load(ctx context.Context, hints LoadHints) (*storage.Document, error) {
	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	var sources []loadSource
	if hints.ShareID != "" {
		sources = append(sources, loadSource{id: hints.ShareID})
	}
	if hints.LegacyShareID != "" {
		sources = append(sources, loadSource{id: hints.LegacyShareID})
	}
	if hints.DocumentID != "" {
		sources = append(sources, loadSource{id: hints.DocumentID})
	}
	if hints.TemplateID != "" {
		sources = append(sources, loadSource{id: hints.TemplateID, template: true})
	}

	doc, template, err := c.resolve(ctx, c.api, sources)
	if errors.Is(err, common.ErrUnreachable) && c.local != nil {
		c.logger.Warn(ctx, "remote store unreachable, loading from local fallback")
		c.mu.Lock()
		c.localOnly = true
		c.mu.Unlock()
		doc, template, _ = c.resolveLocal(ctx, sources)
	}

	if doc == nil {
		c.mu.Lock()
		c.identity = NoneIdentity()
		c.state = StateFailedToLoad
		c.mu.Unlock()
		return nil, nil
	}

	c.adopt(doc, template)

	if gw := c.gateway(); !template && gw != nil {
		if err := gw.Join(doc.ID); err != nil {
			c.logger.Warn(ctx, "failed to join document room", "id", doc.ID, "err", err)
		}
	}
	return doc, nil
}

type loadSource struct {
	id       string
	template bool
}

func (c *Controller) resolve(ctx context.Context, api DocumentAPI, sources []loadSource) (*storage.Document, bool, error) {
	var lastErr error
	for _, s := range sources {
		doc, err := api.Get(ctx, s.id)
		if err == nil {
			return doc, s.template, nil
		}
		lastErr = err
		if errors.Is(err, common.ErrUnreachable) {
			return nil, false, err
		}
	}

	// Default source: most recently modified document.
	summaries, err := api.ListRecent(ctx, 1)
	if err != nil {
		return nil, false, err
	}
	if len(summaries) == 0 {
		return nil, false, lastErr
	}
	doc, err := api.Get(ctx, summaries[0].ID)
	if err != nil {
		return nil, false, err
	}
	return doc, false, nil
}

func (c *Controller) resolveLocal(ctx context.Context, sources []loadSource) (*storage.Document, bool, error) {
	for _, s := range sources {
		if doc, err := c.local.Get(ctx, s.id); err == nil {
			return doc, s.template, nil
		}
	}
	summaries, err := c.local.ListRecent(ctx, 1)
	if err != nil || len(summaries) == 0 {
		return nil, false, err
	}
	doc, err := c.local.Get(ctx, summaries[0].ID)
	if err != nil {
		return nil, false, err
	}
	return doc, false, nil
}

// adopt installs a loaded document without tripping change detection.
func (c *Controller) adopt(doc *storage.Document, template bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.title, c.engineTag, c.content = doc.Title, doc.EngineTag, doc.Content
	if template {
		c.identity = TemplateIdentity(doc.ID)
		// A template is a seed, not a saved document: the first edit must
		// produce a create.
		c.lastSavedSig = ""
	} else {
		c.identity = ExistingIdentity(doc.ID)
		c.lastSavedSig = Signature(doc.Title, doc.EngineTag, doc.Content)
	}
	c.state = StateIdle
}

// HandleRemoteChange reconciles a push notification. Echoes of this
// client's own writes are discarded; events for other documents are
// ignored. Depending on settings the document is either reloaded in place
// or the prompt callback is invoked.
func (c *Controller) HandleRemoteChange(ctx context.Context, documentID, updatedBy string) {
	if gw := c.gateway(); gw != nil && updatedBy == gw.ConnID() {
		return
	}

	c.mu.Lock()
	relevant := c.identity.Kind == IdentityExisting && c.identity.ID == documentID
	c.mu.Unlock()
	if !relevant {
		return
	}

	if c.settings.AutoReload {
		if err := c.Reload(ctx); err != nil {
			c.logger.Warn(ctx, "auto reload failed", "id", documentID, "err", err)
		}
		return
	}
	if c.prompt != nil {
		c.prompt(documentID)
	}
}

// Reload re-fetches the open document and replaces local state. Change
// detection is suppressed for the duration, so the incoming remote content
// is not mistaken for a local edit and re-broadcast.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	if c.identity.Kind != IdentityExisting {
		c.mu.Unlock()
		return nil
	}
	id := c.identity.ID
	c.loading = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	doc, err := c.api.Get(ctx, id)
	if err != nil {
		return err
	}
	c.adopt(doc, false)
	return nil
}

// CheckRemote probes the server's health endpoint with a small fixed number
// of attempts and constant backoff. On failure the controller switches to
// local-only mode; on success it resumes remote saves.
func (c *Controller) CheckRemote(ctx context.Context) error {
	backoff := retry.WithMaxRetries(c.settings.healthRetries, retry.NewConstant(c.settings.healthBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.api.Health(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})

	c.mu.Lock()
	c.localOnly = err != nil
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %s", common.ErrUnreachable, err)
	}
	return nil
}

// Close stops the pending autosave timer.
func (c *Controller) Close() {
	c.debounce.Stop()
}

// State returns the current save/load state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the current document identity.
func (c *Controller) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// LocalOnly reports whether saves are currently routed to the local
// fallback store.
func (c *Controller) LocalOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localOnly
}

// Document returns a snapshot of the in-memory document.
func (c *Controller) Document() storage.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return storage.Document{ID: c.identity.ID, Title: c.title, EngineTag: c.engineTag, Content: c.content}
}
