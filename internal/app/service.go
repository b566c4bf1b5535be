package app

import (
	"context"
	"errors"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"orbit/api/internal/email"
	"orbit/api/internal/joincode"
	"orbit/api/internal/metrics"
	"orbit/api/internal/realtime"
	"orbit/api/internal/search"
	"orbit/api/internal/state"
	"orbit/api/internal/store"
)

// Presence is the realtime collaborator: heartbeats plus publish-only fan-out.
type Presence interface {
	Heartbeat(ctx context.Context, userID string, projectIDs []string) error
	Online(ctx context.Context, projectID string) ([]string, error)
	Leave(ctx context.Context, userID, projectID string) error
	Publish(ctx context.Context, event realtime.Event) error
	Ping(ctx context.Context) error
}

// TaskSearch is the part of search.Service the coordinator drives.
type TaskSearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexTask(t search.TaskRecord)
	DeleteTask(id string)
}

// Dependencies are shared by every session's coordinator.
type Dependencies struct {
	Repos     store.Repositories
	JoinCodes *joincode.Service
	Presence  Presence
	Search    TaskSearch
	Mailer    email.Mailer
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	Retention int
	Now       func() time.Time

	// locks is shared by every coordinator built from these dependencies so
	// flows on the same entity serialize across sessions.
	locks *keyedMutex
}

func (d Dependencies) withDefaults() Dependencies {
	if d.JoinCodes == nil && d.Repos != nil {
		d.JoinCodes = joincode.NewService(d.Repos, joincode.DefaultTTL)
	}
	if d.Presence == nil {
		d.Presence = realtime.Nop{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Retention <= 0 {
		d.Retention = state.DefaultRetention
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.locks == nil {
		d.locks = newKeyedMutex()
	}
	return d
}

// Coordinator runs every mutating and fetching flow for one user. It is the
// only writer of its state.Store: the Store changes only after the remote
// store confirmed the operation.
type Coordinator struct {
	userID string

	repos    store.Repositories
	codes    *joincode.Service
	presence Presence
	search   TaskSearch
	mailer   email.Mailer
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time

	retention int
	state     *state.Store
	writer    *state.Writer
	locks     *keyedMutex
	validate  *validator.Validate
	policy    *bluemonday.Policy
}

func NewCoordinator(userID string, deps Dependencies) *Coordinator {
	deps = deps.withDefaults()
	st, writer := state.New(deps.Retention)
	return &Coordinator{
		userID:    userID,
		repos:     deps.Repos,
		codes:     deps.JoinCodes,
		presence:  deps.Presence,
		search:    deps.Search,
		mailer:    deps.Mailer,
		metrics:   deps.Metrics,
		log:       deps.Log.With(zap.String("user_id", userID)),
		now:       deps.Now,
		retention: deps.Retention,
		state:     st,
		writer:    writer,
		locks:     deps.locks,
		validate:  validator.New(),
		policy:    bluemonday.StrictPolicy(),
	}
}

// State is the read side of the session cache.
func (c *Coordinator) State() *state.Store {
	return c.state
}

func (c *Coordinator) UserID() string {
	return c.userID
}

// Ping checks the remote store.
func (c *Coordinator) Ping(ctx context.Context) error {
	return c.repos.Ping(ctx)
}

func (c *Coordinator) observe(operation string, started time.Time, err *error) {
	c.metrics.Observe(operation, started, *err)
}

// sanitize strips markup from user-supplied text.
func (c *Coordinator) sanitize(value string) string {
	return strings.TrimSpace(html.UnescapeString(c.policy.Sanitize(value)))
}

func (c *Coordinator) sanitizePtr(value *string) *string {
	if value == nil {
		return nil
	}
	clean := c.sanitize(*value)
	return &clean
}

func (c *Coordinator) validateStruct(input any) error {
	err := c.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return validationError("Invalid input", nil)
	}
	fields := make(map[string]string, len(fieldErrs))
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.ToLower(fe.Field())
		var message string
		switch fe.Tag() {
		case "required":
			message = field + " is required"
		case "max":
			message = field + " must be at most " + fe.Param() + " characters"
		case "email":
			message = field + " must be a valid email"
		case "oneof":
			message = field + " must be one of: " + fe.Param()
		default:
			message = field + " is invalid"
		}
		fields[field] = message
		messages = append(messages, message)
	}
	return validationError(strings.Join(messages, ", "), fields)
}

// appendActivity writes an activity entry best effort. A failure is logged
// and counted but never fails the calling flow.
func (c *Coordinator) appendActivity(ctx context.Context, entry store.ActivityEntry) {
	entry.ActorID = c.userID
	saved, err := c.repos.LogActivity(ctx, entry)
	if err != nil {
		c.metrics.ActivityDropped()
		c.log.Warn("append activity failed",
			zap.String("action", entry.Action),
			zap.Stringp("project_id", entry.ProjectID),
			zap.Error(err),
		)
		return
	}
	state.UpsertOne(c.writer, state.Activity, saved)
	c.publish(ctx, saved)
}

func (c *Coordinator) publish(ctx context.Context, entry store.ActivityEntry) {
	if entry.ProjectID == nil {
		return
	}
	event := realtime.Event{
		Type:      "activity",
		ProjectID: *entry.ProjectID,
		ActorID:   entry.ActorID,
		Activity:  &entry,
		At:        c.now().UTC(),
	}
	if err := c.presence.Publish(ctx, event); err != nil {
		c.log.Warn("publish activity failed", zap.String("project_id", *entry.ProjectID), zap.Error(err))
	}
}

// leave clears the users' presence in a project they no longer belong to.
func (c *Coordinator) leave(ctx context.Context, projectID string, userIDs ...string) {
	for _, userID := range userIDs {
		if err := c.presence.Leave(ctx, userID, projectID); err != nil {
			c.log.Warn("clear presence failed",
				zap.String("project_id", projectID),
				zap.String("member_id", userID),
				zap.Error(err),
			)
		}
	}
}

// stillLive reports whether a fetch result may be written into the Store.
// A caller that went away while the fetch was in flight gets an error and
// the Store is left alone.
func stillLive(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return translateError(op, err)
	}
	return nil
}

// keyedMutex serializes flows touching the same entity id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyedLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func projectKey(id string) string { return "project:" + id }
func taskKey(id string) string { return "task:" + id }
func memberKey(id string) string { return "member:" + id }
