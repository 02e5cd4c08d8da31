// Package intake runs every posted proto through the receiver's gates and
// hands the survivors to downstream processing.
package intake

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/devicefleet/mitmcore/internal/domain"
	"github.com/devicefleet/mitmcore/internal/logging"
	"github.com/devicefleet/mitmcore/internal/protos"
	"github.com/devicefleet/mitmcore/internal/store"
)

// AccountStore is the account collaborator the fort-search path needs.
type AccountStore interface {
	DeviceByOrigin(ctx context.Context, origin string) (*domain.Device, error)
	SetLastSoftbanAction(ctx context.Context, deviceID int64, loc domain.Location, at time.Time) error
	GetAssignedUsername(ctx context.Context, deviceID int64) (string, bool, error)
}

// LoginTracker counts posts per origin.
type LoginTracker interface {
	IncrementTracking(ctx context.Context, origin string) error
}

// Action is what happened to one envelope.
type Action int

const (
	Drop Action = iota
	Forward
)

func (a Action) String() string {
	if a == Forward {
		return "forward"
	}
	return "drop"
}

// Outcome reports the fate of one envelope. Reason is set on drops.
type Outcome struct {
	Action Action
	Reason string
}

func dropped(reason string) Outcome { return Outcome{Action: Drop, Reason: reason} }

// Options configures a Dispatcher.
type Options struct {
	IgnorePreBoot bool
	StartedAt     time.Time
	Workers       int
}

// Dispatcher applies the intake gates in order. Safe for concurrent use;
// envelopes from one origin are processed in receipt order.
type Dispatcher struct {
	db       *sql.DB
	latest   *store.LatestProtoRepo
	quests   *store.QuestsHeldRepo
	visited  *store.VisitedRepo
	accounts AccountStore
	logins   LoginTracker
	queue    *Queue
	pool     *Pool
	locks    *originLocks
	logger   *zap.Logger
	opts     Options

	now func() time.Time
}

// NewDispatcher wires a dispatcher. logins may be nil to skip post counting.
func NewDispatcher(db *sql.DB, accounts AccountStore, logins LoginTracker, queue *Queue, logger *zap.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	return &Dispatcher{
		db:       db,
		latest:   &store.LatestProtoRepo{},
		quests:   &store.QuestsHeldRepo{},
		visited:  &store.VisitedRepo{},
		accounts: accounts,
		logins:   logins,
		queue:    queue,
		pool:     NewPool(opts.Workers),
		locks:    newOriginLocks(),
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// Receive handles one POST body: it bumps login tracking for the origin,
// decodes the body in the worker pool and runs every envelope through Handle.
func (d *Dispatcher) Receive(ctx context.Context, origin string, body []byte) ([]Outcome, error) {
	if origin == "" {
		return nil, domain.ErrMissingOrigin
	}
	log := logging.ForOrigin(d.logger, origin, "receive_protos")
	log.Debug("Receiving proto")

	if d.logins != nil {
		if err := d.logins.IncrementTracking(ctx, origin); err != nil {
			log.Warn("Failed to increment login tracking", zap.Error(err))
		}
	}

	var envs []domain.ProtoEnvelope
	var decodeErr error
	if err := d.pool.Do(ctx, func() { envs, decodeErr = DecodeBody(body) }); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		log.Warn("Could not decode proto body", zap.Error(decodeErr))
		return nil, decodeErr
	}

	unlock := d.locks.lock(origin)
	defer unlock()

	outcomes := make([]Outcome, 0, len(envs))
	for _, env := range envs {
		out, err := d.handle(ctx, log, origin, env)
		if err != nil {
			log.Warn("Dropping malformed proto", zap.Int("type", int(env.Type)), zap.Error(err))
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// Handle runs a single envelope through the gates. A non-nil error means the
// envelope was malformed; the outcome is then always Drop.
func (d *Dispatcher) Handle(ctx context.Context, origin string, env domain.ProtoEnvelope) (Outcome, error) {
	unlock := d.locks.lock(origin)
	defer unlock()
	return d.handle(ctx, logging.ForOrigin(d.logger, origin, "receive_protos"), origin, env)
}

func (d *Dispatcher) handle(ctx context.Context, log *zap.Logger, origin string, env domain.ProtoEnvelope) (Outcome, error) {
	if env.Type == 0 {
		log.Warn("Could not read method ID. Stopping processing of proto")
		return dropped("missing method id"), nil
	}

	ts := env.Timestamp
	if ts == 0 {
		ts = d.now().Unix()
	}
	if d.opts.IgnorePreBoot && ts < d.opts.StartedAt.Unix() {
		return dropped("pre-boot"), nil
	}

	if !protos.Allowed(env.Type) {
		return dropped("method not allowed"), nil
	}

	loc := env.Location().Normalized()
	receivedAt := d.now().Unix()

	if err := d.quests.Set(ctx, d.db, origin, env.QuestsHeld, receivedAt); err != nil {
		log.Error("Failed to record quests held", zap.Error(err))
	}

	if !env.Raw {
		log.Warn("JSON formatted processing is deprecated")
		return dropped("non-raw format"), nil
	}

	var (
		decoded []byte
		verdict protos.Verdict
		err     error
	)
	if poolErr := d.pool.Do(ctx, func() {
		decoded, err = protos.DecodePayload(env.Payload)
		if err == nil {
			verdict, err = protos.Validate(env.Type, decoded)
		}
	}); poolErr != nil {
		return dropped("cancelled"), poolErr
	}
	if err != nil {
		return dropped("malformed payload"), err
	}

	if verdict.Drop {
		d.logDrop(log, env, verdict)
		return dropped(verdict.Reason), nil
	}
	if verdict.FortSearch != nil {
		d.handleFortSearch(ctx, log, origin, verdict.FortSearch, loc, ts)
	}

	if err := d.latest.Upsert(ctx, d.db, domain.LatestProto{
		Origin:            origin,
		Key:               protos.Key(env.Type),
		TimestampRaw:      ts,
		TimestampReceived: receivedAt,
		Payload:           decoded,
		Location:          loc,
	}); err != nil {
		log.Error("Failed to update latest proto", zap.Error(err))
	}

	env.Timestamp = ts
	env.ReceivedAt = receivedAt
	env.Origin = origin
	env.Decoded = decoded
	log.Debug("Placing data received to data_queue")
	if err := d.queue.TryEnqueue(domain.QueueItem{Timestamp: ts, Envelope: env, Origin: origin}); err != nil {
		log.Warn("Lost proto on enqueue", zap.Error(err))
		return dropped("enqueue failed"), nil
	}
	return Outcome{Action: Forward}, nil
}

func (d *Dispatcher) logDrop(log *zap.Logger, env domain.ProtoEnvelope, v protos.Verdict) {
	switch env.Type {
	case domain.MethodFortSearch:
		fortID := "unknown_id"
		if v.FortSearch != nil && v.FortSearch.FortID != "" {
			fortID = v.FortSearch.FortID
		}
		log.Debug("Received out of range fort search",
			zap.String("fort_id", fortID),
			zap.Float64("lat", env.Lat),
			zap.Float64("lng", env.Lng))
	case domain.MethodEncounter:
		log.Warn("Encounter being ignored", zap.String("reason", v.Reason))
	case domain.MethodGetRoutes:
		log.Info("No routes in payload to be processed")
	default:
		log.Debug("Ignoring apparently empty GMO")
	}
}

// handleFortSearch records the softban action and the visited stop. A missing
// device is logged and the account calls run with device id 0, which the
// account store rejects.
func (d *Dispatcher) handleFortSearch(ctx context.Context, log *zap.Logger, origin string, fs *protos.FortSearch, loc domain.Location, ts int64) {
	log.Debug("Checking fort search")

	var deviceID int64
	dev, err := d.accounts.DeviceByOrigin(ctx, origin)
	if err != nil {
		log.Debug("Device not found", zap.Error(err))
	} else {
		deviceID = dev.DeviceID
	}

	if err := d.accounts.SetLastSoftbanAction(ctx, deviceID, loc, time.Unix(ts, 0)); err != nil {
		log.Warn("Failed to set last softban action", zap.Error(err))
	}

	if fs.FortID == "" {
		log.Debug("No fort id in fort search")
		return
	}

	username, ok, err := d.accounts.GetAssignedUsername(ctx, deviceID)
	switch {
	case err != nil:
		log.Warn("Unable to retrieve username to mark stop as visited", zap.Error(err))
	case !ok:
		log.Warn("Unable to retrieve username last assigned to mark stop as visited")
	default:
		if err := d.visited.MarkVisited(ctx, d.db, username, fs.FortID, d.now().Unix()); err != nil {
			log.Error("Failed to mark stop visited", zap.String("fort_id", fs.FortID), zap.Error(err))
		}
	}

	if !fs.HasChallengeQuest {
		log.Debug("No challenge quest in fort search")
		return
	}
	if !fs.HasQuestRewards {
		log.Debug("No quest rewards in fort search")
	}
}

// Latest returns the latest-proto rows recorded for an origin.
func (d *Dispatcher) Latest(ctx context.Context, origin string) ([]domain.LatestProto, error) {
	return d.latest.ListByOrigin(ctx, d.db, origin)
}

// QueueLen reports how many items await downstream processing.
func (d *Dispatcher) QueueLen() int {
	return d.queue.Len()
}
