package entigraph

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Observer receives best-effort notifications of registry lifecycle events.
// Implementations must not block or mutate anything they're handed; a slow
// Observer slows down the registry call that triggered it, since hooks are
// invoked synchronously (for VersionEntity, while its lineage lock is held).
type Observer interface {
	OnRegistered(root *EntityTree)
	OnVersioned(oldRootEcsID, newRootEcsID uuid.UUID)
	OnPromoted(e Entity)
	OnDetached(e Entity, formerParentRootEcsID uuid.UUID)
	OnAttached(e Entity, newParentRootEcsID uuid.UUID)
}

// SetObserver installs obs as the registry's Observer. Pass nil to disable
// notification (the default).
func (r *Registry) SetObserver(obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = obs
}

func (r *Registry) notifyRegistered(tree *EntityTree) {
	r.mu.RLock()
	obs := r.observer
	r.mu.RUnlock()
	if obs != nil {
		obs.OnRegistered(tree)
	}
}

func (r *Registry) notifyVersioned(oldRootEcsID, newRootEcsID uuid.UUID) {
	r.mu.RLock()
	obs := r.observer
	r.mu.RUnlock()
	if obs != nil {
		obs.OnVersioned(oldRootEcsID, newRootEcsID)
	}
}

func (r *Registry) notifyPromoted(e Entity) {
	r.mu.RLock()
	obs := r.observer
	r.mu.RUnlock()
	if obs != nil {
		obs.OnPromoted(e)
	}
}

func (r *Registry) notifyDetached(e Entity, formerParentRootEcsID uuid.UUID) {
	r.mu.RLock()
	obs := r.observer
	r.mu.RUnlock()
	if obs != nil {
		obs.OnDetached(e, formerParentRootEcsID)
	}
}

func (r *Registry) notifyAttached(e Entity, newParentRootEcsID uuid.UUID) {
	r.mu.RLock()
	obs := r.observer
	r.mu.RUnlock()
	if obs != nil {
		obs.OnAttached(e, newParentRootEcsID)
	}
}

// ZapObserver is the default Observer, logging every event at Info level
// through a *zap.Logger — the same logging library and structured-field
// style the rest of the package uses for its own internal logging.
type ZapObserver struct {
	log *zap.Logger
}

// NewZapObserver wraps log as an Observer. A nil log installs zap's no-op
// logger.
func NewZapObserver(log *zap.Logger) *ZapObserver {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapObserver{log: log}
}

func (z *ZapObserver) OnRegistered(root *EntityTree) {
	z.log.Info("observer: tree registered",
		zap.String("root_ecs_id", root.RootEcsID.String()),
		zap.Int("node_count", root.NodeCount),
	)
}

func (z *ZapObserver) OnVersioned(oldRootEcsID, newRootEcsID uuid.UUID) {
	z.log.Info("observer: entity versioned",
		zap.String("old_root_ecs_id", oldRootEcsID.String()),
		zap.String("new_root_ecs_id", newRootEcsID.String()),
	)
}

func (z *ZapObserver) OnPromoted(e Entity) {
	b := e.EntityHeader()
	z.log.Info("observer: entity promoted to root",
		zap.String("ecs_id", b.EcsID.String()),
		zap.String("lineage_id", b.LineageID.String()),
	)
}

func (z *ZapObserver) OnDetached(e Entity, formerParentRootEcsID uuid.UUID) {
	b := e.EntityHeader()
	z.log.Info("observer: entity detached",
		zap.String("ecs_id", b.EcsID.String()),
		zap.String("former_parent_root_ecs_id", formerParentRootEcsID.String()),
	)
}

func (z *ZapObserver) OnAttached(e Entity, newParentRootEcsID uuid.UUID) {
	b := e.EntityHeader()
	z.log.Info("observer: entity attached",
		zap.String("ecs_id", b.EcsID.String()),
		zap.String("new_parent_root_ecs_id", newParentRootEcsID.String()),
	)
}
