package guardian

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"
)

var ErrOverDecrement = errors.New("OverDecrement")

// How long an applied order id is remembered for idempotence. Longer than the
// velocity window: Shopify retries can arrive well after T has passed.
const appliedRetention = 24 * time.Hour

type GuardConfig struct {
	GlobalBuffer     int64
	BufferOverrides  map[string]int64
	WindowSeconds    int
	ThresholdCount   int
	MaxWindowEntries int
	Locale           string
	NotifyTimeout    time.Duration
	AuditDBPath      string
	Debug            bool
}

// applyDefaults leaves GlobalBuffer alone: zero is a legitimate buffer and
// the 50 default belongs to the CLI/config layer.
func (c *GuardConfig) applyDefaults() {
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = 60
	}
	if c.ThresholdCount <= 0 {
		c.ThresholdCount = 5
	}
	if c.MaxWindowEntries <= 0 {
		c.MaxWindowEntries = 10000
	}
	if c.Locale == "" {
		c.Locale = "US"
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 5 * time.Second
	}
}

// Guard owns all mutable state: the snapshot, the velocity window and the
// controller. One mutex guards "read snapshot, apply decrements, consult
// policies, signal controller" as a single critical section; the section does
// no I/O. Notifier sends and audit writes happen after unlock.
type Guard struct {
	cfg        GuardConfig
	mu         sync.Mutex
	snapshot   *Snapshot
	window     *VelocityWindow
	policy     BufferPolicy
	controller *Controller
	applied    map[string]time.Time
	notifier   Notifier
	db         *gorm.DB
	now        func() time.Time
}

func NewGuard(cfg GuardConfig, notifier Notifier) (*Guard, error) {
	cfg.applyDefaults()
	if notifier == nil {
		notifier = LogNotifier{}
	}
	window := time.Duration(cfg.WindowSeconds) * time.Second
	g := &Guard{
		cfg:        cfg,
		window:     NewVelocityWindow(window, cfg.ThresholdCount, cfg.MaxWindowEntries),
		policy:     BufferPolicy{Global: cfg.GlobalBuffer, Overrides: cfg.BufferOverrides},
		controller: NewController(window),
		applied:    make(map[string]time.Time),
		notifier:   notifier,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if cfg.AuditDBPath != "" {
		db, err := OpenAuditDB(cfg.AuditDBPath)
		if err != nil {
			return nil, fmt.Errorf("open audit db: %w", err)
		}
		g.db = db
	}
	return g, nil
}

func (g *Guard) Close() error {
	if g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *Guard) debugf(format string, args ...any) {
	if g == nil || !g.cfg.Debug {
		return
	}
	log.Printf(format, args...)
}

// LoadSnapshot parses a CSV off-path and swaps the new snapshot in under the
// lock. In-flight webhooks finish against the old snapshot; nothing observes
// a half-built one.
func (g *Guard) LoadSnapshot(r io.Reader, source string, opts LoaderOptions) (*Snapshot, []LoadWarning, error) {
	if opts.Locale == "" {
		opts.Locale = g.cfg.Locale
	}
	snap, warnings, err := LoadSnapshot(r, source, opts, g.now())
	if err != nil {
		return nil, warnings, err
	}

	g.mu.Lock()
	g.snapshot = snap
	g.mu.Unlock()

	g.debugf("loaded %s: %d rows, %d accepted, %d rejected, location %q",
		source, snap.RowsTotal, snap.RowsAccepted, snap.RowsRejected, snap.Location)
	g.auditLoad(snap)
	return snap, warnings, nil
}

// Receipt summarizes how one webhook delivery was handled.
type Receipt struct {
	OrderID   string
	State     State
	Duplicate bool
	Applied   int
	Skipped   []string
	Refused   bool
}

// HandleOrder runs the critical section for one orders/create event:
// velocity record, per-order-atomic decrements, buffer checks, controller
// signalling. Duplicate order ids are absorbed (applied at most once to both
// the map and the window). While the controller is TRIPPED, decrement
// propagation is refused but arrivals are still counted.
func (g *Guard) HandleOrder(order OrderEvent) (Receipt, error) {
	now := g.now()
	var alerts []*Alert

	g.mu.Lock()
	rec := Receipt{OrderID: order.ID}

	g.pruneApplied(now)
	if _, dup := g.applied[order.ID]; dup {
		rec.Duplicate = true
		rec.State = g.controller.State()
		g.mu.Unlock()
		g.debugf("order %s: duplicate, ignored", order.ID)
		g.auditOrder(order, rec)
		return rec, nil
	}

	g.window.Record(order.ID, now)
	if g.window.Overflowed() {
		if a := g.controller.Trip("VelocityOverflow: window entry cap exceeded", now); a != nil {
			alerts = append(alerts, a)
		}
	}

	if g.controller.State() == StateTripped {
		rec.Refused = true
	} else if g.snapshot != nil {
		need := make(map[string]int64)
		for _, li := range order.LineItems {
			if li.SKU == "" || li.Quantity <= 0 {
				continue
			}
			cur, ok := g.snapshot.Quantities[li.SKU]
			if !ok {
				rec.Skipped = append(rec.Skipped, li.SKU)
				continue
			}
			need[li.SKU] += li.Quantity
			if need[li.SKU] > cur {
				// Whole order refused: line items apply together or not at all.
				rec.State = g.controller.State()
				g.mu.Unlock()
				g.emit(alerts)
				g.auditOrder(order, rec)
				return rec, fmt.Errorf("%w: order %s wants %d of sku %s, have %d",
					ErrOverDecrement, order.ID, need[li.SKU], li.SKU, cur)
			}
		}
		for sku, n := range need {
			g.snapshot.Quantities[sku] -= n
			rec.Applied++
			if breached, reason := g.policy.IsBreached(sku, g.snapshot.Quantities[sku]); breached {
				if a := g.controller.Trip(reason, now); a != nil {
					alerts = append(alerts, a)
				}
			}
		}
	} else {
		for _, li := range order.LineItems {
			if li.SKU != "" {
				rec.Skipped = append(rec.Skipped, li.SKU)
			}
		}
	}

	if g.window.IsOverThreshold(now) {
		reason := fmt.Sprintf("VelocityThreshold: %d orders within %s (threshold %d)",
			g.window.Count(now), g.window.Window(), g.window.Threshold())
		if a := g.controller.Trip(reason, now); a != nil {
			alerts = append(alerts, a)
		}
	}

	g.applied[order.ID] = now
	rec.State = g.controller.State()
	g.mu.Unlock()

	for _, sku := range rec.Skipped {
		log.Printf("order %s: sku %q not in snapshot, skipped", order.ID, sku)
	}
	g.emit(alerts)
	g.auditOrder(order, rec)
	return rec, nil
}

func (g *Guard) pruneApplied(now time.Time) {
	for id, at := range g.applied {
		if now.Sub(at) > appliedRetention {
			delete(g.applied, id)
		}
	}
}

// emit sends pending alerts outside the lock. Best-effort: a notifier failure
// is logged and swallowed.
func (g *Guard) emit(alerts []*Alert) {
	for _, a := range alerts {
		err := g.notifier.Send(a.Message(), g.cfg.NotifyTimeout)
		if err != nil {
			log.Printf("notifier send failed (incident %s): %v", a.IncidentID, err)
		}
		g.auditTrip(a, err)
	}
}

func (g *Guard) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.controller.Reset(); err != nil {
		return err
	}
	g.window.Reset()
	return nil
}

func (g *Guard) Disable() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.controller.Disable()
}

func (g *Guard) Enable() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.controller.Enable()
}

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.controller.State()
}

// Quantity reports the current on-hand count for one SKU.
func (g *Guard) Quantity(sku string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.snapshot == nil {
		return 0, false
	}
	q, ok := g.snapshot.Quantities[sku]
	return q, ok
}

type GuardStatus struct {
	Controller       ControllerStatus `json:"controller"`
	SnapshotSource   string           `json:"snapshot_source,omitempty"`
	SnapshotLoadedAt time.Time        `json:"snapshot_loaded_at,omitempty"`
	Location         string           `json:"location,omitempty"`
	SKUCount         int              `json:"sku_count"`
	WindowCount      int              `json:"window_count"`
	WindowOverflowed bool             `json:"window_overflowed"`
}

func (g *Guard) Status() GuardStatus {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	st := GuardStatus{
		Controller:       g.controller.Status(),
		WindowCount:      g.window.Count(now),
		WindowOverflowed: g.window.Overflowed(),
	}
	if g.snapshot != nil {
		st.SnapshotSource = g.snapshot.Source
		st.SnapshotLoadedAt = g.snapshot.LoadedAt
		st.Location = g.snapshot.Location
		st.SKUCount = len(g.snapshot.Quantities)
	}
	return st
}

func (g *Guard) auditLoad(snap *Snapshot) {
	if g.db == nil {
		return
	}
	rec := LoadRecord{
		Source:       snap.Source,
		Location:     snap.Location,
		RowsTotal:    snap.RowsTotal,
		RowsAccepted: snap.RowsAccepted,
		RowsRejected: snap.RowsRejected,
		SKUCount:     len(snap.Quantities),
		LoadedAt:     snap.LoadedAt,
	}
	if err := g.db.Create(&rec).Error; err != nil {
		log.Printf("audit load record: %v", err)
	}
}

func (g *Guard) auditOrder(order OrderEvent, rec Receipt) {
	if g.db == nil {
		return
	}
	row := OrderRecord{
		OrderID:    order.ID,
		ReceivedAt: g.now(),
		LineItems:  len(order.LineItems),
		Applied:    rec.Applied,
		Duplicate:  rec.Duplicate,
		Refused:    rec.Refused,
		State:      string(rec.State),
	}
	if err := g.db.Create(&row).Error; err != nil {
		log.Printf("audit order record: %v", err)
	}
}

func (g *Guard) auditTrip(a *Alert, sendErr error) {
	if g.db == nil {
		return
	}
	row := TripRecord{
		IncidentID: a.IncidentID,
		Reason:     a.Reason,
		TrippedAt:  a.At,
		Alerted:    sendErr == nil,
	}
	if sendErr != nil {
		row.AlertError = sendErr.Error()
	}
	if err := g.db.Create(&row).Error; err != nil {
		log.Printf("audit trip record: %v", err)
	}
}
