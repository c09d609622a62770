package monitor

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/monitor/cycle"
)

// Config holds Monitor configuration.
type Config struct {
	// GasLimit is the initial gas granted to a new session.
	GasLimit uint64
	// MaxContextBytes is the LRU-flush threshold before a new entry fails
	// with ContextOverflow.
	MaxContextBytes uint64
	// MaxDepth is the structural call-depth ceiling.
	MaxDepth uint64
	// DetectCycles enables the Floyd+Tarjan cycle detectors.
	DetectCycles bool
	// HighGasUsageRatio is the fraction of GasLimit past which a
	// HighGasUsage flag is attached (advisory only). Default 0.8.
	HighGasUsageRatio float64
	// HistoryWindow bounds how many of the most recent fingerprints Floyd
	// scans; 0 means unbounded.
	HistoryWindow int
}

// DefaultHighGasUsageRatio matches spec.md's 0.8 threshold.
const DefaultHighGasUsageRatio = 0.8

// Monitor is the State Monitor surface. All mutations of a given session's
// state are serialized through that session's own mutex, obtained from the
// Monitor's keyed-mutex table so concurrent sessions never block each
// other.
type Monitor struct {
	store   Store
	cfg     Config
	weights map[OpKind]uint64
	logger  *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Monitor with the given Store, Config, and logger. The gas
// schedule defaults to DefaultGasSchedule; use WithWeights to override.
func New(store Store, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.HighGasUsageRatio == 0 {
		cfg.HighGasUsageRatio = DefaultHighGasUsageRatio
	}
	weights := make(map[OpKind]uint64, len(DefaultGasSchedule))
	for k, v := range DefaultGasSchedule {
		weights[k] = v
	}
	return &Monitor{
		store:   store,
		cfg:     cfg,
		weights: weights,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// WithWeights overrides or extends the gas cost schedule.
func (m *Monitor) WithWeights(weights map[OpKind]uint64) *Monitor {
	for k, v := range weights {
		m.weights[k] = v
	}
	return m
}

// sessionLock returns the per-session mutex for id, creating it if absent.
func (m *Monitor) sessionLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// getOrCreate returns the session state for id, creating a fresh one (with
// a full gas tank) on first sighting. Callers must hold the session lock.
func (m *Monitor) getOrCreate(id string) *SessionState {
	if s, ok := m.store.Get(id); ok {
		return s
	}
	s := &SessionState{
		SessionID:    id,
		GasRemaining: m.cfg.GasLimit,
		graphEdges:   make(map[Fingerprint]map[Fingerprint]bool),
	}
	m.store.Put(id, s)
	return s
}

// NewFingerprint computes the invocation fingerprint for a tool call: the
// tool name plus a normalized xxhash digest of its parameters. Parameters
// are marshaled through a map so key order never affects the digest.
func NewFingerprint(toolName string, params map[string]interface{}) Fingerprint {
	return Fingerprint{ToolName: toolName, ParamsHash: hashParams(params)}
}

func hashParams(params map[string]interface{}) uint64 {
	if len(params) == 0 {
		return 0
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := xxhash.New()
	for _, k := range keys {
		_, _ = h.WriteString(k)
		_, _ = h.Write([]byte{0})
		v, _ := json.Marshal(params[k])
		_, _ = h.Write(v)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// BeginResult carries advisory information alongside a successful
// begin_call, distinct from the fatal failures returned as errors.
type BeginResult struct {
	HighGasUsage bool
}

// BeginCall checks gas, depth, context, and (if enabled) cycles for a
// proposed invocation, and on success deducts gas and records the
// invocation. A failing BeginCall leaves session state unchanged: gas is
// checked before it is consumed, and history/graph/depth are mutated only
// after every check has passed.
func (m *Monitor) BeginCall(sessionID string, fp Fingerprint, op OpKind) (BeginResult, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s := m.getOrCreate(sessionID)

	cost := m.weights[op]
	if cost == 0 {
		cost = m.weights[OpCustom]
	}
	if cost > s.GasRemaining {
		return BeginResult{}, ErrGasExhausted
	}

	if m.cfg.MaxDepth > 0 && s.CallDepth+1 > m.cfg.MaxDepth {
		return BeginResult{}, ErrCycleDetected
	}

	if m.cfg.DetectCycles {
		if _, found := m.detectCycle(s, fp); found {
			return BeginResult{}, ErrCycleDetected
		}
	}

	// All checks passed: commit the mutation.
	s.GasRemaining -= cost
	s.CallDepth++
	if len(s.ToolHistory) > 0 {
		prev := s.ToolHistory[len(s.ToolHistory)-1].Fingerprint
		if s.graphEdges[prev] == nil {
			s.graphEdges[prev] = make(map[Fingerprint]bool)
		}
		s.graphEdges[prev][fp] = true
	}
	s.ToolHistory = append(s.ToolHistory, HistoryEntry{Fingerprint: fp, OpKind: op, Recorded: time.Now().UTC()})

	result := BeginResult{}
	if m.cfg.GasLimit > 0 && float64(m.cfg.GasLimit-s.GasRemaining) > m.cfg.HighGasUsageRatio*float64(m.cfg.GasLimit) {
		result.HighGasUsage = true
	}

	if m.logger != nil {
		m.logger.Info("monitor: begin_call", "session_id", sessionID, "tool_name", fp.ToolName, "gas_remaining", s.GasRemaining)
	}
	return result, nil
}

// detectCycle runs Floyd over the session's linear history first, falling
// back to Tarjan over the full invocation graph only if Floyd finds
// nothing, per spec: Floyd is tried first because it is cheap, and Tarjan
// is the authoritative check when Floyd passes.
func (m *Monitor) detectCycle(s *SessionState, proposed Fingerprint) (CycleReport, bool) {
	seq := make([]Fingerprint, 0, len(s.ToolHistory)+1)
	start := 0
	if m.cfg.HistoryWindow > 0 && len(s.ToolHistory) > m.cfg.HistoryWindow {
		start = len(s.ToolHistory) - m.cfg.HistoryWindow
	}
	for _, h := range s.ToolHistory[start:] {
		seq = append(seq, h.Fingerprint)
	}
	seq = append(seq, proposed)

	if period, ok := cycle.Floyd(seq); ok {
		return CycleReport{Period: period, Detector: "floyd"}, true
	}

	g := cycle.NewGraph[Fingerprint]()
	for from, tos := range s.graphEdges {
		for to := range tos {
			g.AddEdge(from, to)
		}
	}
	if len(s.ToolHistory) > 0 {
		g.AddEdge(s.ToolHistory[len(s.ToolHistory)-1].Fingerprint, proposed)
	}
	sccs := cycle.Tarjan(g)
	if len(sccs) > 0 {
		return CycleReport{Period: len(sccs[0].Nodes), Detector: "tarjan"}, true
	}
	return CycleReport{}, false
}

// EndCall decrements call depth on return from a nested invocation.
func (m *Monitor) EndCall(sessionID string) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s, ok := m.store.Get(sessionID)
	if !ok || s.CallDepth == 0 {
		return
	}
	s.CallDepth--
}

// RecordVerdict marks the session's last ToolHistory entry as approved or
// refused, so a later call's Council stage can see whether this tool was
// approved or refused earlier in the session (the Logicist's contradiction
// check and the Waluigi detector's reversal bonus both read this). It is a
// no-op if the session doesn't exist or its last entry's fingerprint isn't
// fp -- the latter happens when this verdict's own BeginCall never admitted
// the call (gas exhaustion, cycle detection, depth limit), so nothing was
// appended for it and the last entry instead belongs to an earlier,
// already-decided call that must not be overwritten.
func (m *Monitor) RecordVerdict(sessionID string, fp Fingerprint, approved bool) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s, ok := m.store.Get(sessionID)
	if !ok || len(s.ToolHistory) == 0 {
		return
	}
	// Only the most recent entry can be "the call just begun" -- scanning
	// further back risks re-marking an earlier, already-decided call with
	// the same fingerprint (e.g. this verdict's BeginCall itself failed and
	// appended nothing, leaving the last entry from a prior successful
	// call to the same tool).
	last := len(s.ToolHistory) - 1
	if s.ToolHistory[last].Fingerprint != fp {
		return
	}
	s.ToolHistory[last].Approved = approved
	s.ToolHistory[last].Refused = !approved
}

// SeedHistory prepends externally supplied history (spec.md §6's
// previous_history) to a session that is not yet known to the monitor.
// It is a no-op if the session already exists, since the monitor's own
// tracked history is always authoritative once a session has begun.
func (m *Monitor) SeedHistory(sessionID string, history []HistoryEntry) {
	if len(history) == 0 {
		return
	}
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, ok := m.store.Get(sessionID); ok {
		return
	}
	s := &SessionState{
		SessionID:    sessionID,
		GasRemaining: m.cfg.GasLimit,
		graphEdges:   make(map[Fingerprint]map[Fingerprint]bool),
	}
	s.ToolHistory = append(s.ToolHistory, history...)
	for i := 0; i+1 < len(s.ToolHistory); i++ {
		from, to := s.ToolHistory[i].Fingerprint, s.ToolHistory[i+1].Fingerprint
		if s.graphEdges[from] == nil {
			s.graphEdges[from] = make(map[Fingerprint]bool)
		}
		s.graphEdges[from][to] = true
	}
	m.store.Put(sessionID, s)
}

// RecordContext accounts a new context entry, evicting oldest entries by
// LRU until it fits. Fails with ErrContextOverflow if the entry alone
// exceeds MaxContextBytes.
func (m *Monitor) RecordContext(sessionID, entryID string, size int) error {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s := m.getOrCreate(sessionID)

	if m.cfg.MaxContextBytes > 0 && uint64(size) > m.cfg.MaxContextBytes {
		return ErrContextOverflow
	}

	for m.cfg.MaxContextBytes > 0 && s.ContextBytes+uint64(size) > m.cfg.MaxContextBytes && len(s.contextLRU) > 0 {
		oldest := s.contextLRU[0]
		s.contextLRU = s.contextLRU[1:]
		s.ContextBytes -= uint64(oldest.Bytes)
		if m.logger != nil {
			m.logger.Info("monitor: context flushed", "session_id", sessionID, "entry_id", oldest.ID, "bytes", oldest.Bytes)
		}
	}

	s.flushSeq++
	s.contextLRU = append(s.contextLRU, ContextEntry{ID: entryID, Bytes: size, addedAt: s.flushSeq})
	s.ContextBytes += uint64(size)
	return nil
}

// Snapshot returns a copy of the session's current state for inspection
// (e.g. by the Council or the admin surface). Returns ok=false if the
// session does not exist.
func (m *Monitor) Snapshot(sessionID string) (SessionState, bool) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s, ok := m.store.Get(sessionID)
	if !ok {
		return SessionState{}, false
	}

	history := make([]HistoryEntry, len(s.ToolHistory))
	copy(history, s.ToolHistory)
	return SessionState{
		SessionID:    s.SessionID,
		GasRemaining: s.GasRemaining,
		CallDepth:    s.CallDepth,
		ContextBytes: s.ContextBytes,
		ToolHistory:  history,
	}, true
}

// Close destroys a session's state.
func (m *Monitor) Close(sessionID string) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	m.store.Delete(sessionID)
	lock.Unlock()

	m.locksMu.Lock()
	delete(m.locks, sessionID)
	m.locksMu.Unlock()
}
