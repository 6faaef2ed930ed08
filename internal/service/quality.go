package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/errs"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/model"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/store"
)

// keepSamples is how many recent samples stay in memory per participant; the
// full series flows to the storage collaborator.
const keepSamples = 20

type participantQuality struct {
	packetLoss float64
	hasReport  bool
	samples    []model.QualitySample
	lowStreak  int
	notified   bool
}

type callQuality struct {
	timer        Timer
	participants map[string]*participantQuality
	stopped      bool
}

// QualityMonitor samples per-participant connection health on a fixed
// interval for the lifetime of an active call. Participants report raw
// packet-loss estimates over the realtime channel; each tick converts the
// latest report into a discrete 1-5 score. A monitor failure for one
// participant never blocks sampling for the others and never forces a call
// state transition.
type QualityMonitor struct {
	mu    sync.Mutex
	calls map[string]*callQuality

	store     store.Store
	clock     Clock
	interval  time.Duration
	lowScore  int
	streak    int
	broadcast func(callID string, payload []byte)
	log       *zap.Logger
}

// NewQualityMonitor creates the monitor. broadcast delivers degrade
// notifications to a call's members.
func NewQualityMonitor(st store.Store, clock Clock, interval time.Duration, lowScore, streak int, broadcast func(callID string, payload []byte), log *zap.Logger) *QualityMonitor {
	return &QualityMonitor{
		calls:     make(map[string]*callQuality),
		store:     st,
		clock:     clock,
		interval:  interval,
		lowScore:  lowScore,
		streak:    streak,
		broadcast: broadcast,
		log:       log,
	}
}

// StartCall begins sampling the given participants. Idempotent per call.
func (m *QualityMonitor) StartCall(callID string, participantIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[callID]; ok {
		return
	}
	cq := &callQuality{participants: make(map[string]*participantQuality)}
	for _, id := range participantIDs {
		cq.participants[id] = &participantQuality{}
	}
	cq.timer = m.clock.AfterFunc(m.interval, func() { m.tick(callID) })
	m.calls[callID] = cq
}

// StopCall releases the monitor for an ended call and cancels its timer.
func (m *QualityMonitor) StopCall(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cq, ok := m.calls[callID]
	if !ok {
		return
	}
	cq.stopped = true
	if cq.timer != nil {
		cq.timer.Stop()
	}
	delete(m.calls, callID)
}

// Report records the latest client-reported packet loss for a participant.
func (m *QualityMonitor) Report(callID, userID string, packetLoss float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cq, ok := m.calls[callID]
	if !ok {
		return errs.ErrCallNotFound
	}
	pq, ok := cq.participants[userID]
	if !ok {
		return errs.ErrAccessDenied
	}
	if packetLoss < 0 {
		packetLoss = 0
	}
	pq.packetLoss = packetLoss
	pq.hasReport = true
	return nil
}

// Samples returns the retained in-memory samples for a participant.
func (m *QualityMonitor) Samples(callID, userID string) []model.QualitySample {
	m.mu.Lock()
	defer m.mu.Unlock()
	cq, ok := m.calls[callID]
	if !ok {
		return nil
	}
	pq, ok := cq.participants[userID]
	if !ok {
		return nil
	}
	out := make([]model.QualitySample, len(pq.samples))
	copy(out, pq.samples)
	return out
}

// tick takes one sample per participant and re-arms the timer. Samples are
// independent: persistence failures are logged per participant and do not
// stop the monitor.
func (m *QualityMonitor) tick(callID string) {
	m.mu.Lock()
	cq, ok := m.calls[callID]
	if !ok || cq.stopped {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	type degrade struct {
		userID string
		score  int
	}
	var degraded []degrade
	var toPersist []model.QualitySample
	for userID, pq := range cq.participants {
		if !pq.hasReport {
			continue
		}
		sample := model.QualitySample{
			CallID:     callID,
			UserID:     userID,
			Score:      ScoreFromPacketLoss(pq.packetLoss),
			PacketLoss: pq.packetLoss,
			SampledAt:  now,
		}
		pq.samples = append(pq.samples, sample)
		if len(pq.samples) > keepSamples {
			pq.samples = pq.samples[len(pq.samples)-keepSamples:]
		}
		toPersist = append(toPersist, sample)

		if sample.Score <= m.lowScore {
			pq.lowStreak++
			if pq.lowStreak >= m.streak && !pq.notified {
				pq.notified = true
				degraded = append(degraded, degrade{userID: userID, score: sample.Score})
			}
		} else {
			pq.lowStreak = 0
			pq.notified = false
		}
	}
	cq.timer.Reset(m.interval)
	m.mu.Unlock()

	for _, s := range toPersist {
		sample := s
		go func() {
			if err := m.store.InsertQualitySample(context.Background(), &sample); err != nil {
				m.log.Warn("quality sample persist failed",
					zap.String("call_id", sample.CallID),
					zap.String("user_id", sample.UserID),
					zap.Error(err))
			}
		}()
	}
	for _, d := range degraded {
		m.log.Info("connection quality degraded",
			zap.String("call_id", callID),
			zap.String("user_id", d.userID),
			zap.Int("score", d.score))
		m.broadcast(callID, model.NewEnvelope(model.EventQualityDegraded, model.QualityDegradedEvent{
			CallID: callID,
			UserID: d.userID,
			Score:  d.score,
		}))
	}
}

// ScoreFromPacketLoss maps a raw packet-loss percentage to a discrete 1-5 score.
func ScoreFromPacketLoss(loss float64) int {
	switch {
	case loss < 1:
		return 5
	case loss < 2.5:
		return 4
	case loss < 5:
		return 3
	case loss < 10:
		return 2
	default:
		return 1
	}
}
