package tracker

import (
	"resetwatch/core/store"
)

// Detect reports a reset when the previous snapshot was protected and the
// current one is available. A missing previous snapshot never detects.
func Detect(prev *store.StatusSnapshot, cur store.StatusSnapshot) (store.ResetFact, bool) {
	if prev == nil {
		return store.ResetFact{}, false
	}
	if prev.ProtectionAvailable || !cur.ProtectionAvailable {
		return store.ResetFact{}, false
	}
	return store.ResetFact{
		EntityID:   cur.EntityID,
		SnapshotID: cur.ID,
		ResetAt:    cur.CheckedAt,
		Confidence: store.DefaultConfidence,
		Method:     store.MethodStatusTransition,
	}, true
}

// previousOf picks the snapshot preceding cur out of a newest-first window.
func previousOf(window []store.StatusSnapshot, cur store.StatusSnapshot) *store.StatusSnapshot {
	for i := range window {
		if window[i].ID != cur.ID {
			prev := window[i]
			return &prev
		}
	}
	return nil
}
