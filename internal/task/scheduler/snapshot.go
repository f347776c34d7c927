package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:   s.cfg.Enabled,
		Timezone:  s.loc.String(),
		Reconcile: s.reconcileSpecLocked(),
	}
	if s.c != nil && s.entry != 0 {
		snap.NextReconcile = s.c.Entry(s.entry).Next
	}
	s.mu.Unlock()

	s.tmu.Lock()
	snap.Fired = s.fired
	snap.Reconciled = s.reconciled
	snap.LastReconcile = s.lastReconcile
	s.tmu.Unlock()

	snap.Pending = s.Pending()
	return snap
}
