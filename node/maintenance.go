package node

import "context"

// maintenanceTick runs the periodic housekeeping sweep: ban/discourage
// expiry, orphan-header expiry and advancing the header-sync driver, per
// network_manager.hpp's maintenance_timer_.
func (c *Coordinator) maintenanceTick(ctx context.Context) error {
	start := c.clock.Now()
	c.mgr.Sweep()
	c.store.ExpireOrphans()
	c.sync.SyncTick(c.mgr)
	stat.NewStat("MaintenanceTick").AddTime(start)
	return nil
}
