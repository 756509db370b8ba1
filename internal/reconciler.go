package internal

// RequestUpdateLane picks the lane of an update on fiber. Fibers outside of concurrent mode
// always update synchronously.
func (w *WorkLoop) RequestUpdateLane(fiber *Fiber) Lane {
	if fiber.Mode&ConcurrentMode == NoMode {
		return SyncLane
	}

	if priority := w.tracker.CurrentUpdatePriority(); priority != NoLane {
		return priority
	}

	if priority := w.eventPriority.CurrentEventPriority(); priority != NoLane {
		return priority
	}
	return DefaultEventPriority
}

// UpdateContainer schedules the rendering of element into root and returns the lane it got.
func (w *WorkLoop) UpdateContainer(element any, root *Root) Lane {
	return w.DispatchUpdate(root.Current, UpdateState, &HostRootState{Element: element})
}

// DispatchUpdate enqueues an update carrying payload on fiber and schedules its root.
// Nothing is scheduled when fiber is no longer part of a mounted tree.
func (w *WorkLoop) DispatchUpdate(fiber *Fiber, tag UpdateTag, payload any) Lane {
	eventTime := w.scheduler.Now()
	lane := w.RequestUpdateLane(fiber)

	update := CreateUpdate(eventTime, lane)
	update.Tag = tag
	update.Payload = payload

	root := EnqueueUpdate(fiber, update, lane, w.queues)
	if root == nil {
		w.logger.Debug("update dropped, fiber has no root", "fiber", fiber.Tag, "lanes", lane)
		return lane
	}

	w.ScheduleUpdateOnFiber(root, fiber, lane, eventTime)
	return lane
}
