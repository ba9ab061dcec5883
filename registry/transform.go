package registry

import "fleetreg/notify"

// transformBuffered applies the duplicate-suppression rule to the
// notifications a subscriber accumulated while its snapshot was being
// taken and replayed. snapshotIDs is the set of instance ids present in
// that snapshot.
//
//   - A buffered Add for an id already in the snapshot is redundant (the
//     subscriber already has an Add for it) and is dropped, UNLESS a
//     Delete for the same id also appears in the buffer — in that case
//     both the Add and the Delete pass through, since the holder was
//     removed and re-added while the subscription was being established.
//   - A buffered Modify for an id not in the snapshot means the
//     subscriber never received the id's creation; it is upgraded to an
//     Add so the consumer's view model stays self-consistent.
//   - A buffered Delete for an id not in the snapshot is a no-op from the
//     consumer's perspective and is dropped.
//   - Everything else passes through unchanged.
func transformBuffered(snapshotIDs map[string]bool, buffered []notify.Notification) []notify.Notification {
	deletedIDs := make(map[string]bool)
	for _, n := range buffered {
		if n.Kind == notify.Delete {
			deletedIDs[n.Info.ID] = true
		}
	}

	out := make([]notify.Notification, 0, len(buffered))
	for _, n := range buffered {
		switch n.Kind {
		case notify.Add:
			if snapshotIDs[n.Info.ID] && !deletedIDs[n.Info.ID] {
				continue
			}
			out = append(out, n)

		case notify.Modify:
			if !snapshotIDs[n.Info.ID] {
				out = append(out, notify.NewAdd(n.Info, n.Source, n.HolderVersion))
				continue
			}
			out = append(out, n)

		case notify.Delete:
			if !snapshotIDs[n.Info.ID] {
				continue
			}
			out = append(out, n)

		default:
			out = append(out, n)
		}
	}
	return out
}
