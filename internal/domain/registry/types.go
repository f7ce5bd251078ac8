package registry

import "github.com/mlanders/beacon-tv-remote-backend/internal/infra/store"

// DeviceView is the client-facing merge of one logical device's scan and
// store state. Online is nil when status has not been verified yet
// (initial listing before discovery runs).
type DeviceView struct {
	Name              string   `json:"name"`
	Address           string   `json:"address"`
	DeviceID          string   `json:"device_id"`
	Services          []string `json:"services"`
	PairedProtocols   []string `json:"paired_protocols"`
	UnpairedProtocols []string `json:"unpaired_protocols"`
	Paired            bool     `json:"paired"`
	Online            *bool    `json:"online"`
}

// recordGroup is a set of durable records considered to belong to one
// logical device: records sharing any device_id, or sharing
// (address, name), merge into one group.
type recordGroup struct {
	records []store.DeviceRecord
}

// representative returns the record used for a group's display identity.
func (g *recordGroup) representative() store.DeviceRecord {
	return g.records[0]
}

// protocols returns the paired protocol names in record order.
func (g *recordGroup) protocols() []string {
	protos := make([]string, 0, len(g.records))
	for _, rec := range g.records {
		protos = append(protos, rec.Protocol)
	}
	return protos
}

// hasIdentity reports whether any record in the group carries the id.
func (g *recordGroup) hasIdentity(id string) bool {
	for _, rec := range g.records {
		if rec.DeviceID == id {
			return true
		}
	}
	return false
}

// groupRecords partitions durable records into logical devices. Records
// are merged transitively: first by shared device_id, then by shared
// (address, name).
func groupRecords(records []store.DeviceRecord) []*recordGroup {
	groupByKey := make(map[string]*recordGroup)
	var groups []*recordGroup

	keysFor := func(rec store.DeviceRecord) []string {
		return []string{
			"id|" + rec.DeviceID,
			"an|" + rec.Address + "|" + rec.Name,
		}
	}

	for _, rec := range records {
		var target *recordGroup
		for _, key := range keysFor(rec) {
			if g, ok := groupByKey[key]; ok {
				if target == nil {
					target = g
				} else if target != g {
					// Merge g into target.
					target.records = append(target.records, g.records...)
					for k, v := range groupByKey {
						if v == g {
							groupByKey[k] = target
						}
					}
					for i, cand := range groups {
						if cand == g {
							groups = append(groups[:i], groups[i+1:]...)
							break
						}
					}
				}
			}
		}

		if target == nil {
			target = &recordGroup{}
			groups = append(groups, target)
		}
		target.records = append(target.records, rec)
		for _, key := range keysFor(rec) {
			groupByKey[key] = target
		}
	}

	return groups
}
