package api

import (
	"tribevibe-cleanup/internal/models"
	"tribevibe-cleanup/internal/storageurl"
)

// plannedObject is one storage object owned by a tribe or one of its
// events. Both delete paths (queued and direct) start from the same plan.
type plannedObject struct {
	Ref     storageurl.Ref
	EventID *string
}

// planObjects collects the deletable objects for a tribe: its cover image
// and each event's banner. URLs that do not parse are skipped silently;
// an unparseable URL means nothing to delete, not an error.
func planObjects(tribe models.Tribe, events []models.Event) []plannedObject {
	var out []plannedObject
	if tribe.CoverURL != nil {
		if ref, ok := storageurl.Parse(*tribe.CoverURL); ok {
			out = append(out, plannedObject{Ref: ref})
		}
	}
	for _, e := range events {
		if e.BannerURL == nil {
			continue
		}
		if ref, ok := storageurl.Parse(*e.BannerURL); ok {
			eventID := e.ID
			out = append(out, plannedObject{Ref: ref, EventID: &eventID})
		}
	}
	return out
}

// groupByBucket splits planned objects into per-bucket key lists, keeping
// first-seen bucket order.
func groupByBucket(objects []plannedObject) (map[string][]string, []string) {
	keys := make(map[string][]string)
	var order []string
	for _, o := range objects {
		if _, seen := keys[o.Ref.Bucket]; !seen {
			order = append(order, o.Ref.Bucket)
		}
		keys[o.Ref.Bucket] = append(keys[o.Ref.Bucket], o.Ref.Path)
	}
	return keys, order
}
