package entity

// LiveRequest asks for one live asset to be brought current.
type LiveRequest struct {
	Slot         LiveSlot
	SourceURL    string
	MiddleLength int
}

// RequestGroup is the in-memory plan of everything to fetch and resolve for
// one catalog item in one run.
type RequestGroup struct {
	SourceName    string
	Section       Section
	Slug          string
	StatusLocator ResourceLocator
	Resources     []ResourceLocator
	Live          []LiveRequest

	// Updated carries the upstream last-updated marker, when the probe
	// exposed one.
	Updated string

	// NoChanges is set when the metadata probe found nothing new upstream.
	NoChanges bool

	// Err records an upstream contract violation; a group with a non-empty
	// Err is abandoned without any downloads.
	Err string
}

// Keys lists the status-document keys of all fixed resources in plan order.
func (g *RequestGroup) Keys() []string {
	keys := make([]string, 0, len(g.Resources))
	for _, loc := range g.Resources {
		keys = append(keys, loc.Key())
	}

	return keys
}
