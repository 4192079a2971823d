package dataset

import (
	"time"

	"github.com/hazyhaar/ripdb/pkg/aggregate"
	"github.com/hazyhaar/ripdb/pkg/images"
)

// Event types.
const (
	EventLoaded       = "dataset.loaded"
	EventActorUpdated = "actor.updated"
)

// Event notifies subscribers of a new snapshot or a patched actor.
type Event struct {
	Type       string           `json:"type"`
	Generation uint64           `json:"generation"`
	DataSource string           `json:"data_source,omitempty"`
	State      State            `json:"state,omitempty"`
	Actors     int              `json:"actors,omitempty"`
	Actor      *aggregate.Actor `json:"actor,omitempty"`
	At         time.Time        `json:"at"`
}

type update struct {
	event Event

	patch   bool
	gen     uint64
	actorID string
	image   *images.Image
}

// Subscribe registers fn for every future event and returns a function
// that removes it. fn runs on the service's writer goroutine and must not
// block.
func (s *Service) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Service) send(u update) {
	select {
	case s.updates <- u:
	case <-s.done:
	}
}

// run is the single writer for portrait patches and the only goroutine
// that delivers events.
func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case u := <-s.updates:
			if u.patch {
				ev, ok := s.applyPatch(u)
				if !ok {
					continue
				}
				u.event = ev
			}
			u.event.At = time.Now()
			s.publish(u.event)
		}
	}
}

// applyPatch records one portrait result against the current snapshot.
// Results for an older generation are dropped.
func (s *Service) applyPatch(u update) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.gen != s.gen {
		return Event{}, false
	}
	s.imagesDone++
	if u.image == nil {
		return Event{}, false
	}
	a, ok := s.snap.Actors[u.actorID]
	if !ok {
		return Event{}, false
	}
	a.HeadshotURL = u.image.URL
	a.HeadshotSource = aggregate.HeadshotWikipedia
	return Event{Type: EventActorUpdated, Generation: u.gen, Actor: a.Clone()}, true
}

func (s *Service) publish(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
