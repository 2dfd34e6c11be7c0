package stub

import (
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/getfaultd/faultd/pkg/fault"
)

// NotFoundResponse is returned when no stub matches a request.
var NotFoundResponse = Response{
	Status:  http.StatusNotFound,
	Headers: map[string]string{"Content-Type": "text/plain"},
	Body:    "No response could be served for this request",
}

// Registry stores stubs and resolves requests against them. Safe for
// concurrent use: the admin API registers stubs while the dispatcher
// resolves against them.
type Registry struct {
	mu    sync.RWMutex
	stubs []*Stub
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register validates the stub, assigns it an ID and stores it.
func (r *Registry) Register(s *Stub) (*Stub, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stubs = append(r.stubs, s)
	return s, nil
}

// All returns a snapshot of the registered stubs.
func (r *Registry) All() []*Stub {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Stub, len(r.stubs))
	copy(out, r.stubs)
	return out
}

// Remove deletes the stub with the given ID. Returns false if absent.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.stubs {
		if s.ID == id {
			r.stubs = append(r.stubs[:i], r.stubs[i+1:]...)
			return true
		}
	}
	return false
}

// Reset removes all stubs.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stubs = nil
}

// Resolve finds the most specific stub matching the request and returns its
// fault directive plus the response to write on the non-fault path.
// Unmatched requests resolve to NotFoundResponse with no fault. Ties go to
// the earliest registered stub.
func (r *Registry) Resolve(req *http.Request) (fault.Directive, *Response) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Stub
	bestScore := 0
	for _, s := range r.stubs {
		score, ok := s.matches(req)
		if ok && score > bestScore {
			best, bestScore = s, score
		}
	}

	if best == nil {
		resp := NotFoundResponse
		return fault.None, &resp
	}

	resp := best.Response
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	return resp.Fault, &resp
}
