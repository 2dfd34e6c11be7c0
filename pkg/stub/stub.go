// Package stub holds the stub definitions the dispatcher resolves requests
// against, and the registry that stores them.
package stub

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/getfaultd/faultd/pkg/fault"
)

// Response describes what a matched stub returns. When Fault is anything
// other than fault.None the body and status are ignored and the fault
// injector takes over the connection.
type Response struct {
	// Status is the HTTP status code. Defaults to 200.
	Status int `json:"status,omitempty" yaml:"status,omitempty"`
	// Headers are written verbatim on the response.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Body is the response body.
	Body string `json:"body,omitempty" yaml:"body,omitempty"`
	// Fault selects a wire-level failure instead of a normal response.
	Fault fault.Directive `json:"fault,omitempty" yaml:"fault,omitempty"`
}

// Stub pairs request predicates with a response.
type Stub struct {
	// ID is assigned by the registry on registration.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Method matches exactly; empty matches any method.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	// Path is an exact path or a doublestar glob (e.g. /api/**).
	Path string `json:"path" yaml:"path"`
	// Headers must all be present with equal values on the request.
	Headers map[string]string `json:"matchHeaders,omitempty" yaml:"matchHeaders,omitempty"`
	// Response is returned when the predicates match.
	Response Response `json:"response" yaml:"response"`
}

// Validate checks the stub definition.
func (s *Stub) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("stub path is required")
	}
	if !strings.HasPrefix(s.Path, "/") {
		return fmt.Errorf("stub path must start with /, got %q", s.Path)
	}
	if !s.Response.Fault.Valid() {
		return fmt.Errorf("unknown fault directive %q", string(s.Response.Fault))
	}
	if s.Response.Status != 0 && (s.Response.Status < 100 || s.Response.Status > 599) {
		return fmt.Errorf("status %d out of range", s.Response.Status)
	}
	return nil
}

// matches reports whether the request satisfies every predicate, and the
// match score (higher is more specific).
func (s *Stub) matches(r *http.Request) (int, bool) {
	if s.Method != "" && !strings.EqualFold(s.Method, r.Method) {
		return 0, false
	}

	score := matchPath(s.Path, r.URL.Path)
	if score == 0 {
		return 0, false
	}
	if s.Method != "" {
		score += scoreMethodExact
	}

	for name, want := range s.Headers {
		if r.Header.Get(name) != want {
			return 0, false
		}
		score += scoreHeader
	}
	return score, true
}
