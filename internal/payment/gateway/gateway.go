package gateway

import (
	"errors"
	"net/http"
	"sort"

	"github.com/dmehra2102/course-payments/internal/payment/domain"
	"github.com/dmehra2102/course-payments/internal/payment/signature"
)

// ErrIgnored marks deliveries that are valid but not about a payment.
var ErrIgnored = errors.New("notification type ignored")

type Gateway interface {
	Name() string
	// Extract pulls the signed inputs out of the request without trusting the body.
	Extract(r *http.Request, body []byte) (signature.Message, []string, error)
	Decode(r *http.Request, body []byte) (domain.Notification, error)
	MapStatus(declared string) (domain.Status, bool)
}

type Entry struct {
	Gateway  Gateway
	Verifier *signature.Verifier
}

type Registry struct {
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

func (r *Registry) Register(g Gateway, v *signature.Verifier) {
	r.entries[g.Name()] = Entry{Gateway: g, Verifier: v}
}

func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
