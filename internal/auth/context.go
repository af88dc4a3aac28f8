package auth

import (
	"context"
	"sync"

	"github.com/kwhitfield/bastion/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const subjectHolderKey contextKey = "subject_holder"

// subjectHolder is the per-request binding slot for the authenticated
// subject. The holder is mutable so the gateway can clear the binding on
// every exit path even though context values themselves are immutable; an
// execution environment that reuses base contexts must never surface a
// subject from an earlier request.
type subjectHolder struct {
	mu      sync.Mutex
	subject *models.Subject
}

func (h *subjectHolder) get() *models.Subject {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subject
}

func (h *subjectHolder) set(sub *models.Subject) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subject = sub
}

// clear removes the binding and returns whatever was bound.
func (h *subjectHolder) clear() *models.Subject {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.subject
	h.subject = nil
	return prev
}

// WithSubjectHolder returns a context carrying a fresh, empty binding slot.
func WithSubjectHolder(ctx context.Context) context.Context {
	return context.WithValue(ctx, subjectHolderKey, &subjectHolder{})
}

func holderFrom(ctx context.Context) *subjectHolder {
	h, _ := ctx.Value(subjectHolderKey).(*subjectHolder)
	return h
}

// BindSubject binds sub to the request's execution context. It reports
// false when the context carries no binding slot.
func BindSubject(ctx context.Context, sub *models.Subject) bool {
	h := holderFrom(ctx)
	if h == nil {
		return false
	}
	h.set(sub)
	return true
}

// UnbindSubject clears any bound subject and returns what was bound.
func UnbindSubject(ctx context.Context) *models.Subject {
	h := holderFrom(ctx)
	if h == nil {
		return nil
	}
	return h.clear()
}

// SubjectFromContext returns the subject bound to the current request, or
// nil when the request is anonymous.
func SubjectFromContext(ctx context.Context) *models.Subject {
	h := holderFrom(ctx)
	if h == nil {
		return nil
	}
	return h.get()
}
