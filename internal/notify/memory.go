package notify

import (
	"context"
	"strings"
	"sync"

	"github.com/iliyamo/storefront-identity/internal/model"
)

// TicketMail is a recorded ticket update.
type TicketMail struct {
	To     string
	Title  string
	Number string
	Status model.TicketStatus
}

// VerificationMail is a recorded verification message.
type VerificationMail struct {
	To    string
	Name  string
	Token string
}

// MemoryMailer records messages in memory. Err, when set, is returned from
// every send after recording the attempt.
type MemoryMailer struct {
	mu            sync.Mutex
	Err           error
	tickets       []TicketMail
	verifications []VerificationMail
}

func NewMemoryMailer() *MemoryMailer {
	return &MemoryMailer{}
}

func (m *MemoryMailer) SendTicketUpdated(_ context.Context, to, title, number string, status model.TicketStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets = append(m.tickets, TicketMail{To: to, Title: title, Number: number, Status: status})
	return m.Err
}

func (m *MemoryMailer) SendVerification(_ context.Context, to, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, VerificationMail{To: to, Name: name, Token: token})
	return m.Err
}

// SetErr changes the error returned by subsequent sends.
func (m *MemoryMailer) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

func (m *MemoryMailer) Tickets() []TicketMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TicketMail(nil), m.tickets...)
}

func (m *MemoryMailer) Verifications() []VerificationMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]VerificationMail(nil), m.verifications...)
}

// LastVerification returns the most recent verification mail sent to addr,
// compared case-insensitively.
func (m *MemoryMailer) LastVerification(addr string) (VerificationMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.verifications) - 1; i >= 0; i-- {
		if strings.EqualFold(m.verifications[i].To, addr) {
			return m.verifications[i], true
		}
	}
	return VerificationMail{}, false
}
