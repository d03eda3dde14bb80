// Package queue carries ticket notification jobs over RabbitMQ.
package queue

import "time"

// TicketUpdatedJob is published when a ticket changes status. It holds
// everything the worker needs to send the mail without querying the
// database.
type TicketUpdatedJob struct {
	TicketID   string    `json:"ticket_id"`
	Number     string    `json:"number"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	Recipient  string    `json:"recipient"`
	Attempt    int       `json:"attempt"` // failed deliveries so far
	EnqueuedAt time.Time `json:"enqueued_at"`
}
