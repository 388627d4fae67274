// Package waitingroom implements a ticket-ordered mutual-exclusion queue.
// Callers join a named room, poll until their ticket reaches the head, do
// their work and treat the ticket. The primitive is cooperative: it never
// wakes callers itself, the polling and backoff strategy belongs to them.
package waitingroom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cryptoStalkerBot/internal/domain"
)

// Rooms holds any number of named rooms, each an ordered sequence of opaque
// ticket identifiers. Only the ticket at the head of a room may be treated;
// tickets leave the room exactly once, either treated or by quitting. Safe
// for concurrent use.
type Rooms struct {
	mu    sync.Mutex
	rooms map[string][]string
}

// New creates an empty set of rooms.
func New() *Rooms {
	return &Rooms{rooms: make(map[string][]string)}
}

// JoinRoom appends a ticket to the tail of the named room and returns it.
// When ticket is empty a fresh one is generated.
func (r *Rooms) JoinRoom(room, ticket string) string {
	if ticket == "" {
		ticket = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room] = append(r.rooms[room], ticket)
	return ticket
}

// MyTurn reports whether the ticket is at the head of the room. Fails with
// ErrNotFound when the room is empty or the ticket is unknown.
func (r *Rooms) MyTurn(room, ticket string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.rooms[room]
	if len(queue) == 0 {
		return false, fmt.Errorf("%w: room %q is empty", domain.ErrNotFound, room)
	}
	for _, t := range queue {
		if t == ticket {
			return queue[0] == ticket, nil
		}
	}
	return false, fmt.Errorf("%w: ticket %s not in room %q", domain.ErrNotFound, ticket, room)
}

// TreatTicket removes the ticket from the head of the room. Fails with
// ErrState when it is not the ticket's turn.
func (r *Rooms) TreatTicket(room, ticket string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.rooms[room]
	if len(queue) == 0 || queue[0] != ticket {
		return fmt.Errorf("%w: it is not ticket %s's turn in room %q", domain.ErrState, ticket, room)
	}
	r.dequeue(room, queue[1:])
	return nil
}

// QuitRoom removes the ticket from anywhere in the room's sequence, for
// callers that cancel without ever being served. Fails with ErrNotFound when
// the ticket is not waiting.
func (r *Rooms) QuitRoom(room, ticket string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.rooms[room]
	for i, t := range queue {
		if t == ticket {
			r.dequeue(room, append(queue[:i:i], queue[i+1:]...))
			return nil
		}
	}
	return fmt.Errorf("%w: ticket %s not in room %q", domain.ErrNotFound, ticket, room)
}

// Len returns the number of tickets waiting in the room.
func (r *Rooms) Len(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}

// dequeue stores the remaining queue, dropping empty rooms from the map.
// Callers must hold r.mu.
func (r *Rooms) dequeue(room string, rest []string) {
	if len(rest) == 0 {
		delete(r.rooms, room)
		return
	}
	r.rooms[room] = rest
}

// Await joins the room (generating a ticket) and polls MyTurn until served or
// the context expires. On success the caller holds the head of the room and
// must call TreatTicket with the returned ticket when done. On failure the
// ticket has already been removed.
func (r *Rooms) Await(ctx context.Context, room string, poll time.Duration) (string, error) {
	ticket := r.JoinRoom(room, "")
	for {
		turn, err := r.MyTurn(room, ticket)
		if err != nil {
			return "", err
		}
		if turn {
			return ticket, nil
		}
		select {
		case <-ctx.Done():
			_ = r.QuitRoom(room, ticket)
			return "", ctx.Err()
		case <-time.After(poll):
		}
	}
}
