package domain

type EventKind string

const (
	EventMinted     EventKind = "minted"
	EventTransfer   EventKind = "transfer"
	EventApproval   EventKind = "approval"
	EventProposed   EventKind = "proposed"
	EventChallenged EventKind = "challenged"
	EventVoted      EventKind = "voted"
	EventResolved   EventKind = "resolved"
	EventAccepted   EventKind = "accepted"
	EventRejected   EventKind = "rejected"
	EventClaimed    EventKind = "claimed"
	EventExited     EventKind = "exited"
)

// Event is a domain event raised by a successful transition. Fields that do
// not apply to a kind are left zero.
type Event struct {
	Kind         EventKind   `json:"kind"`
	Height       Height      `json:"height"`
	Account      AccountID   `json:"account,omitempty"`
	Counterparty AccountID   `json:"counterparty,omitempty"`
	Amount       Balance     `json:"amount,omitempty"`
	Listing      *Hash       `json:"listing,omitempty"`
	ChallengeID  ChallengeID `json:"challenge_id,omitempty"`
	Choice       Choice      `json:"choice,omitempty"`
	Outcome      Outcome     `json:"outcome,omitempty"`
}

// Emitter receives events while a transition runs.
type Emitter interface {
	Emit(Event)
}

// EventBuffer collects events so they can be published after commit and
// dropped if the transition fails.
type EventBuffer struct {
	events []Event
}

func (b *EventBuffer) Emit(e Event) {
	b.events = append(b.events, e)
}

func (b *EventBuffer) Events() []Event {
	return b.events
}

func (b *EventBuffer) Reset() {
	b.events = b.events[:0]
}

// Discard drops events. Useful for read-only wiring and tests.
type Discard struct{}

func (Discard) Emit(Event) {}
