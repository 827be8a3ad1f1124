package models

type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingAccepted   BookingStatus = "accepted"
	BookingConfirmed  BookingStatus = "confirmed"
	BookingInProgress BookingStatus = "in-progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
	BookingDisputed   BookingStatus = "disputed"
)

type Role string

const (
	RoleClient       Role = "client"
	RoleProfessional Role = "professional"
	RoleBoth         Role = "both"
)

// StatusEntry is an immutable record of one booking transition.
type StatusEntry struct {
	Status    BookingStatus     `json:"status"`
	Actor     string            `json:"actor"`
	ActorRole Role              `json:"actorRole"`
	Timestamp int64             `json:"timestamp"` // Unix milliseconds
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type Booking struct {
	ID                 string        `json:"id"`
	ClientID           string        `json:"clientId"`
	ProfessionalID     string        `json:"professionalId"`
	Service            string        `json:"service,omitempty"`
	Status             BookingStatus `json:"status"`
	History            []StatusEntry `json:"history"`
	CancellationReason string        `json:"cancellationReason,omitempty"`
	CompletionNotes    string        `json:"completionNotes,omitempty"`
	CreatedAt          int64         `json:"createdAt"`
	UpdatedAt          int64         `json:"updatedAt"`
}

// Party returns the booking role userID plays, or "" when it is not a party.
func (b Booking) Party(userID string) Role {
	switch userID {
	case b.ClientID:
		return RoleClient
	case b.ProfessionalID:
		return RoleProfessional
	}
	return ""
}
