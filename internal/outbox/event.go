package outbox

// Event is the domain event envelope written to the outbox table inside the
// same transaction as the booking mutation it describes. The Kafka topic name
// equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	EventAppointmentBooked      = "citas.appointment.booked.v1"
	EventAppointmentConfirmed   = "citas.appointment.confirmed.v1"
	EventAppointmentRescheduled = "citas.appointment.rescheduled.v1"
	EventAppointmentCancelled   = "citas.appointment.cancelled.v1"
)
