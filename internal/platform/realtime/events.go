package realtime

// Rooms the backend scopes events to.
const (
	RoomQueue     = "queue"
	RoomAnalytics = "analytics"
)

// JoinEvent is the frame name used to join a room.
const JoinEvent = "join"

// Events consumed from the queue room.
const (
	EventQueueAdded           = "queue:added"
	EventQueueRemoved         = "queue:removed"
	EventQueueCountUpdated    = "queue:count-updated"
	EventDoctorAssigned       = "doctor:assigned"
	EventVitalsRecorded       = "vitals:recorded"
	EventConsultationComplete = "consultation:completed"
)

// Events consumed from the analytics room.
const (
	EventPatientRegistered   = "analytics:patient-registered"
	EventAnalyticsVitals     = "analytics:vitals-recorded"
	EventMedicineDistributed = "analytics:medicine-distributed"
)

// QueueEvents lists every event a queue view reacts to.
var QueueEvents = []string{
	EventQueueAdded,
	EventQueueRemoved,
	EventQueueCountUpdated,
	EventDoctorAssigned,
	EventVitalsRecorded,
	EventConsultationComplete,
}

// AnalyticsEvents lists every event a dashboard reacts to.
var AnalyticsEvents = []string{
	EventPatientRegistered,
	EventAnalyticsVitals,
	EventMedicineDistributed,
}

// RoomOf returns the room an event name belongs to, or "".
func RoomOf(event string) string {
	for _, e := range QueueEvents {
		if e == event {
			return RoomQueue
		}
	}
	for _, e := range AnalyticsEvents {
		if e == event {
			return RoomAnalytics
		}
	}
	return ""
}
