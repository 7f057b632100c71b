package hubspot

// Call outcome ids as configured in the portal's call disposition settings.
const (
	DispositionConnected     = "f240bbac-87c9-4f6e-bf70-924b57d47db7"
	DispositionVoicemail     = "b2cf5968-551e-4856-9783-52b3da59a7d0"
	DispositionLiveMessage   = "a4c4c377-d246-4b32-a13b-75a56a4cd0ff"
	DispositionNoAnswer      = "73a0d17f-1163-4015-bdd5-ec830791da20"
	DispositionBusy          = "9d9162e7-6cf3-4944-bf63-4dff82258764"
	DispositionWrongNumber   = "17b47fee-58de-441e-a44c-c6300d46f273"
	DispositionMeetingBooked = "be31a500-6cfd-4e74-8a31-c664d4615224"
	DispositionInterested    = "63eb96bc-75b7-4676-a109-3e0336f95f60"
	DispositionNotInterested = "7bad71c2-dd4b-4627-a3f4-947806c71982"
	DispositionNoRail        = "cc08f8e0-4c3b-4e42-97b3-54ff1fb7e7a1"
	DispositionReferral      = "d358b45c-2cc2-4d80-84d8-8569829a1248"
	DispositionWrongPerson   = "896c329d-ec2a-46ed-9c46-6770ed973d95"
)

var dispositionLabels = map[string]string{
	DispositionConnected:     "Connected",
	DispositionVoicemail:     "Left voicemail",
	DispositionLiveMessage:   "Left live message",
	DispositionNoAnswer:      "No answer",
	DispositionBusy:          "Busy",
	DispositionWrongNumber:   "Wrong number",
	DispositionMeetingBooked: "Meeting booked",
	DispositionInterested:    "Interested",
	DispositionNotInterested: "Not interested",
	DispositionNoRail:        "No rail",
	DispositionReferral:      "Referral",
	DispositionWrongPerson:   "Wrong person",
}

// DispositionLabel returns the portal label for a disposition id, or "" if
// the id is not one of ours.
func DispositionLabel(id string) string {
	return dispositionLabels[id]
}
