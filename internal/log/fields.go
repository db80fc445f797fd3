package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRunID       = "run_id"
	FieldFingerprint = "fingerprint"
	FieldDeviceID    = "device_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStage     = "stage"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath     = "path"
	FieldDataDir  = "data_dir"
	FieldDatabase = "database"

	// Detection fields
	FieldEventType = "event_type"
	FieldEpisodes  = "episodes"
	FieldDuration  = "duration_s"
)
