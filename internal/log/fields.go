package log

// Canonical field names.
const (
	FieldComponent = "component"
	FieldEvent     = "event"
	FieldCardID    = "card_id"
	FieldEntityID  = "entity_id"
	FieldStream    = "stream"
	FieldTransport = "transport"
	FieldLocator   = "locator"
	FieldRelay     = "relay"
	FieldPlatform  = "platform"
	FieldReason    = "reason"
	FieldOldState  = "old_state"
	FieldNewState  = "new_state"
	FieldOverlayID = "overlay_id"
)
