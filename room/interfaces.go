package room

// Broadcaster is the fan-out contract consumed by the domain managers.
// Defined here to break the import cycle between room and broadcast.
type Broadcaster interface {
	// BroadcastToRoom delivers the event to every current subscriber of
	// the table's room, minus excludeSessionID when non-empty. Delivery
	// is best-effort and at-most-once.
	BroadcastToRoom(tableID, event string, data interface{}, excludeSessionID string) error
	// BroadcastToUser delivers the event to every live session of a user.
	BroadcastToUser(userID, event string, data interface{}) error
}
