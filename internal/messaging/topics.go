package messaging

// Topic constants for the gateway messaging surface
const (
	// TopicShareEvents carries persisted share submissions for accounting
	TopicShareEvents = "gateway.share_events"
	// TopicBlockEvents carries chain-tip notifications from the block watcher
	TopicBlockEvents = "gateway.block_events"
	// TopicConnectionEvents carries downstream connect/disconnect events
	TopicConnectionEvents = "gateway.connection_events"
)
