package mcpconst

// JsonRpcMethod is a typed string for JSON-RPC method names.
type JsonRpcMethod string

// Defines the JSON-RPC methods the hub speaks with its peers.
const (
	Initialize               JsonRpcMethod = "initialize"
	NotificationsInitialized JsonRpcMethod = "notifications/initialized"
	NotificationsMessage     JsonRpcMethod = "notifications/message"
	ToolsList                JsonRpcMethod = "tools/list"
	ToolsCall                JsonRpcMethod = "tools/call"
	Ping                     JsonRpcMethod = "ping"
)

// IsNotification reports whether the method is sent without an id.
func (m JsonRpcMethod) IsNotification() bool {
	return len(m) > len(notificationPrefix) && string(m[:len(notificationPrefix)]) == notificationPrefix
}

const notificationPrefix = "notifications/"

// Handshake constants sent in every initialize request.
const (
	ProtocolVersion = "2025-11-05"
	ClientName      = "aidd-hub"
	ClientVersion   = "1.0.0"
)
