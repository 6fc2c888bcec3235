package domain

import "time"

// ClientInfo describes a connected remote client.
type ClientInfo struct {
	ID          string
	ClientType  string
	RemoteAddr  string
	ConnectedAt time.Time
}

// ConnectionRegistry is the transport the router delegates through.
// Implemented by the gateway hub; the router never touches sockets.
type ConnectionRegistry interface {
	Send(clientID string, text []byte) error
	ActiveClientIDs() []string
	ClientInfo(clientID string) (ClientInfo, bool)
}

// DesktopClientTypes are the client types capable of executing desktop
// actions. Target resolution scans connected clients for one of these.
var DesktopClientTypes = map[string]bool{
	"dual_screen_desktop":           true,
	"desktop_capture":               true,
	"multi_monitor_desktop_capture": true,
	"desktop":                       true,
}
