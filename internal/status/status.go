// Package status identifies the role a connection plays in the gateway.
// The role is assigned once at pump construction and is used only to decide
// which shutdown scopes apply to the connection, never to route data.
package status

import "fmt"

// Role enumerates the fixed connection roles. New roles are added by
// extending this enumeration and the applicability checks that match on it.
type Role int

const (
	// RoleServer is the gateway's own listener-side bookkeeping.
	RoleServer Role = iota
	// RoleDownstream is a miner or sub-pool client connection.
	RoleDownstream
	// RoleTemplateReceiver is the upstream connection to the block-template
	// source. It must survive every downstream-scoped shutdown.
	RoleTemplateReceiver
)

// StatusType tags a connection with its role. DownstreamID is meaningful
// only when Role is RoleDownstream.
type StatusType struct {
	Role         Role
	DownstreamID uint64
}

// Server returns the server status tag.
func Server() StatusType {
	return StatusType{Role: RoleServer}
}

// Downstream returns the status tag for the downstream with the given id.
func Downstream(id uint64) StatusType {
	return StatusType{Role: RoleDownstream, DownstreamID: id}
}

// TemplateReceiver returns the upstream template-receiver status tag.
func TemplateReceiver() StatusType {
	return StatusType{Role: RoleTemplateReceiver}
}

// IsDownstream reports whether the status tags a downstream connection.
func (s StatusType) IsDownstream() bool {
	return s.Role == RoleDownstream
}

// IsTemplateReceiver reports whether the status tags the template receiver.
func (s StatusType) IsTemplateReceiver() bool {
	return s.Role == RoleTemplateReceiver
}

// String returns a diagnostic representation of the status.
func (s StatusType) String() string {
	switch s.Role {
	case RoleDownstream:
		return fmt.Sprintf("downstream(%d)", s.DownstreamID)
	case RoleTemplateReceiver:
		return "template_receiver"
	case RoleServer:
		return "server"
	default:
		return fmt.Sprintf("role(%d)", s.Role)
	}
}
