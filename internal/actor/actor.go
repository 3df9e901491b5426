// Package actor carries the authenticated caller's identity. Authentication
// itself happens upstream; every service call receives the actor explicitly
// instead of reading ambient session state.
package actor

import "github.com/bwmarrin/snowflake"

type Role string

const (
	RoleClient    Role = "client"
	RoleProvider  Role = "provider"
	RoleMarketing Role = "marketing"
	RoleAdmin     Role = "admin"
)

type Actor struct {
	ID   snowflake.ID
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
