package model

import "time"

// Roles recognised by the back office.  Role is a flat string; nothing in
// the auth core interprets it beyond equality checks.
const (
    RoleAdmin      = "admin"
    RoleSuperAdmin = "super_admin"
)

// Account represents an administrative user as stored in the `admins`
// table.  SecretHash holds a bcrypt digest and is never serialised: there
// are deliberately no json tags on this struct; handlers expose accounts
// only through Summary.
//
// Fields:
//  ID          – primary key identifier.
//  Identifier  – unique, lower-cased e-mail address used to log in.
//  Name        – display name.
//  Role        – flat role string (admin, super_admin).
//  SecretHash  – bcrypt hash of the secret.
//  Active      – deactivated accounts can neither log in nor keep a session.
//  LastLoginAt – last successful authentication (nil until the first login).
//  CreatedAt   – timestamp of creation.
//  UpdatedAt   – timestamp of last update.
type Account struct {
    ID          uint64     // admins.id
    Identifier  string     // admins.email
    Name        string     // admins.name
    Role        string     // admins.role
    SecretHash  string     // admins.password_hash
    Active      bool       // admins.is_active
    LastLoginAt *time.Time // admins.last_login_at (nullable)
    CreatedAt   time.Time  // admins.created_at
    UpdatedAt   time.Time  // admins.updated_at
}

// AccountSummary is the public projection returned by the auth endpoints.
type AccountSummary struct {
    ID          uint64     `json:"id"`
    Identifier  string     `json:"identifier"`
    Name        string     `json:"name"`
    Role        string     `json:"role"`
    Active      bool       `json:"active"`
    LastLoginAt *time.Time `json:"last_login_at,omitempty"`
    CreatedAt   time.Time  `json:"created_at"`
}

// Summary projects an account to its outward-facing shape.
func (a Account) Summary() AccountSummary {
    return AccountSummary{
        ID:          a.ID,
        Identifier:  a.Identifier,
        Name:        a.Name,
        Role:        a.Role,
        Active:      a.Active,
        LastLoginAt: a.LastLoginAt,
        CreatedAt:   a.CreatedAt,
    }
}
