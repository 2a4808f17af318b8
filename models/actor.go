package models

type Role string

const (
	RoleMember Role = "member"
	RoleBoard  Role = "board"
	RoleAdmin  Role = "admin"
)

// Actor is the authenticated caller of a workflow.
type Actor struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	Staff     bool   `json:"staff"`
	Member    bool   `json:"member"`
	Superuser bool   `json:"superuser"`
}

func (a *Actor) IsAdmin() bool {
	return a != nil && (a.Superuser || a.Role == RoleAdmin)
}

// CanScan reports whether the actor may validate tickets at the door.
func (a *Actor) CanScan() bool {
	return a != nil && (a.IsAdmin() || a.Role == RoleBoard || a.Staff)
}
