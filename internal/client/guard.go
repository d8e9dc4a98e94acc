package client

// Capability — требование маршрута к пользователю.
type Capability int

const (
	// CapabilityView — любой вошедший пользователь
	CapabilityView Capability = iota
	// CapabilityAdmin — только администратор
	CapabilityAdmin
)

// Decision — решение guard для маршрута.
type Decision string

const (
	Allow             Decision = "allow"
	RedirectLogin     Decision = "redirect_login"
	RedirectDashboard Decision = "redirect_dashboard"
	// Pending — сессия ещё не разрешена, решение откладывается
	Pending Decision = "pending"
)

// Guard решает, можно ли открыть маршрут с требованием c.
func Guard(snap Snapshot, c Capability) Decision {
	switch {
	case snap.State == StateUnresolved:
		return Pending
	case snap.State != StateAuthenticated || snap.User == nil:
		return RedirectLogin
	case c == CapabilityAdmin && !snap.User.IsAdmin():
		return RedirectDashboard
	default:
		return Allow
	}
}
