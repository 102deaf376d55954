package executor

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed      bool
	NeedsConfirm bool
	Reason       string
	Risk         RiskLevel
}

// Blocked reports whether the code must not run at all.
func (d Decision) Blocked() bool { return !d.Allowed && !d.NeedsConfirm }

// PermissionManager decides whether generated code may run.
type PermissionManager struct {
	// AutoAllowSafe runs read-only shell scripts without asking.
	AutoAllowSafe bool
}

// NewPermissionManager runs read-only shell scripts without asking and asks
// for everything else.
func NewPermissionManager() *PermissionManager {
	return &PermissionManager{AutoAllowSafe: true}
}

// CheckPermission assesses code and decides how to treat it.
func (pm *PermissionManager) CheckPermission(lang Language, code string) Decision {
	a := Assess(lang, code)
	switch a.Risk {
	case Safe:
		if pm.AutoAllowSafe {
			return Decision{Allowed: true, Reason: a.Why, Risk: a.Risk}
		}
		return Decision{NeedsConfirm: true, Reason: a.Why + " (auto-run disabled)", Risk: a.Risk}
	case NeedsConfirm:
		return Decision{NeedsConfirm: true, Reason: a.Why, Risk: a.Risk}
	}
	return Decision{Reason: "blocked: " + a.Why, Risk: Dangerous}
}
