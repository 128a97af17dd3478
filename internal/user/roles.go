package user

import "repoport/internal/errs"

// Internal permission levels.
const (
	AccessGuest      = 10
	AccessReporter   = 20
	AccessDeveloper  = 30
	AccessMaintainer = 40
	AccessOwner      = 50
)

// roleAccessLevels maps the source's collaborator role names onto internal
// permission levels. The set is closed: custom roles are intentionally not
// guessed at.
var roleAccessLevels = map[string]int{
	"read":     AccessGuest,
	"triage":   AccessReporter,
	"write":    AccessDeveloper,
	"maintain": AccessMaintainer,
	"admin":    AccessOwner,
}

// AccessLevelForRole resolves a role name. An unmapped name is a
// NotRetriable error: it signals an unmodeled custom role, and importing it
// with a guessed permission level would be worse than skipping.
func AccessLevelForRole(role string) (int, error) {
	level, ok := roleAccessLevels[role]
	if !ok {
		return 0, errs.NotRetriable("access role %q has no mapping", role)
	}
	return level, nil
}
