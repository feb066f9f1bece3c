package rbac

// Permissions checked by the HTTP layer.
const (
	PermSessionView        = "session:view"
	PermSessionManage      = "session:manage"
	PermContentView        = "content:view"
	PermContentManage      = "content:manage"
	PermAttemptCreate      = "attempt:create"
	PermAttemptSave        = "attempt:save"
	PermAttemptSubmit      = "attempt:submit"
	PermAttemptViewOwn     = "attempt:view-own"
	PermAttemptViewAll     = "attempt:view-all"
	PermResultsExport      = "results:export"
	PermUsersManage        = "users:manage"
	PermProfileView        = "profile:view"
	PermUserChangePassword = "user:change_password"
	PermAuditView          = "audit:view"
	PermAssetsView         = "assets:view"
)

// RolePermissions is the default policy. A trailing "*" matches any suffix.
var RolePermissions = map[string][]string{
	"student": {
		PermSessionView,
		PermContentView,
		PermAttemptCreate,
		PermAttemptSave,
		PermAttemptSubmit,
		PermAttemptViewOwn,
		PermProfileView,
		PermUserChangePassword,
		PermAssetsView,
	},
	"admin": {
		"*",
	},
}
