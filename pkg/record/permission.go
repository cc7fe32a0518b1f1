package record

// OperatorPermission is a capability grantable within an operator log
// (§4.2). The only capability an operator log tracks is the
// ability to manage which keys may themselves grant/revoke permissions.
type OperatorPermission string

const OperatorPermissionCommit OperatorPermission = "commit"

// PackagePermission is a capability grantable within a package log
// (§4.2): publishing new releases, or yanking existing ones.
type PackagePermission string

const (
	PackagePermissionRelease PackagePermission = "release"
	PackagePermissionYank    PackagePermission = "yank"
)
