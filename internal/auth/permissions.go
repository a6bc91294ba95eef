package auth

// Built-in permission names. The seed data creates them with these ids.
const (
	PermissionManageUsers = "ManageUsers"
	PermissionViewUsers   = "ViewUsers"
)

// Built-in roles.
const (
	RoleAdmin    = "Admin"
	RoleEmployee = "Employee"
)

// BuiltinRoles and BuiltinPermissions mirror ops/migrations/seeds.
var BuiltinRoles = []Role{
	{ID: 1, Name: RoleAdmin, Description: "System administrator"},
	{ID: 2, Name: RoleEmployee, Description: "Standard employee"},
}

var BuiltinPermissions = []Permission{
	{ID: 1, Name: PermissionManageUsers, Description: "Create, update and delete users", Module: "Users"},
	{ID: 2, Name: PermissionViewUsers, Description: "View users", Module: "Users"},
}

// BuiltinGrants lists the seeded (role, permission) pairs.
var BuiltinGrants = []Authorization{
	{RoleID: 1, PermissionID: 1},
	{RoleID: 1, PermissionID: 2},
}
