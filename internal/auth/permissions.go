package auth

const (
	RoleAdmin     = "ADMIN"
	RoleLibrarian = "LIBRARIAN"
	RoleMember    = "MEMBER"
)

const (
	PermBooksCreate = "books:create"
	PermBooksRead   = "books:read"
	PermBooksUpdate = "books:update"
	PermBooksDelete = "books:delete"

	PermBorrowsCreate  = "borrows:create"
	PermBorrowsReturn  = "borrows:return"
	PermBorrowsRead    = "borrows:read"
	PermBorrowsReadAll = "borrows:read_all"

	PermUsersRead   = "users:read"
	PermUsersManage = "users:manage"
)

// rolePermissions is the static capability set per role. ADMIN holds every
// permission.
var rolePermissions = map[string][]string{
	RoleAdmin: {
		PermBooksCreate, PermBooksRead, PermBooksUpdate, PermBooksDelete,
		PermBorrowsCreate, PermBorrowsReturn, PermBorrowsRead, PermBorrowsReadAll,
		PermUsersRead, PermUsersManage,
	},
	RoleLibrarian: {
		PermBooksCreate, PermBooksRead, PermBooksUpdate, PermBooksDelete,
		PermBorrowsRead, PermBorrowsReadAll,
		PermUsersRead,
	},
	RoleMember: {
		PermBooksRead,
		PermBorrowsCreate, PermBorrowsReturn, PermBorrowsRead,
	},
}

func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

func HasPermission(roles []string, permission string) bool {
	for _, role := range roles {
		for _, granted := range rolePermissions[role] {
			if granted == permission {
				return true
			}
		}
	}
	return false
}
