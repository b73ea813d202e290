package authorization

import (
	"context"

	"github.com/G-Research/bulkchange/internal/common/auth/permission"
)

// PermissionChecker answers global permission questions for the principal stored in ctx.
type PermissionChecker interface {
	UserHasPermission(ctx context.Context, perm permission.Permission) bool
}

// ProjectPermissionChecker answers permission questions scoped to a single project.
type ProjectPermissionChecker interface {
	UserHasProjectPermission(ctx context.Context, perm permission.Permission, projectId int64) bool
}

type PrincipalPermissionChecker struct {
	permissionGroupMap map[permission.Permission][]string
	projectGroupMap    map[int64]map[permission.Permission][]string
}

// NewPrincipalPermissionChecker creates a checker granting permissions by group membership.
// Project permissions fall back to permissionGroupMap for projects without an entry in projectGroupMap.
func NewPrincipalPermissionChecker(
	permissionGroupMap map[permission.Permission][]string,
	projectGroupMap map[int64]map[permission.Permission][]string,
) *PrincipalPermissionChecker {
	return &PrincipalPermissionChecker{
		permissionGroupMap: permissionGroupMap,
		projectGroupMap:    projectGroupMap,
	}
}

func (checker *PrincipalPermissionChecker) UserHasPermission(ctx context.Context, perm permission.Permission) bool {
	principal := GetPrincipal(ctx)
	return hasPermission(perm, checker.permissionGroupMap, principal.IsInGroup)
}

func (checker *PrincipalPermissionChecker) UserHasProjectPermission(ctx context.Context, perm permission.Permission, projectId int64) bool {
	principal := GetPrincipal(ctx)
	if projectMap, ok := checker.projectGroupMap[projectId]; ok {
		return hasPermission(perm, projectMap, principal.IsInGroup)
	}
	return hasPermission(perm, checker.permissionGroupMap, principal.IsInGroup)
}

func hasPermission(perm permission.Permission, permMap map[permission.Permission][]string, assert func(string) bool) bool {
	allowedValues, ok := permMap[perm]
	if !ok {
		return false
	}

	for _, value := range allowedValues {
		if assert(value) {
			return true
		}
	}
	return false
}
