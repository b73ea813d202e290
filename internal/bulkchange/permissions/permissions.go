package permissions

import "github.com/G-Research/bulkchange/internal/common/auth/permission"

// Global permission required before any bulk operation may be submitted.
const BulkChange permission.Permission = "bulk_change"

// Project scoped permissions checked per selected issue.
const (
	BrowseProject   permission.Permission = "browse_project"
	EditIssue       permission.Permission = "edit_issue"
	MoveIssue       permission.Permission = "move_issue"
	DeleteIssue     permission.Permission = "delete_issue"
	TransitionIssue permission.Permission = "transition_issue"
)
