package store

import "database/sql"

// Description is the persisted rich-text field of an entity. A missing row and a
// NULL column are both reported as an invalid (null) string.
type Description = sql.NullString

// Entity tables that own a collaboratively edited description column.
const (
	tableTasks      = "tasks"
	tableEpics      = "epics"
	tableStories    = "stories"
	tableMilestones = "milestones"
)
