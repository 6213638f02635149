package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionMediaUpload allows uploading media files.
	PermissionMediaUpload Permission = "media:upload"

	// PermissionStudentsRead allows viewing student lists and details.
	PermissionStudentsRead Permission = "students:read"

	// PermissionStudentsWrite allows creating, updating and deleting students.
	PermissionStudentsWrite Permission = "students:write"

	// PermissionStudentsResetSession allows resetting a student's active session.
	PermissionStudentsResetSession Permission = "students:reset_session"

	// PermissionExamsRead allows viewing exam lists and details.
	PermissionExamsRead Permission = "exams:read"

	// PermissionExamsWriteOwn allows creating exams and updating own exams.
	PermissionExamsWriteOwn Permission = "exams:write_own"

	// PermissionExamsWriteAll allows updating any exam regardless of author.
	PermissionExamsWriteAll Permission = "exams:write_all"

	// PermissionExamsPublish allows publishing and archiving exams.
	PermissionExamsPublish Permission = "exams:publish"

	// PermissionGradingWrite allows managing rubrics and grading manual answers.
	PermissionGradingWrite Permission = "grading:write"

	// PermissionResultsRead allows viewing and exporting attempt results.
	PermissionResultsRead Permission = "results:read"

	// PermissionMonitorRead allows watching live exam monitors.
	PermissionMonitorRead Permission = "monitor:read"

	// PermissionProctoringRead allows viewing proctoring sessions and events.
	PermissionProctoringRead Permission = "proctoring:read"

	// PermissionAttemptsControl allows extending and terminating attempts.
	PermissionAttemptsControl Permission = "attempts:control"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionMediaUpload,
	PermissionStudentsRead,
	PermissionStudentsWrite,
	PermissionStudentsResetSession,
	PermissionExamsRead,
	PermissionExamsWriteOwn,
	PermissionExamsWriteAll,
	PermissionExamsPublish,
	PermissionGradingWrite,
	PermissionResultsRead,
	PermissionMonitorRead,
	PermissionProctoringRead,
	PermissionAttemptsControl,
}
