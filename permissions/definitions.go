package permissions

const (
	StudentsManage   = "students.manage"
	AttendanceMark   = "attendance.mark"
	AttendanceEdit   = "attendance.edit"
	AttendanceView   = "attendance.view"
	ReviewView       = "review.view"
	ReviewAdjudicate = "review.adjudicate"
	Admin            = "admin"
)

// PermissionDefinition describes a single, specific permission
type PermissionDefinition struct {
	Key         string `json:"key"`         // unique key, e.g., "review.adjudicate"
	Name        string `json:"name"`        // friendly name
	Description string `json:"description"` // what the permission allows
}

// PermissionGroupDefinition groups related permissions
type PermissionGroupDefinition struct {
	Key         string                 `json:"key"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Permissions []PermissionDefinition `json:"permissions"`
}

// DefinedPermissionGroups holds all statically defined permission groups and their permissions
var DefinedPermissionGroups = []PermissionGroupDefinition{
	{
		Key:         "students",
		Name:        "Students",
		Description: "Student records and face enrollment.",
		Permissions: []PermissionDefinition{
			{
				Key:         StudentsManage,
				Name:        "Manage Students",
				Description: "Create and delete students, enroll and remove face samples.",
			},
		},
	},
	{
		Key:         "attendance",
		Name:        "Attendance",
		Description: "Marking and correcting attendance.",
		Permissions: []PermissionDefinition{
			{
				Key:         AttendanceMark,
				Name:        "Mark Attendance",
				Description: "Submit classroom photos or video for recognition.",
			},
			{
				Key:         AttendanceEdit,
				Name:        "Correct Attendance",
				Description: "Manually set the attendance status of a student for a date.",
			},
			{
				Key:         AttendanceView,
				Name:        "View Attendance",
				Description: "List attendance entries.",
			},
		},
	},
	{
		Key:         "review",
		Name:        "Face Review",
		Description: "Review and unrecognized face queues.",
		Permissions: []PermissionDefinition{
			{
				Key:         ReviewView,
				Name:        "View Queues",
				Description: "List review and unrecognized items.",
			},
			{
				Key:         ReviewAdjudicate,
				Name:        "Adjudicate Faces",
				Description: "Confirm, reassign, assign or discard queued faces.",
			},
		},
	},
	{
		Key:         "system",
		Name:        "System",
		Description: "Full access.",
		Permissions: []PermissionDefinition{
			{
				Key:         Admin,
				Name:        "Administrator",
				Description: "Grants every permission.",
			},
		},
	},
}

var (
	allPermissionKeysMap map[string]PermissionDefinition
	allPermissionKeys    []string
)

func init() {
	allPermissionKeysMap = make(map[string]PermissionDefinition)
	for _, group := range DefinedPermissionGroups {
		for _, perm := range group.Permissions {
			allPermissionKeysMap[perm.Key] = perm
			allPermissionKeys = append(allPermissionKeys, perm.Key)
		}
	}
}

// GetAllPermissionKeys returns a slice of all unique permission string keys
func GetAllPermissionKeys() []string {
	keys := make([]string, len(allPermissionKeys))
	copy(keys, allPermissionKeys)
	return keys
}

// IsValidPermissionKey checks if a given permission key is defined
func IsValidPermissionKey(key string) bool {
	_, ok := allPermissionKeysMap[key]
	return ok
}
