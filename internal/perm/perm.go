// Package perm defines the graded permission levels a user can hold on a
// task list and their total order.
package perm

type Level int

// Levels are ordered: a higher level grants everything below it.
const (
	None Level = iota
	Read
	Write
	Owner
)

func (l Level) String() string {
	switch l {
	case Read:
		return "READ"
	case Write:
		return "WRITE"
	case Owner:
		return "OWNER"
	default:
		return "NONE"
	}
}

// AtLeast reports whether l grants everything min does.
func (l Level) AtLeast(min Level) bool {
	return l >= min
}

// Parse maps a stored permission value to a Level. Unknown values resolve
// to None rather than failing, so a corrupted row denies instead of grants.
func Parse(value string) Level {
	switch value {
	case "READ":
		return Read
	case "WRITE":
		return Write
	case "OWNER":
		return Owner
	default:
		return None
	}
}

// ValidShare reports whether value names a grantable share permission.
// Ownership is never granted through a share row.
func ValidShare(value string) bool {
	return value == "READ" || value == "WRITE"
}
