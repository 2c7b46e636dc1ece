package database

const (
	SortDateDesc  = "date_desc"
	SortDateAsc   = "date_asc"
	SortScoreDesc = "score_desc"
)

const DefaultSortOrder = SortDateDesc

// IsValidSortOrder checks if a string is a valid sort order constant
func IsValidSortOrder(order string) bool {
	switch order {
	case SortDateDesc, SortDateAsc, SortScoreDesc:
		return true
	default:
		return false
	}
}
