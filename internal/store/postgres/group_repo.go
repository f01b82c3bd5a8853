package postgres

import "context"

// GroupRepo implements store.GroupDirectory on PostgreSQL.
type GroupRepo struct{ db *DB }

// NewGroupRepo constructs a group directory repository.
func NewGroupRepo(db *DB) *GroupRepo { return &GroupRepo{db: db} }

const selectMembers = `SELECT user_id FROM group_members WHERE group_id=$1`

// MemberIDs returns the member ids of a group; empty when the group is
// unknown.
func (r *GroupRepo) MemberIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, selectMembers, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
