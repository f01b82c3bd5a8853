package store

// ApplyAdd inserts userID into the tag's reacting-user set with set
// semantics. Reports whether the map changed.
func ApplyAdd(reactions map[string][]string, tag, userID string) bool {
	for _, id := range reactions[tag] {
		if id == userID {
			return false
		}
	}
	reactions[tag] = append(reactions[tag], userID)
	return true
}

// ApplyRemove deletes userID from the tag's set, dropping the tag key when
// its set empties. Reports whether the map changed.
func ApplyRemove(reactions map[string][]string, tag, userID string) bool {
	ids, ok := reactions[tag]
	if !ok {
		return false
	}
	for i, id := range ids {
		if id != userID {
			continue
		}
		ids = append(ids[:i], ids[i+1:]...)
		if len(ids) == 0 {
			delete(reactions, tag)
		} else {
			reactions[tag] = ids
		}
		return true
	}
	return false
}
