package store

import (
	"strings"
)

// snippetContext is how many characters of context surround a match.
const snippetContext = 32

// SearchMessages scans message bodies for the query, newest first, optionally
// restricted to one conversation. Bodies are sealed at rest so there is no
// SQL-side text index; rows are decrypted and matched in memory until limit
// matches are found.
func (db *DB) SearchMessages(query, chatJID string, limit int) ([]SearchResult, error) {
	box, err := db.sealer()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if query == "" {
		return nil, nil
	}

	q := `
		SELECT id, chat_jid, msg_id, sender_jid, sender_name_enc, body_enc, kind, from_me, status, timestamp
		FROM messages`
	var args []any
	if chatJID != "" {
		q += ` WHERE chat_jid = ?`
		args = append(args, chatJID)
	}
	q += ` ORDER BY timestamp DESC, msg_id DESC`

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		m, err := scanMessage(rows, box)
		if err != nil {
			return nil, err
		}
		idx := indexFold(m.Body, query)
		if idx < 0 {
			continue
		}
		results = append(results, SearchResult{
			Message: *m,
			Snippet: snippet(m.Body, idx, len(query)),
		})
		if len(results) >= limit {
			break
		}
	}
	return results, rows.Err()
}

func snippet(body string, idx, matchLen int) string {
	start := idx - snippetContext
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + snippetContext
	if end > len(body) {
		end = len(body)
	}
	s := body[start:end]
	if start > 0 {
		s = "..." + s
	}
	if end < len(body) {
		s += "..."
	}
	return s
}

func indexFold(s, substr string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(substr))
}

func containsFold(s, substr string) bool {
	return indexFold(s, substr) >= 0
}
