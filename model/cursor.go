package model

import "time"

// Cursor is the opaque token the remote service uses to address the next
// page of a result set. The zero value means "initial load" (no token yet).
//
// Cursors order lexically within a single stream; the incremental log
// synchronizer relies on that to compare revisions.
type Cursor string

// IsInitial reports whether the cursor has no token, i.e. the next request
// is the first page.
func (c Cursor) IsInitial() bool {
	return c == ""
}

// Max returns the lexically larger of the two cursors.
func (c Cursor) Max(other Cursor) Cursor {
	if other > c {
		return other
	}
	return c
}

// PageQuery identifies one page request against a paginated source.
//
// Page is a zero-based index. CursorAnchor is a point-in-time reference
// that keeps relative ordering stable across repeated loads of the same
// page: items inserted after the anchor do not shift boundaries of pages
// fetched against it. Limit bounds the page size.
type PageQuery struct {
	Page         int
	CursorAnchor time.Time
	Limit        int
}

// Next returns the query for the page after q in the same anchor lineage.
func (q PageQuery) Next() PageQuery {
	return PageQuery{
		Page:         q.Page + 1,
		CursorAnchor: q.CursorAnchor,
		Limit:        q.Limit,
	}
}

// Offset returns the flat item offset of the first item of this page.
func (q PageQuery) Offset() int {
	return q.Page * q.Limit
}

// CursorList is one fetched page: the items in remote order plus the
// cursor for the page after it. A nil NextCursor marks the last page.
type CursorList[T any] struct {
	Items      []T
	NextCursor *Cursor
}
