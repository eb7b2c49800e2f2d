package db

import (
	"context"
)

type Event struct {
	ID             string
	Kind           EventKind
	PostID         int64
	AttachmentID   int64
	AttachmentName string
	AuthorID       int64
	Point          int64
	CreatedAt      int64
}

const insertEvent = `-- name: InsertEvent :exec
insert into event (
    id, kind, post_id, attachment_id, attachment_name, author_id, point, created_at
) values (?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertEventParams struct {
	ID             string
	Kind           EventKind
	PostID         int64
	AttachmentID   int64
	AttachmentName string
	AuthorID       int64
	Point          int64
	CreatedAt      int64
}

func (q *Queries) InsertEvent(ctx context.Context, arg InsertEventParams) error {
	_, err := q.db.ExecContext(ctx, insertEvent,
		arg.ID,
		arg.Kind,
		arg.PostID,
		arg.AttachmentID,
		arg.AttachmentName,
		arg.AuthorID,
		arg.Point,
		arg.CreatedAt,
	)
	return err
}

const listEvents = `-- name: ListEvents :many
select id, kind, post_id, attachment_id, attachment_name, author_id, point, created_at from event
order by created_at desc, rowid desc
limit ?
`

func (q *Queries) ListEvents(ctx context.Context, limit int64) ([]Event, error) {
	rows, err := q.db.QueryContext(ctx, listEvents, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Event
	for rows.Next() {
		var i Event
		if err := rows.Scan(
			&i.ID,
			&i.Kind,
			&i.PostID,
			&i.AttachmentID,
			&i.AttachmentName,
			&i.AuthorID,
			&i.Point,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const sumPoints = `-- name: SumPoints :one
select coalesce(sum(point), 0) from event
where kind = 'purchase'
`

// SumPoints returns the site currency spent on purchases.
func (q *Queries) SumPoints(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, sumPoints)
	var total int64
	err := row.Scan(&total)
	return total, err
}
