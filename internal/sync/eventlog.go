package syncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Event types appended by the exam service.
const (
	TypeSessionCreated  = "SessionCreated"
	TypeSessionStarted  = "SessionStarted"
	TypeSessionPaused   = "SessionPaused"
	TypeSessionResumed  = "SessionResumed"
	TypeSessionFinished = "SessionFinished"
	TypeAttemptStarted  = "AttemptStarted"
	TypeAttemptFinished = "AttemptFinished"
)

type Event struct {
	Seq       int64  `json:"seq"`
	SiteID    string `json:"siteId"`
	Type      string `json:"type"`
	Key       string `json:"key"`
	DataJSON  string `json:"data"`
	CreatedAt int64  `json:"createdAt"`
}

// NewEvent encodes data as the event payload.
func NewEvent(typ, key string, data interface{}) (Event, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Event{}, errors.Wrapf(err, "encode %s payload", typ)
	}
	return Event{Type: typ, Key: key, DataJSON: string(b)}, nil
}

type SearchOpts struct {
	Type     string
	Key      string
	AfterSeq int64
	Limit    int
}

type EventRepo struct {
	db     *sql.DB
	siteID string
}

func NewEventRepo(db *sql.DB, siteID string) *EventRepo {
	if siteID == "" {
		siteID = "local"
	}
	return &EventRepo{db: db, siteID: siteID}
}

func (r *EventRepo) Append(ctx context.Context, e Event) error {
	if e.SiteID == "" {
		e.SiteID = r.siteID
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		e.SiteID, e.Type, e.Key, e.DataJSON, time.Now().UnixMilli())
	return errors.Wrap(err, "append event")
}

// Search returns events in append order.
func (r *EventRepo) Search(ctx context.Context, opts SearchOpts) ([]Event, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(col string, v interface{}) {
		args = append(args, v)
		where = append(where, col+"$"+strconv.Itoa(len(args)))
	}
	if opts.Type != "" {
		add("typ=", opts.Type)
	}
	if opts.Key != "" {
		add("key=", opts.Key)
	}
	if opts.AfterSeq > 0 {
		add("seq>", opts.AfterSeq)
	}
	q := `SELECT seq, site_id, typ, key, data, created_at FROM event_log`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	q += ` ORDER BY seq LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "search events")
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Seq, &e.SiteID, &e.Type, &e.Key, &e.DataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
