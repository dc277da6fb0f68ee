package transform

import (
	"context"

	"github.com/franz/sparkify-lake/internal/engine"
	"github.com/franz/sparkify-lake/internal/model"
	"github.com/franz/sparkify-lake/internal/storage"
	"github.com/franz/sparkify-lake/internal/util"
)

const (
	nextSongQuery = `SELECT * FROM log_data WHERE page = '` + model.PageNextSong + `'`

	usersQuery = `SELECT DISTINCT userId AS user_id, firstName AS first_name, lastName AS last_name, gender, level
FROM events`

	timeQuery = `SELECT DISTINCT ts AS ts_key, start_time,
	calendar_part('hour', start_time, ?1) AS hour,
	calendar_part('day', start_time, ?1) AS day,
	calendar_part('week', start_time, ?1) AS week,
	calendar_part('month', start_time, ?1) AS month,
	calendar_part('year', start_time, ?1) AS year,
	calendar_part('weekday', start_time, ?1) AS weekday
FROM events`

	// Song and artist names are matched exactly; events without a catalog
	// match keep null song and artist ids. Plays are not deduplicated.
	songplaysQuery = `SELECT e.ts AS ts_key, e.start_time, e.userId AS user_id, e.level,
	c.song_id, c.artist_id, e.sessionId AS session_id, e.location, e.userAgent AS user_agent
FROM events e
LEFT JOIN song_catalog c ON e.song = c.title AND e.artist = c.artist_name`
)

// ProcessLogData loads the event logs, keeps song plays and writes the users,
// time and songplays tables under out. The song catalog is read again for
// the songplays join.
func ProcessLogData(ctx context.Context, s *engine.Session, in Inputs, out storage.Location) (*Result, error) {
	util.InfoLog("Processing log data from %s", in.Logs())
	result := &Result{}

	load, err := engine.Load[model.LogEvent](ctx, s, model.LogDataTable, in.Logs())
	if err != nil {
		return result, err
	}
	result.Loads = append(result.Loads, load)

	if err := s.CreateTableAs(ctx, model.EventsTable, nextSongQuery); err != nil {
		return result, err
	}
	if n, err := s.Count(ctx, model.EventsTable); err == nil {
		util.DebugLog("%d of %d events are song plays", n, load.Rows)
	}

	users, err := engine.WriteTable[model.User](ctx, s, model.UsersTable, usersQuery, out.Join(model.UsersTable))
	if err != nil {
		return result, err
	}
	result.Writes = append(result.Writes, users)

	if _, err := s.Exec(ctx, `ALTER TABLE events ADD COLUMN start_time INTEGER`); err != nil {
		return result, err
	}
	if _, err := s.Exec(ctx, `UPDATE events SET start_time = `+FuncEpochMillisToTimestamp+`(ts)`); err != nil {
		return result, err
	}

	timeRows, err := engine.WriteTable[model.TimeRow](ctx, s, model.TimeTable, timeQuery, out.Join(model.TimeTable),
		s.TimeZone().String())
	if err != nil {
		return result, err
	}
	result.Writes = append(result.Writes, timeRows)

	catalog, err := engine.Load[model.SongRecord](ctx, s, model.SongCatalogTable, in.Songs())
	if err != nil {
		return result, err
	}
	result.Loads = append(result.Loads, catalog)

	songplays, err := engine.WriteTable[model.SongPlay](ctx, s, model.SongplaysTable, songplaysQuery, out.Join(model.SongplaysTable))
	if err != nil {
		return result, err
	}
	result.Writes = append(result.Writes, songplays)

	return result, nil
}
