// Package transform reshapes the song catalog and the listening event logs
// into the five analytics tables of the lake.
package transform

import (
	"context"

	"github.com/franz/sparkify-lake/internal/engine"
	"github.com/franz/sparkify-lake/internal/model"
	"github.com/franz/sparkify-lake/internal/storage"
	"github.com/franz/sparkify-lake/internal/util"
)

// Inputs locates the raw JSON data
type Inputs struct {
	Root     storage.Location
	SongGlob string
	LogGlob  string
}

// Songs returns the song catalog pattern
func (in Inputs) Songs() storage.Location { return in.Root.Join(in.SongGlob) }

// Logs returns the event log pattern
func (in Inputs) Logs() storage.Location { return in.Root.Join(in.LogGlob) }

// Result collects the loads and table writes of a transform
type Result struct {
	Loads  []*engine.LoadResult
	Writes []*engine.WriteResult
}

func (r *Result) merge(other *Result) {
	r.Loads = append(r.Loads, other.Loads...)
	r.Writes = append(r.Writes, other.Writes...)
}

const (
	songsQuery = `SELECT DISTINCT song_id, title, artist_id, year, duration FROM song_data`

	artistsQuery = `SELECT DISTINCT artist_id, artist_name, artist_location, artist_latitude, artist_longitude
FROM song_data`
)

// ProcessSongData loads the song catalog and writes the songs and artists
// tables under out
func ProcessSongData(ctx context.Context, s *engine.Session, in Inputs, out storage.Location) (*Result, error) {
	util.InfoLog("Processing song data from %s", in.Songs())
	result := &Result{}

	load, err := engine.Load[model.SongRecord](ctx, s, model.SongDataTable, in.Songs())
	if err != nil {
		return result, err
	}
	result.Loads = append(result.Loads, load)

	songs, err := engine.WriteTable[model.Song](ctx, s, model.SongsTable, songsQuery, out.Join(model.SongsTable))
	if err != nil {
		return result, err
	}
	result.Writes = append(result.Writes, songs)

	artists, err := engine.WriteTable[model.Artist](ctx, s, model.ArtistsTable, artistsQuery, out.Join(model.ArtistsTable))
	if err != nil {
		return result, err
	}
	result.Writes = append(result.Writes, artists)

	return result, nil
}

// ProcessAll runs the song transform and then the event transform
func ProcessAll(ctx context.Context, s *engine.Session, in Inputs, out storage.Location) (*Result, error) {
	result, err := ProcessSongData(ctx, s, in, out)
	if err != nil {
		return result, err
	}
	events, err := ProcessLogData(ctx, s, in, out)
	result.merge(events)
	return result, err
}
