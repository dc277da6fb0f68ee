// Package model declares the explicit schemas of the job's input records and
// the row types of the tables it writes.
package model

// SongRecord is one song metadata document of the song catalog. Fields not
// declared here are ignored on read.
type SongRecord struct {
	SongID          string   `json:"song_id" validate:"required"`
	Title           string   `json:"title" validate:"required"`
	ArtistID        string   `json:"artist_id" validate:"required"`
	ArtistName      string   `json:"artist_name" validate:"required"`
	ArtistLocation  *string  `json:"artist_location"`
	ArtistLatitude  *float64 `json:"artist_latitude"`
	ArtistLongitude *float64 `json:"artist_longitude"`
	Year            *int32   `json:"year"`
	Duration        *float64 `json:"duration"`
	NumSongs        *int64   `json:"num_songs"`
}

// LogEvent is one user activity event of the listening logs. Only events
// with Page == PageNextSong are song plays. Ts must be present (zero is a
// valid instant); the other columns load as null when absent.
type LogEvent struct {
	Artist        *string  `json:"artist"`
	Auth          *string  `json:"auth"`
	FirstName     *string  `json:"firstName"`
	Gender        *string  `json:"gender"`
	ItemInSession *int64   `json:"itemInSession"`
	LastName      *string  `json:"lastName"`
	Length        *float64 `json:"length"`
	Level         *string  `json:"level"`
	Location      *string  `json:"location"`
	Method        *string  `json:"method"`
	Page          string   `json:"page" validate:"required"`
	Registration  *float64 `json:"registration"`
	SessionID     *int64   `json:"sessionId"`
	Song          *string  `json:"song"`
	Status        *int64   `json:"status"`
	Ts            *int64   `json:"ts" validate:"required"`
	UserAgent     *string  `json:"userAgent"`
	UserID        *string  `json:"userId"`
}

// PageNextSong marks an event in which a song was played
const PageNextSong = "NextSong"

// Engine table names of the loaded inputs
const (
	SongDataTable    = "song_data"
	SongCatalogTable = "song_catalog"
	LogDataTable     = "log_data"
	EventsTable      = "events"
)
