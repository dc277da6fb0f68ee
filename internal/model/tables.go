package model

// Output table directory names below the output root
const (
	SongsTable     = "songstables"
	ArtistsTable   = "artiststables"
	UsersTable     = "userstables"
	TimeTable      = "timetables"
	SongplaysTable = "songplays"
)

// Tables lists every output table in write order
var Tables = []string{SongsTable, ArtistsTable, UsersTable, TimeTable, SongplaysTable}

// Song is a row of the songs table
type Song struct {
	SongID   string   `parquet:"name=song_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Title    string   `parquet:"name=title, type=BYTE_ARRAY, convertedtype=UTF8"`
	ArtistID string   `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Year     *int32   `parquet:"name=year, type=INT32, repetitiontype=OPTIONAL"`
	Duration *float64 `parquet:"name=duration, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// Artist is a row of the artists table
type Artist struct {
	ArtistID        string   `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ArtistName      string   `parquet:"name=artist_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	ArtistLocation  *string  `parquet:"name=artist_location, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ArtistLatitude  *float64 `parquet:"name=artist_latitude, type=DOUBLE, repetitiontype=OPTIONAL"`
	ArtistLongitude *float64 `parquet:"name=artist_longitude, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// User is a row of the users table
type User struct {
	UserID    *string `parquet:"name=user_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	FirstName *string `parquet:"name=first_name, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	LastName  *string `parquet:"name=last_name, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Gender    *string `parquet:"name=gender, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Level     *string `parquet:"name=level, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

// TimeRow is a row of the time table. StartTime is epoch milliseconds.
type TimeRow struct {
	TsKey     int64 `parquet:"name=ts_key, type=INT64"`
	StartTime int64 `parquet:"name=start_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Hour      int32 `parquet:"name=hour, type=INT32"`
	Day       int32 `parquet:"name=day, type=INT32"`
	Week      int32 `parquet:"name=week, type=INT32"`
	Month     int32 `parquet:"name=month, type=INT32"`
	Year      int32 `parquet:"name=year, type=INT32"`
	Weekday   int32 `parquet:"name=weekday, type=INT32"`
}

// SongPlay is a row of the songplays fact table. SongID and ArtistID are nil
// when the event matched no catalog entry. UserID, Level and SessionID are nil
// when the event lacks them.
type SongPlay struct {
	TsKey     int64   `parquet:"name=ts_key, type=INT64"`
	StartTime int64   `parquet:"name=start_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	UserID    *string `parquet:"name=user_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Level     *string `parquet:"name=level, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	SongID    *string `parquet:"name=song_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ArtistID  *string `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	SessionID *int64  `parquet:"name=session_id, type=INT64, repetitiontype=OPTIONAL"`
	Location  *string `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	UserAgent *string `parquet:"name=user_agent, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}
