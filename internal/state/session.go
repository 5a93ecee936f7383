package state

import (
	"database/sql"
	"errors"

	"github.com/lmorel/substream/internal/catalog"
	dbutil "github.com/lmorel/substream/internal/db"
)

// Session is the persisted listening session.
type Session struct {
	Volume       float64
	RepeatMode   int
	Shuffle      bool
	CurrentIndex int
	Tracks       []catalog.Track
}

func getSession(db *sql.DB) (*Session, error) {
	s := &Session{Volume: 1.0, CurrentIndex: -1}

	row := db.QueryRow(`SELECT volume, repeat_mode, shuffle, current_index FROM session WHERE id = 1`)
	err := row.Scan(&s.Volume, &s.RepeatMode, &s.Shuffle, &s.CurrentIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT track_id, title, artist, album, album_id, track_number, duration_seconds, suffix
		FROM queue_tracks
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t catalog.Track
		var artist, album, albumID, suffix sql.NullString
		var trackNumber, duration sql.NullInt64

		if err := rows.Scan(&t.ID, &t.Title, &artist, &album, &albumID, &trackNumber, &duration, &suffix); err != nil {
			return nil, err
		}
		t.Artist = dbutil.NullStringValue(artist)
		t.Album = dbutil.NullStringValue(album)
		t.AlbumID = dbutil.NullStringValue(albumID)
		t.TrackNumber = int(dbutil.NullInt64Value(trackNumber))
		t.DurationSeconds = int(dbutil.NullInt64Value(duration))
		t.Suffix = dbutil.NullStringValue(suffix)
		s.Tracks = append(s.Tracks, t)
	}
	return s, rows.Err()
}

func saveSession(sqlDB *sql.DB, s Session) error {
	return dbutil.WithTx(sqlDB, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM queue_tracks`); err != nil {
			return err
		}

		_, err := tx.Exec(`
			INSERT INTO session (id, volume, repeat_mode, shuffle, current_index)
			VALUES (1, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				volume = excluded.volume,
				repeat_mode = excluded.repeat_mode,
				shuffle = excluded.shuffle,
				current_index = excluded.current_index
		`, s.Volume, s.RepeatMode, s.Shuffle, s.CurrentIndex)
		if err != nil {
			return err
		}

		stmt, err := tx.Prepare(`
			INSERT INTO queue_tracks (position, track_id, title, artist, album, album_id, track_number, duration_seconds, suffix)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, t := range s.Tracks {
			_, err = stmt.Exec(i, t.ID, t.Title, t.Artist, t.Album, t.AlbumID, t.TrackNumber, t.DurationSeconds, t.Suffix)
			if err != nil {
				return err
			}
		}
		return nil
	})
}
