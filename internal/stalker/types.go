package stalker

import (
	"bytes"
	"encoding/json"
)

// ID is a portal-assigned identifier. Portals emit these as strings or bare
// numbers depending on middleware version, so decoding accepts both.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Number is an integer field that portals send as a number, a numeric
// string, or an empty string.
type Number int64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*n = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		b = b[1 : len(b)-1]
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		*n = 0
		return nil
	}
	i, err := num.Int64()
	if err != nil {
		f, ferr := num.Float64()
		if ferr != nil {
			*n = 0
			return nil
		}
		i = int64(f)
	}
	*n = Number(i)
	return nil
}

// Profile is the raw STB profile payload. The core treats it as opaque; only
// its presence matters for credential verification.
type Profile map[string]any

// Channel is a live channel descriptor as the portal reports it. Read-only
// projection: the core parses and forwards, never mutates.
type Channel struct {
	ID               ID     `json:"id"`
	Name             string `json:"name"`
	Number           Number `json:"number"`
	Logo             string `json:"logo"`
	Cmd              string `json:"cmd"`
	GenreID          ID     `json:"tv_genre_id"`
	UseHTTPTmpLink   Number `json:"use_http_tmp_link"`
	UseLoadBalancing Number `json:"use_load_balancing"`
}

// Genre doubles as a VOD/series category; both arrive with the same shape.
type Genre struct {
	ID    ID     `json:"id"`
	Title string `json:"title"`
	Alias string `json:"alias"`
}

// Movie is a VOD title descriptor.
type Movie struct {
	ID            ID     `json:"id"`
	Name          string `json:"name"`
	Cmd           string `json:"cmd"`
	Description   string `json:"description"`
	ScreenshotURI string `json:"screenshot_uri"`
	RatingIMDB    string `json:"rating_imdb"`
	Year          string `json:"year"`
	Time          Number `json:"time"`
	CategoryID    ID     `json:"category_id"`
}

// SeriesItem is a series descriptor; Series lists the season/episode numbers
// some portals attach to the item itself.
type SeriesItem struct {
	ID            ID       `json:"id"`
	Name          string   `json:"name"`
	Cmd           string   `json:"cmd"`
	ScreenshotURI string   `json:"screenshot_uri"`
	CategoryID    ID       `json:"category_id"`
	Series        []Number `json:"series"`
}

// Program is one EPG entry. Start/Stop are unix seconds.
type Program struct {
	ID        ID     `json:"id"`
	ChannelID ID     `json:"ch_id"`
	Name      string `json:"name"`
	Descr     string `json:"descr"`
	Start     Number `json:"start_timestamp"`
	Stop      Number `json:"stop_timestamp"`
	Category  string `json:"category"`
}
