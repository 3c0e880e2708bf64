package lichess_http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/charleschow/chess-tv/internal/events"
)

// Category is a lichess TV channel.
type Category string

const CategoryBest Category = "best"

// GameInfo is one record of the TV channel listing. Only ID drives the
// watcher; the rest is logged so the operator can see what is on.
type GameInfo struct {
	ID         events.GameID `json:"id"`
	Rated      bool          `json:"rated"`
	Variant    string        `json:"variant"`
	Speed      string        `json:"speed"`
	Perf       string        `json:"perf"`
	CreatedAt  int64         `json:"createdAt"`
	LastMoveAt int64         `json:"lastMoveAt"`
	Status     string        `json:"status"`
	Players    Players       `json:"players"`
	Moves      string        `json:"moves"`
	Clock      Clock         `json:"clock"`
}

type Players struct {
	White Player `json:"white"`
	Black Player `json:"black"`
}

type Player struct {
	User   User `json:"user"`
	Rating int  `json:"rating"`
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
	Flair string `json:"flair,omitempty"`
}

type Clock struct {
	Initial   int `json:"initial"`
	Increment int `json:"increment"`
	TotalTime int `json:"totalTime"`
}

// Label renders "GM Foo (2800) vs Bar (2750)".
func (g GameInfo) Label() string {
	return fmt.Sprintf("%s vs %s", g.Players.White.label(), g.Players.Black.label())
}

func (p Player) label() string {
	name := p.User.Name
	if name == "" {
		name = "?"
	}
	if p.User.Title != "" {
		name = p.User.Title + " " + name
	}
	return fmt.Sprintf("%s (%d)", name, p.Rating)
}

// LiveGames lists the games currently on the category's TV channel.
// Concurrent calls for the same category share one request.
func (c *Client) LiveGames(ctx context.Context, category Category) ([]GameInfo, error) {
	v, err, _ := c.sfGroup.Do("tv:"+string(category), func() (any, error) {
		path := fmt.Sprintf("/tv/%s?nb=%d", url.PathEscape(string(category)), c.listSize)
		body, err := c.get(ctx, c.apiURL, path, "application/x-ndjson")
		if err != nil {
			return nil, err
		}
		return parseGameList(body)
	})
	if err != nil {
		return nil, fmt.Errorf("live games %s: %w", category, err)
	}
	return v.([]GameInfo), nil
}

func parseGameList(body []byte) ([]GameInfo, error) {
	var games []GameInfo
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var g GameInfo
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("ndjson line %d: %w", line, err)
		}
		if g.ID == "" {
			return nil, fmt.Errorf("ndjson line %d: missing id", line)
		}
		games = append(games, g)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan ndjson: %w", err)
	}
	return games, nil
}

type replacementResp struct {
	ID   events.GameID `json:"id"`
	HTML string        `json:"html"`
}

// Replacement asks for one game to show instead of anchor, never one of
// exclude.
func (c *Client) Replacement(ctx context.Context, category Category, anchor events.GameID, exclude []events.GameID) (events.GameID, error) {
	q := url.Values{}
	for _, id := range exclude {
		q.Add("exclude", string(id))
	}
	path := fmt.Sprintf("/games/%s/replacement/%s", url.PathEscape(string(category)), url.PathEscape(string(anchor)))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	body, err := c.get(ctx, c.siteURL, path, "application/json")
	if err != nil {
		return "", fmt.Errorf("replacement for %s: %w", anchor, err)
	}

	var r replacementResp
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("replacement for %s: decode: %w", anchor, err)
	}
	if r.ID == "" {
		return "", fmt.Errorf("replacement for %s: empty id (body %s)", anchor, strconv.Quote(string(body)))
	}
	return r.ID, nil
}
