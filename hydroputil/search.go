/*
Copyright © 2024 the hydropot authors.
This file is part of hydropot.

hydropot is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

hydropot is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with hydropot.  If not, see <http://www.gnu.org/licenses/>.
*/

package hydroputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoGranules is returned when a search finds no data.
var ErrNoGranules = errors.New("no granules found")

// DefaultCMR is the NASA Common Metadata Repository granule search
// endpoint.
const DefaultCMR = "https://cmr.earthdata.nasa.gov/search/granules.json"

// dataRel is the link relation of granule data files.
const dataRel = "http://esipfed.org/ns/fedsearch/1.1/data#"

// Query specifies a granule search.
type Query struct {
	// Endpoint is the CMR granule search URL. The default is DefaultCMR.
	Endpoint string

	ShortName string
	Version   string

	// BoundingBox optionally restricts the search to west, south,
	// east, north in degrees.
	BoundingBox []float64

	// Limit is the maximum number of granules returned.
	Limit int
}

// Granule is a single file found by a search.
type Granule struct {
	ID    string
	Title string
	Start string
	// Size is the size in megabytes reported by the catalog.
	Size float64
	URLs []string
}

type cmrFeed struct {
	Feed struct {
		Entry []struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			TimeStart   string `json:"time_start"`
			GranuleSize string `json:"granule_size"`
			Links       []struct {
				Href      string `json:"href"`
				Rel       string `json:"rel"`
				Inherited bool   `json:"inherited"`
			} `json:"links"`
		} `json:"entry"`
	} `json:"feed"`
}

func (q Query) url() (string, error) {
	endpoint := q.Endpoint
	if endpoint == "" {
		endpoint = DefaultCMR
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("hydropot: search endpoint: %v", err)
	}
	if q.ShortName == "" {
		return "", fmt.Errorf("hydropot: a search needs a product short name")
	}
	v := u.Query()
	v.Set("short_name", q.ShortName)
	if q.Version != "" {
		v.Set("version", q.Version)
	}
	if len(q.BoundingBox) > 0 {
		if len(q.BoundingBox) != 4 {
			return "", fmt.Errorf("hydropot: search bounding box must have 4 values but has %d", len(q.BoundingBox))
		}
		s := make([]string, 4)
		for i, b := range q.BoundingBox {
			s[i] = strconv.FormatFloat(b, 'g', -1, 64)
		}
		v.Set("bounding_box", strings.Join(s, ","))
	}
	if q.Limit > 0 {
		v.Set("page_size", strconv.Itoa(q.Limit))
	}
	v.Set("sort_key", "-start_date")
	u.RawQuery = v.Encode()
	return u.String(), nil
}

// SearchGranules searches the CMR for granules matching q and returns
// them with their data URLs. An empty result returns ErrNoGranules.
func SearchGranules(ctx context.Context, client *http.Client, q Query) ([]Granule, error) {
	rawurl, err := q.url()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("hydropot: searching granules: %v", err)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hydropot: searching granules: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("hydropot: searching granules: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var feed cmrFeed
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("hydropot: decoding search results: %v", err)
	}

	var o []Granule
	for _, e := range feed.Feed.Entry {
		g := Granule{ID: e.ID, Title: e.Title, Start: e.TimeStart}
		g.Size, _ = strconv.ParseFloat(e.GranuleSize, 64)
		for _, l := range e.Links {
			if l.Rel == dataRel && !l.Inherited {
				g.URLs = append(g.URLs, l.Href)
			}
		}
		if len(g.URLs) == 0 {
			continue
		}
		o = append(o, g)
	}
	if len(o) == 0 {
		return nil, fmt.Errorf("hydropot: %s version %s: %w", q.ShortName, q.Version, ErrNoGranules)
	}
	return o, nil
}

// DataURL returns the first NetCDF data URL among the granules.
func DataURL(granules []Granule) (string, error) {
	for _, g := range granules {
		for _, u := range g.URLs {
			if strings.HasSuffix(strings.ToLower(u), ".nc") {
				return u, nil
			}
		}
	}
	return "", fmt.Errorf("hydropot: no NetCDF data file among the granules: %w", ErrNoGranules)
}
