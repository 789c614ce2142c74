package supabase

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/boddenberg/sso-sync/internal/port"
)

// ============================================================
// Query-string and body helpers
// ============================================================

// encodeQuery renders a port.Query as PostgREST query parameters.
func encodeQuery(q port.Query) url.Values {
	v := url.Values{}
	if len(q.Columns) > 0 {
		v.Set("select", strings.Join(q.Columns, ","))
	} else {
		v.Set("select", "*")
	}
	addFilters(v, q.Filters)
	if q.OrderBy != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		v.Set("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func addFilters(v url.Values, filters []port.Filter) {
	for _, f := range filters {
		v.Add(f.Column, "eq."+f.Value)
	}
}

// decodeRows decodes a PostgREST array keeping numbers exact.
func decodeRows(body []byte) ([]port.Row, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []port.Row{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rows []port.Row
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []port.Row{}
	}
	return rows, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
