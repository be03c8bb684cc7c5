package query

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// ParseRequest reads listing parameters from a raw URL query:
//
//	?page=2&itemsPerPage=20&search=smith
//	&filter[createdAt]=$gte:2024-01-01;$lte:2024-12-31
//	&sort[createdAt]=desc&sort[name]=asc
//
// Pairs are split on "&" only so ";" may appear unescaped inside filter values.
// Sort order follows the order of the sort parameters.
func ParseRequest(rawQuery string) (Request, error) {
	req := NewRequest()

	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")

		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return Request{}, &models.ValidationError{Field: rawKey, Message: "malformed query parameter", Err: err}
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return Request{}, &models.ValidationError{Field: key, Message: "malformed query parameter", Err: err}
		}

		switch {
		case key == "page":
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				req.Page = n
			}
		case key == "itemsPerPage":
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				req.ItemsPerPage = n
			}
		case key == "search":
			req.Search = value
		case strings.HasPrefix(key, "filter[") && strings.HasSuffix(key, "]"):
			if req.Filter == nil {
				req.Filter = make(map[string]string)
			}
			field := key[len("filter[") : len(key)-1]
			if prev, ok := req.Filter[field]; ok && prev != "" {
				value = prev + ";" + value
			}
			req.Filter[field] = value
		case strings.HasPrefix(key, "sort[") && strings.HasSuffix(key, "]"):
			dir, ok := ParseDirection(value)
			if !ok {
				continue
			}
			req.Sort = append(req.Sort, SortField{Path: key[len("sort[") : len(key)-1], Direction: dir})
		}
	}

	return req, nil
}
