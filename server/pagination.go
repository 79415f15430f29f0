package server

import (
	"net/http"
	"strconv"

	"github.com/mr-tron/base58"

	"github.com/teranos/croplink/errors"
)

// page is a decoded offset/limit window.
type page struct {
	offset int
	size   int
}

// encodePageToken renders a skip offset as an opaque token.
func encodePageToken(offset int) string {
	return base58.Encode([]byte(strconv.Itoa(offset)))
}

// decodePageToken parses a token produced by encodePageToken. An empty
// token is the first page.
func decodePageToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base58.Decode(token)
	if err != nil {
		return 0, errors.NewInvalidRequestError("malformed page token")
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, errors.NewInvalidRequestError("malformed page token")
	}
	return offset, nil
}

// parsePage reads page_token and page_size.
func parsePage(r *http.Request) (page, error) {
	offset, err := decodePageToken(r.URL.Query().Get("page_token"))
	if err != nil {
		return page{}, err
	}
	return page{
		offset: offset,
		size:   parseIntQueryParam(r, "page_size", defaultPageSize, 1, maxPageSize),
	}, nil
}

// next returns the token for the page after one holding n items of total,
// or "" on the last page.
func (p page) next(n, total int) string {
	if p.offset+n >= total || n == 0 {
		return ""
	}
	return encodePageToken(p.offset + n)
}
