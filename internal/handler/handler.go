// Package handler provides the HTTP API of the blog accounts service.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/prn-tf/blog-accounts/internal/repository"
	"github.com/prn-tf/blog-accounts/internal/validation"
)

// Pagination defaults.
const (
	defaultPageSize = 20
	maxPageSize     = 2000
)

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// decodeJSON decodes the request body into v and validates it.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &validation.Error{Fields: []validation.FieldError{{Field: "request", Message: "Invalid"}}}
	}
	return validation.Validate(v)
}

// readText reads a plain-text request body.
func readText(r *http.Request) (string, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", &validation.Error{Fields: []validation.FieldError{{Field: "request", Message: "Size"}}}
		}
		return "", err
	}
	return string(body), nil
}

// pageRequest is a zero-based page of a listing.
type pageRequest struct {
	Page int
	Size int
}

// parsePage reads the page and size query parameters.
func parsePage(r *http.Request) pageRequest {
	q := r.URL.Query()
	p := pageRequest{Size: defaultPageSize}
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("size")); err == nil && v > 0 {
		p.Size = min(v, maxPageSize)
	}
	return p
}

// listOptions converts the page to repository options.
func (p pageRequest) listOptions() repository.ListOptions {
	return repository.ListOptions{Offset: p.Page * p.Size, Limit: p.Size}
}

// writePaginationHeaders sets X-Total-Count and an RFC5988 Link header.
func writePaginationHeaders(w http.ResponseWriter, r *http.Request, p pageRequest, total int64) {
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))

	lastPage := 0
	if total > 0 {
		lastPage = int((total - 1) / int64(p.Size))
	}

	link := func(page int, rel string) string {
		q := url.Values{}
		for k, v := range r.URL.Query() {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("size", strconv.Itoa(p.Size))
		return fmt.Sprintf(`<%s?%s>; rel="%s"`, r.URL.Path, q.Encode(), rel)
	}

	var links []string
	if p.Page+1 <= lastPage {
		links = append(links, link(p.Page+1, "next"))
	}
	if p.Page > 0 {
		links = append(links, link(p.Page-1, "prev"))
	}
	links = append(links, link(lastPage, "last"), link(0, "first"))
	w.Header().Set("Link", strings.Join(links, ","))
}

// writeAlert sets the headers the web client shows as a notification.
func writeAlert(w http.ResponseWriter, key, param string) {
	w.Header().Set("X-blogApp-alert", key)
	w.Header().Set("X-blogApp-params", param)
}
