package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxDownloadSize caps a single workbook or landing page download.
const maxDownloadSize = 64 << 20

// Source yields the raw bytes of one workbook.
type Source interface {
	// Name identifies the source on jobs and ingestion runs.
	Name() string
	Fetch(ctx context.Context) ([]byte, error)
}

// URLSource downloads the workbook over HTTP. When the URL answers with an
// HTML page, the first link to an .xlsx file on it is followed instead.
type URLSource struct {
	URL    string
	Client *http.Client
}

func NewURLSource(rawURL string, client *http.Client) *URLSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &URLSource{URL: rawURL, Client: client}
}

func (s *URLSource) Name() string {
	return s.URL
}

func (s *URLSource) Fetch(ctx context.Context) ([]byte, error) {
	body, final, contentType, err := s.get(ctx, s.URL)
	if err != nil {
		return nil, err
	}
	if !isHTML(contentType, body) {
		return body, nil
	}

	link, err := findWorkbookLink(body, final)
	if err != nil {
		return nil, err
	}
	body, _, _, err = s.get(ctx, link)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *URLSource) get(ctx context.Context, rawURL string) ([]byte, *url.URL, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet,text/html;q=0.9,*/*;q=0.8")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, nil, "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, "", fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, nil, "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	return body, resp.Request.URL, resp.Header.Get("Content-Type"), nil
}

// xlsx files are zip archives and always start with "PK".
func isHTML(contentType string, body []byte) bool {
	if bytes.HasPrefix(body, []byte("PK")) {
		return false
	}
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("<"))
}

func findWorkbookLink(page []byte, base *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse landing page: %w", err)
	}

	var link string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		if strings.HasSuffix(strings.ToLower(ref.Path), ".xlsx") {
			if base != nil {
				ref = base.ResolveReference(ref)
			}
			link = ref.String()
			return false
		}
		return true
	})

	if link == "" {
		return "", fmt.Errorf("no .xlsx link on landing page")
	}
	return link, nil
}

// BytesSource is an uploaded workbook.
type BytesSource struct {
	Filename string
	Data     []byte
}

func (s *BytesSource) Name() string {
	return "upload:" + s.Filename
}

func (s *BytesSource) Fetch(context.Context) ([]byte, error) {
	return s.Data, nil
}
