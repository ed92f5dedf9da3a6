// Package zakarpattia fetches the outage schedule announcement published by
// Zakarpattia oblenergo.
package zakarpattia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"outagebot/internal/outage"
	logx "outagebot/pkg/logx"
)

const (
	ProviderName = "Zakarpattia"

	DefaultBaseURL = "https://api-outage-zakarpat-energy.inneti.net/api/options"
	OptionKey      = "pw_gpv_nek_comand"

	siteOrigin     = "https://outage.zakarpat.energy"
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 4 << 20
)

var ErrOptionMissing = errors.New("option not found in response")

type Options struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
	Log     logx.Logger
}

// Fetcher implements outage.Fetcher for the Zakarpattia options API.
type Fetcher struct {
	baseURL string
	client  *http.Client
	log     logx.Logger
}

var _ outage.Fetcher = (*Fetcher)(nil)

func New(opts Options) *Fetcher {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{baseURL: base, client: client, log: log}
}

// URL is the request URL including the option key query.
func (f *Fetcher) URL() string {
	q := url.Values{}
	q.Set("option_key", OptionKey)
	return f.baseURL + "?" + q.Encode()
}

type optionsResponse struct {
	Members []member `json:"hydra:member"`
}

type member struct {
	ID        json.RawMessage `json:"id"`
	OptionKey string          `json:"option_key"`
	Data      string          `json:"data"`
}

// Fetch downloads the option and returns its paragraphs in the content normal form.
func (f *Fetcher) Fetch(ctx context.Context, provider string) (outage.RawContent, error) {
	if provider != "" && !strings.EqualFold(provider, ProviderName) {
		return outage.RawContent{}, fmt.Errorf("%w: unsupported provider %q", outage.ErrFetch, provider)
	}
	src := f.URL()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return outage.RawContent{}, fmt.Errorf("%w: build request: %w", outage.ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Origin", siteOrigin)
	req.Header.Set("Referer", siteOrigin+"/")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return outage.RawContent{}, fmt.Errorf("%w: %w", outage.ErrFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return outage.RawContent{}, fmt.Errorf("%w: unexpected status %d", outage.ErrFetch, resp.StatusCode)
	}

	var body optionsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return outage.RawContent{}, fmt.Errorf("%w: decode response: %w", outage.ErrMalformedContent, err)
	}

	m, ok := findOption(body.Members)
	if !ok {
		return outage.RawContent{}, fmt.Errorf("%w: %w: %s", outage.ErrMalformedContent, ErrOptionMissing, OptionKey)
	}

	paragraphs, err := Paragraphs(m.Data)
	if err != nil {
		return outage.RawContent{}, fmt.Errorf("%w: parse html: %w", outage.ErrMalformedContent, err)
	}
	f.log.Debug("parsed outage info", logx.String("provider", ProviderName), logx.Int("paragraphs", len(paragraphs)))

	meta := map[string]string{
		"status":     strconv.Itoa(resp.StatusCode),
		"paragraphs": strconv.Itoa(len(paragraphs)),
	}
	if id := strings.Trim(string(m.ID), `"`); id != "" && id != "null" {
		meta["member_id"] = id
	}
	return outage.RawContent{
		SourceURL: src,
		Text:      outage.JoinParagraphs(paragraphs),
		Metadata:  meta,
	}, nil
}

func findOption(members []member) (member, bool) {
	for _, m := range members {
		if m.OptionKey == OptionKey {
			return m, true
		}
	}
	return member{}, false
}

// Paragraphs returns the whitespace-normalized text of every <p> in html,
// skipping empty ones.
func Paragraphs(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	var out []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text != "" {
			out = append(out, text)
		}
	})
	return out, nil
}
