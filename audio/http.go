package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/akinalp/stagecast/pkg/lyrics"
)

// maxLyricsSize, indirilecek lyric dosyası için üst sınır.
const maxLyricsSize = 1 << 20

// HTTPProber, backing track'i HTTP üzerinden probe eder. Sadece ilk frame'e
// kadar okunur; süre Content-Length ile tahmin edilir.
type HTTPProber struct {
	Client *http.Client
}

// NewHTTPProber, verilen timeout'lu bir HTTPProber oluşturur.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{Client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProber) Probe(ctx context.Context, url string) (*MP3Info, error) {
	resp, err := get(ctx, p.Client, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return ProbeMP3(resp.Body, resp.ContentLength)
}

// HTTPLyricsFetcher, LRC dosyalarını HTTP ile indirip parse eder.
type HTTPLyricsFetcher struct {
	Client *http.Client
}

// NewHTTPLyricsFetcher, verilen timeout'lu bir HTTPLyricsFetcher oluşturur.
func NewHTTPLyricsFetcher(timeout time.Duration) *HTTPLyricsFetcher {
	return &HTTPLyricsFetcher{Client: &http.Client{Timeout: timeout}}
}

// Fetch, url'deki lyric dosyasını indirir. Boş url boş sheet demektir.
func (f *HTTPLyricsFetcher) Fetch(ctx context.Context, url string) (*lyrics.Sheet, error) {
	if url == "" {
		return lyrics.FromLines(nil), nil
	}

	resp, err := get(ctx, f.Client, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return lyrics.Parse(io.LimitReader(resp.Body, maxLyricsSize))
}

func get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}
	return resp, nil
}
