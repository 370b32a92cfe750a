package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	apperrors "github.com/nijaru/scriptparser/errors"
	"github.com/nijaru/scriptparser/models"
	"github.com/pkg/errors"
)

const maxPageSize = 8 << 20

var (
	videoIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/video/(\d+)`),
		regexp.MustCompile(`/share/video/(\d+)`),
		regexp.MustCompile(`video[_/=](\d+)`),
		regexp.MustCompile(`(\d{15,})`),
	}
	routerDataPattern = regexp.MustCompile(`(?s)window\._ROUTER_DATA\s*=\s*(.*?)</script>`)
)

// Douyin extracts videos from douyin share links by reading the router
// payload embedded in the mobile share page.
type Douyin struct {
	client      *http.Client
	userAgent   string
	pageBaseURL string
}

var _ Extractor = (*Douyin)(nil)

func NewDouyin(client *http.Client, userAgent, pageBaseURL string) *Douyin {
	if client == nil {
		client = http.DefaultClient
	}
	return &Douyin{
		client:      client,
		userAgent:   userAgent,
		pageBaseURL: strings.TrimRight(pageBaseURL, "/"),
	}
}

type routerData struct {
	LoaderData map[string]json.RawMessage `json:"loaderData"`
}

type videoPage struct {
	VideoInfoRes struct {
		ItemList []videoItem `json:"item_list"`
	} `json:"videoInfoRes"`
}

type videoItem struct {
	AwemeID string `json:"aweme_id"`
	Desc    string `json:"desc"`
	Video   struct {
		PlayAddr struct {
			URLList []string `json:"url_list"`
		} `json:"play_addr"`
	} `json:"video"`
}

func (d *Douyin) Extract(ctx context.Context, shareURL string) (*models.VideoDescriptor, error) {
	const op = "Douyin.Extract"

	finalURL, _, err := d.fetch(ctx, shareURL)
	if err != nil {
		return nil, apperrors.LinkResolution(op, err, "failed to follow share link")
	}

	videoID := extractVideoID(finalURL)
	if videoID == "" {
		return nil, apperrors.LinkResolution(op, nil, fmt.Sprintf("no video id in %s", finalURL))
	}

	_, page, err := d.fetch(ctx, d.pageBaseURL+"/share/video/"+url.PathEscape(videoID))
	if err != nil {
		return nil, apperrors.LinkResolution(op, err, "failed to fetch video page")
	}

	item, err := parseVideoPage(page)
	if err != nil {
		return nil, apperrors.LinkResolution(op, err, "failed to parse video page")
	}

	if item.AwemeID != "" {
		videoID = item.AwemeID
	}

	return &models.VideoDescriptor{
		VideoID:  videoID,
		Platform: models.PlatformDouyin,
		Title:    cleanTitle(item.Desc, "douyin_"+videoID),
		MediaURL: strings.ReplaceAll(item.Video.PlayAddr.URLList[0], "playwm", "play"),
	}, nil
}

// fetch GETs rawURL following redirects and returns the final URL and body.
func (d *Douyin) fetch(ctx context.Context, rawURL string) (*url.URL, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "build request")
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "GET %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, errors.Errorf("GET %s: http %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, nil, errors.Wrap(err, "read body")
	}

	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	return final, body, nil
}

func extractVideoID(u *url.URL) string {
	target := u.Path
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	for _, pattern := range videoIDPatterns {
		if m := pattern.FindStringSubmatch(target); m != nil {
			return m[1]
		}
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	return segments[len(segments)-1]
}

func parseVideoPage(page []byte) (*videoItem, error) {
	m := routerDataPattern.FindSubmatch(page)
	if m == nil {
		return nil, errors.New("router data not found in page")
	}
	payload := strings.TrimSpace(string(m[1]))
	payload = strings.TrimSpace(strings.TrimSuffix(payload, ";"))

	var data routerData
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, errors.Wrap(err, "invalid JSON in router data")
	}

	raw, ok := data.LoaderData["video_(id)/page"]
	if !ok {
		raw, ok = data.LoaderData["note_(id)/page"]
	}
	if !ok {
		return nil, errors.New("missing required fields: page data")
	}

	var vp videoPage
	if err := json.Unmarshal(raw, &vp); err != nil {
		return nil, errors.Wrap(err, "invalid JSON in page data")
	}
	if len(vp.VideoInfoRes.ItemList) == 0 {
		return nil, errors.New("missing required fields: item_list")
	}

	item := vp.VideoInfoRes.ItemList[0]
	if len(item.Video.PlayAddr.URLList) == 0 || item.Video.PlayAddr.URLList[0] == "" {
		return nil, errors.New("missing required fields: play_addr")
	}
	return &item, nil
}
